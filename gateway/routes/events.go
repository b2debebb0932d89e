package routes

import (
	"net/http"
	"strconv"

	"opensky/storage/index"
)

type eventResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Attrs     string `json:"attributes,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (h *Handlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeJSON(w, http.StatusOK, []eventResponse{})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	var (
		records []index.EventRecord
		err     error
	)
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		records, err = h.index.ListByType(eventType, limit)
	} else {
		records, err = h.index.ListRecent(limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, record := range records {
		out = append(out, eventResponse{
			ID:        record.ID.String(),
			Type:      record.Type,
			Attrs:     record.Attributes,
			CreatedAt: record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
