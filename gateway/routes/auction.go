package routes

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opensky/native/auction"
)

type auctionResponse struct {
	AuctionID    uint64 `json:"auctionId"`
	Collection   string `json:"collection"`
	TokenID      uint64 `json:"tokenId"`
	Currency     string `json:"currency"`
	Seller       string `json:"seller"`
	ReservePrice string `json:"reservePrice"`
	CurrentPrice string `json:"currentPrice,omitempty"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime,omitempty"`
	Buyer        string `json:"buyer,omitempty"`
	Status       string `json:"status"`
}

func auctionToResponse(eng *auction.Engine, record *auction.Auction) auctionResponse {
	resp := auctionResponse{
		AuctionID:    record.AuctionID,
		Collection:   record.NFTAddress.String(),
		TokenID:      record.TokenID,
		Currency:     record.UnderlyingAsset,
		Seller:       record.TokenOwner.String(),
		ReservePrice: formatBig(record.ReservePrice),
		StartTime:    record.StartTime,
		EndTime:      record.EndTime,
		Status:       record.Status.String(),
	}
	if !record.Buyer.IsZero() {
		resp.Buyer = record.Buyer.String()
	}
	if record.Status == auction.StatusLive {
		if price, err := eng.GetPrice(record.AuctionID); err == nil {
			resp.CurrentPrice = formatBig(price)
		}
	}
	return resp
}

type createAuctionRequest struct {
	Caller       string `json:"caller"`
	Collection   string `json:"collection"`
	TokenID      uint64 `json:"tokenId"`
	Currency     string `json:"currency"`
	ReservePrice string `json:"reservePrice"`
}

func (h *Handlers) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	collection, err := parseAddress(req.Collection)
	if err != nil {
		badRequest(w, "invalid collection address")
		return
	}
	reservePrice, err := parseAmount(req.ReservePrice)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var out auctionResponse
	err = h.node.WithAuction(func(eng *auction.Engine) error {
		record, err := eng.CreateAuction(caller, collection, req.TokenID, req.Currency, reservePrice)
		if err != nil {
			return err
		}
		out = auctionToResponse(eng, record)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handlers) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid auction id")
		return
	}
	var out auctionResponse
	err = h.node.ViewAuction(func(eng *auction.Engine) error {
		record, err := eng.GetAuction(id)
		if err != nil {
			return err
		}
		out = auctionToResponse(eng, record)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleAuctionPrice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid auction id")
		return
	}
	var price *big.Int
	err = h.node.ViewAuction(func(eng *auction.Engine) error {
		p, err := eng.GetPrice(id)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"price": formatBig(price)})
}

type buyAuctionRequest struct {
	Buyer string `json:"buyer"`
}

func (h *Handlers) handleBuyAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid auction id")
		return
	}
	var req buyAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		badRequest(w, "invalid buyer address")
		return
	}
	var paid *big.Int
	err = h.node.WithAuction(func(eng *auction.Engine) error {
		price, err := eng.Buy(id, buyer)
		if err != nil {
			return err
		}
		paid = price
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": formatBig(paid)})
}

type cancelAuctionRequest struct {
	Caller string `json:"caller"`
}

func (h *Handlers) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid auction id")
		return
	}
	var req cancelAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	err = h.node.WithAuction(func(eng *auction.Engine) error {
		return eng.CancelAuction(id, caller)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
