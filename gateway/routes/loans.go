package routes

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opensky/native/pool"
)

type borrowRequest struct {
	ReserveID  uint64 `json:"reserveId"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
	Duration   int64  `json:"duration"`
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (h *Handlers) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		badRequest(w, "invalid borrower address")
		return
	}
	collection, err := parseAddress(req.Collection)
	if err != nil {
		badRequest(w, "invalid collection address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	onBehalfOf := borrower
	if req.OnBehalfOf != "" {
		if onBehalfOf, err = parseAddress(req.OnBehalfOf); err != nil {
			badRequest(w, "invalid onBehalfOf address")
			return
		}
	}
	var out loanResponse
	err = h.node.WithPool(func(eng *pool.Engine) error {
		loan, err := eng.Borrow(req.ReserveID, borrower, amount, req.Duration, collection, req.TokenID, onBehalfOf)
		if err != nil {
			return err
		}
		out, err = loanToResponse(eng, loan)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handlers) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var out loanResponse
	err = h.node.ViewPool(func(eng *pool.Engine) error {
		loan, err := eng.GetLoan(id)
		if err != nil {
			return err
		}
		out, err = loanToResponse(eng, loan)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type repayRequest struct {
	Payer string `json:"payer"`
}

func (h *Handlers) handleRepay(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req repayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	payer, err := parseAddress(req.Payer)
	if err != nil {
		badRequest(w, "invalid payer address")
		return
	}
	var repaid *big.Int
	err = h.node.WithPool(func(eng *pool.Engine) error {
		amount, err := eng.Repay(id, payer)
		if err != nil {
			return err
		}
		repaid = amount
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repaid": formatBig(repaid)})
}

type extendRequest struct {
	Caller     string `json:"caller"`
	Amount     string `json:"amount"`
	Duration   int64  `json:"duration"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (h *Handlers) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	onBehalfOf := caller
	if req.OnBehalfOf != "" {
		if onBehalfOf, err = parseAddress(req.OnBehalfOf); err != nil {
			badRequest(w, "invalid onBehalfOf address")
			return
		}
	}
	var out loanResponse
	err = h.node.WithPool(func(eng *pool.Engine) error {
		loan, err := eng.Extend(id, caller, amount, req.Duration, onBehalfOf)
		if err != nil {
			return err
		}
		out, err = loanToResponse(eng, loan)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type liquidationRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount,omitempty"`
}

func (h *Handlers) handleStartLiquidation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req liquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.StartLiquidation(id, caller)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidating"})
}

func (h *Handlers) handleEndLiquidation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req liquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.EndLiquidation(id, caller, amount)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Handlers) handleTransferLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		badRequest(w, "invalid source address")
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		badRequest(w, "invalid destination address")
		return
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.TransferLoan(id, from, to)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}
