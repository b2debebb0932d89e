package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opensky/native/pool"
)

type collateralRequest struct {
	Caller             string `json:"caller"`
	Collection         string `json:"collection"`
	Name               string `json:"name"`
	Enabled            bool   `json:"enabled"`
	MinBorrowDuration  int64  `json:"minBorrowDuration"`
	MaxBorrowDuration  int64  `json:"maxBorrowDuration"`
	ExtendableDuration int64  `json:"extendableDuration"`
	OverdueDuration    int64  `json:"overdueDuration"`
}

func (h *Handlers) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
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
	cfg := pool.CollateralConfig{
		NFTAddress:         collection,
		Name:               req.Name,
		Enabled:            req.Enabled,
		MinBorrowDuration:  req.MinBorrowDuration,
		MaxBorrowDuration:  req.MaxBorrowDuration,
		ExtendableDuration: req.ExtendableDuration,
		OverdueDuration:    req.OverdueDuration,
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.SetCollateral(caller, cfg)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

type removeCollateralRequest struct {
	Caller string `json:"caller"`
}

func (h *Handlers) handleRemoveCollateral(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, "invalid collection address")
		return
	}
	var req removeCollateralRequest
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
		return eng.RemoveCollateral(caller, collection)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type treasuryFactorRequest struct {
	Caller string `json:"caller"`
	Bps    uint64 `json:"bps"`
}

func (h *Handlers) handleSetTreasuryFactor(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var req treasuryFactorRequest
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
		return eng.SetTreasuryFactor(caller, id, req.Bps)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type treasuryWithdrawRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

func (h *Handlers) handleWithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var req treasuryWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		badRequest(w, "invalid recipient address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.WithdrawTreasury(caller, id, amount, to)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type moneyMarketRequest struct {
	Caller string `json:"caller"`
	Open   bool   `json:"open"`
}

func (h *Handlers) handleMoneyMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var req moneyMarketRequest
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
		if req.Open {
			return eng.OpenMoneyMarket(caller, id)
		}
		return eng.CloseMoneyMarket(caller, id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "toggled"})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (h *Handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.Module == "" {
		badRequest(w, "module must not be empty")
		return
	}
	h.node.SetPaused(req.Module, req.Paused)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module": req.Module,
		"paused": req.Paused,
	})
}

type grantRoleRequest struct {
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (h *Handlers) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req grantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		badRequest(w, "invalid address")
		return
	}
	if req.Role == "" {
		badRequest(w, "role must not be empty")
		return
	}
	h.node.Roles().Grant(req.Role, addr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

type oraclePriceRequest struct {
	Collection string `json:"collection"`
	Price      string `json:"price"`
}

func (h *Handlers) handleSetOraclePrice(w http.ResponseWriter, r *http.Request) {
	var req oraclePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	collection, err := parseAddress(req.Collection)
	if err != nil {
		badRequest(w, "invalid collection address")
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h.node.Oracle().SetPrice(collection, price)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type faucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (h *Handlers) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		badRequest(w, "invalid address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.node.Credit(addr, req.Asset, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}

type yieldRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (h *Handlers) handleAccrueYield(w http.ResponseWriter, r *http.Request) {
	var req yieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.node.AccrueMoneyMarketYield(req.Asset, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accrued"})
}

func (h *Handlers) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, "invalid address")
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		badRequest(w, "asset query parameter required")
		return
	}
	balance, err := h.node.AccountBalance(addr, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": formatBig(balance)})
}
