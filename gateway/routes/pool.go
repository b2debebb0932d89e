package routes

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opensky/native/pool"
)

type reserveResponse struct {
	ReserveID          uint64 `json:"reserveId"`
	UnderlyingAsset    string `json:"underlyingAsset"`
	SupplyIndex        string `json:"supplyIndex"`
	TotalBorrows       string `json:"totalBorrows"`
	TotalScaledSupply  string `json:"totalScaledSupply"`
	AvailableLiquidity string `json:"availableLiquidity"`
	TotalDeposits      string `json:"totalDeposits"`
	TreasuryFactorBps  uint64 `json:"treasuryFactorBps"`
	IsMoneyMarketOn    bool   `json:"isMoneyMarketOn"`
	LastUpdate         int64  `json:"lastUpdate"`
}

func reserveToResponse(eng *pool.Engine, reserve *pool.Reserve) (reserveResponse, error) {
	available, err := eng.AvailableLiquidity(reserve.ReserveID)
	if err != nil {
		return reserveResponse{}, err
	}
	deposits, err := eng.TotalDeposits(reserve.ReserveID)
	if err != nil {
		return reserveResponse{}, err
	}
	borrows, err := eng.TotalBorrowBalance(reserve.ReserveID)
	if err != nil {
		return reserveResponse{}, err
	}
	return reserveResponse{
		ReserveID:          reserve.ReserveID,
		UnderlyingAsset:    reserve.UnderlyingAsset,
		SupplyIndex:        formatBig(reserve.LastSupplyIndex),
		TotalBorrows:       formatBig(borrows),
		TotalScaledSupply:  formatBig(reserve.TotalScaledSupply),
		AvailableLiquidity: formatBig(available),
		TotalDeposits:      formatBig(deposits),
		TreasuryFactorBps:  reserve.TreasuryFactorBps,
		IsMoneyMarketOn:    reserve.IsMoneyMarketOn,
		LastUpdate:         reserve.LastUpdateTimestamp,
	}, nil
}

type loanResponse struct {
	LoanID            uint64 `json:"loanId"`
	ReserveID         uint64 `json:"reserveId"`
	Collection        string `json:"collection"`
	TokenID           uint64 `json:"tokenId"`
	Borrower          string `json:"borrower"`
	Owner             string `json:"owner"`
	Amount            string `json:"amount"`
	BorrowRate        string `json:"borrowRate"`
	InterestPerSecond string `json:"interestPerSecond"`
	BorrowBegin       int64  `json:"borrowBegin"`
	BorrowOverdueTime int64  `json:"borrowOverdueTime"`
	LiquidatableTime  int64  `json:"liquidatableTime"`
	Status            string `json:"status"`
	Interest          string `json:"interest"`
	Penalty           string `json:"penalty"`
}

func loanToResponse(eng *pool.Engine, loan *pool.Loan) (loanResponse, error) {
	status, err := eng.GetStatus(loan.LoanID)
	if err != nil {
		return loanResponse{}, err
	}
	interest, err := eng.GetBorrowInterest(loan.LoanID)
	if err != nil {
		return loanResponse{}, err
	}
	penalty, err := eng.GetPenalty(loan.LoanID)
	if err != nil {
		return loanResponse{}, err
	}
	return loanResponse{
		LoanID:            loan.LoanID,
		ReserveID:         loan.ReserveID,
		Collection:        loan.NFTAddress.String(),
		TokenID:           loan.TokenID,
		Borrower:          loan.Borrower.String(),
		Owner:             loan.Owner.String(),
		Amount:            formatBig(loan.Amount),
		BorrowRate:        formatBig(loan.BorrowRate),
		InterestPerSecond: formatBig(loan.InterestPerSecond),
		BorrowBegin:       loan.BorrowBegin,
		BorrowOverdueTime: loan.BorrowOverdueTime,
		LiquidatableTime:  loan.LiquidatableTime,
		Status:            status.String(),
		Interest:          formatBig(interest),
		Penalty:           formatBig(penalty),
	}, nil
}

type createReserveRequest struct {
	Caller            string `json:"caller"`
	UnderlyingAsset   string `json:"underlyingAsset"`
	TreasuryFactorBps uint64 `json:"treasuryFactorBps"`
}

func (h *Handlers) handleCreateReserve(w http.ResponseWriter, r *http.Request) {
	var req createReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	var created *pool.Reserve
	err = h.node.WithPool(func(eng *pool.Engine) error {
		reserve, err := eng.CreateReserve(caller, req.UnderlyingAsset, req.TreasuryFactorBps)
		if err != nil {
			return err
		}
		created = reserve
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"reserveId": created.ReserveID,
		"asset":     created.UnderlyingAsset,
	})
}

func (h *Handlers) handleListReserves(w http.ResponseWriter, r *http.Request) {
	var out []reserveResponse
	err := h.node.ViewPool(func(eng *pool.Engine) error {
		reserves, err := h.listReserves(eng)
		if err != nil {
			return err
		}
		out = reserves
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) listReserves(eng *pool.Engine) ([]reserveResponse, error) {
	out := []reserveResponse{}
	for id := uint64(1); ; id++ {
		reserve, err := eng.GetReserve(id)
		if err != nil {
			break
		}
		resp, err := reserveToResponse(eng, reserve)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (h *Handlers) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var out reserveResponse
	err = h.node.ViewPool(func(eng *pool.Engine) error {
		reserve, err := eng.GetReserve(id)
		if err != nil {
			return err
		}
		out, err = reserveToResponse(eng, reserve)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type depositRequest struct {
	Depositor  string `json:"depositor"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf,omitempty"`
}

func (h *Handlers) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		badRequest(w, "invalid depositor address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	onBehalfOf := depositor
	if req.OnBehalfOf != "" {
		if onBehalfOf, err = parseAddress(req.OnBehalfOf); err != nil {
			badRequest(w, "invalid onBehalfOf address")
			return
		}
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.Deposit(id, depositor, amount, onBehalfOf)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

type withdrawRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
	To     string `json:"to,omitempty"`
}

func (h *Handlers) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		badRequest(w, "invalid owner address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	to := owner
	if req.To != "" {
		if to, err = parseAddress(req.To); err != nil {
			badRequest(w, "invalid destination address")
			return
		}
	}
	err = h.node.WithPool(func(eng *pool.Engine) error {
		return eng.Withdraw(id, owner, amount, to)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (h *Handlers) handleRatePreview(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	amount := big.NewInt(0)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		if amount, err = parseAmount(raw); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	var rate *big.Int
	err = h.node.ViewPool(func(eng *pool.Engine) error {
		preview, err := eng.BorrowRatePreview(id, amount)
		if err != nil {
			return err
		}
		rate = preview
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrowRate": formatBig(rate)})
}

func (h *Handlers) handleDepositValue(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reserve id")
		return
	}
	owner, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, "invalid address")
		return
	}
	var value *big.Int
	err = h.node.ViewPool(func(eng *pool.Engine) error {
		v, err := eng.DepositValueOf(id, owner)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": formatBig(value)})
}
