package routes

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"opensky/native/bespoke"
)

type offerPayload struct {
	ReserveID         uint64 `json:"reserveId"`
	Collection        string `json:"collection"`
	TokenID           uint64 `json:"tokenId"`
	TokenAmount       uint64 `json:"tokenAmount"`
	Borrower          string `json:"borrower"`
	BorrowAmountMin   string `json:"borrowAmountMin"`
	BorrowAmountMax   string `json:"borrowAmountMax"`
	BorrowDurationMin int64  `json:"borrowDurationMin"`
	BorrowDurationMax int64  `json:"borrowDurationMax"`
	BorrowRate        string `json:"borrowRate"`
	Currency          string `json:"currency"`
	Nonce             uint64 `json:"nonce"`
	Deadline          int64  `json:"deadline"`
}

func (p offerPayload) toOffer() (bespoke.BorrowOffer, error) {
	borrower, err := parseAddress(p.Borrower)
	if err != nil {
		return bespoke.BorrowOffer{}, err
	}
	collection, err := parseAddress(p.Collection)
	if err != nil {
		return bespoke.BorrowOffer{}, err
	}
	amountMin, err := parseAmount(p.BorrowAmountMin)
	if err != nil {
		return bespoke.BorrowOffer{}, err
	}
	amountMax, err := parseAmount(p.BorrowAmountMax)
	if err != nil {
		return bespoke.BorrowOffer{}, err
	}
	rate, err := parseAmount(p.BorrowRate)
	if err != nil {
		return bespoke.BorrowOffer{}, err
	}
	return bespoke.BorrowOffer{
		ReserveID:         p.ReserveID,
		NFTAddress:        collection,
		TokenID:           p.TokenID,
		TokenAmount:       p.TokenAmount,
		Borrower:          borrower,
		BorrowAmountMin:   amountMin,
		BorrowAmountMax:   amountMax,
		BorrowDurationMin: p.BorrowDurationMin,
		BorrowDurationMax: p.BorrowDurationMax,
		BorrowRate:        rate,
		Currency:          p.Currency,
		Nonce:             p.Nonce,
		Deadline:          p.Deadline,
	}, nil
}

type bespokeLoanResponse struct {
	LoanID            uint64 `json:"loanId"`
	ReserveID         uint64 `json:"reserveId"`
	Collection        string `json:"collection"`
	TokenID           uint64 `json:"tokenId"`
	Borrower          string `json:"borrower"`
	Lender            string `json:"lender"`
	Amount            string `json:"amount"`
	BorrowRate        string `json:"borrowRate"`
	Currency          string `json:"currency"`
	BorrowBegin       int64  `json:"borrowBegin"`
	BorrowOverdueTime int64  `json:"borrowOverdueTime"`
	LiquidatableTime  int64  `json:"liquidatableTime"`
	Status            string `json:"status"`
}

func bespokeLoanToResponse(eng *bespoke.Engine, loan *bespoke.Loan) (bespokeLoanResponse, error) {
	status, err := eng.GetStatus(loan.LoanID)
	if err != nil {
		return bespokeLoanResponse{}, err
	}
	return bespokeLoanResponse{
		LoanID:            loan.LoanID,
		ReserveID:         loan.ReserveID,
		Collection:        loan.NFTAddress.String(),
		TokenID:           loan.TokenID,
		Borrower:          loan.Borrower.String(),
		Lender:            loan.Lender.String(),
		Amount:            formatBig(loan.Amount),
		BorrowRate:        formatBig(loan.BorrowRate),
		Currency:          loan.Currency,
		BorrowBegin:       loan.BorrowBegin,
		BorrowOverdueTime: loan.BorrowOverdueTime,
		LiquidatableTime:  loan.LiquidatableTime,
		Status:            status.String(),
	}, nil
}

type takeOfferRequest struct {
	Offer     offerPayload `json:"offer"`
	Signature string       `json:"signature"`
	Taker     string       `json:"taker"`
	Amount    string       `json:"amount"`
	Duration  int64        `json:"duration"`
}

func (h *Handlers) handleTakeOffer(w http.ResponseWriter, r *http.Request) {
	var req takeOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	offer, err := req.Offer.toOffer()
	if err != nil {
		badRequest(w, "invalid offer: "+err.Error())
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		badRequest(w, "signature must be hex encoded")
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		badRequest(w, "invalid taker address")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var out bespokeLoanResponse
	err = h.node.WithBespoke(func(eng *bespoke.Engine) error {
		loan, err := eng.TakeBorrowOffer(offer, sig, taker, amount, req.Duration)
		if err != nil {
			return err
		}
		out, err = bespokeLoanToResponse(eng, loan)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handlers) handleGetBespokeLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var out bespokeLoanResponse
	err = h.node.ViewBespoke(func(eng *bespoke.Engine) error {
		loan, err := eng.GetLoan(id)
		if err != nil {
			return err
		}
		out, err = bespokeLoanToResponse(eng, loan)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleBespokeRepay(w http.ResponseWriter, r *http.Request) {
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
	err = h.node.WithBespoke(func(eng *bespoke.Engine) error {
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

type forcloseRequest struct {
	Caller string `json:"caller"`
}

func (h *Handlers) handleForclose(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	var req forcloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		badRequest(w, "invalid caller address")
		return
	}
	err = h.node.WithBespoke(func(eng *bespoke.Engine) error {
		return eng.Forclose(id, caller)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "forclosed"})
}

type cancelAllOffersRequest struct {
	Signer   string `json:"signer"`
	MinNonce uint64 `json:"minNonce"`
}

func (h *Handlers) handleCancelAllOffers(w http.ResponseWriter, r *http.Request) {
	var req cancelAllOffersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	signer, err := parseAddress(req.Signer)
	if err != nil {
		badRequest(w, "invalid signer address")
		return
	}
	err = h.node.WithBespoke(func(eng *bespoke.Engine) error {
		return eng.CancelAllBorrowOffers(signer, req.MinNonce)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

type cancelOffersRequest struct {
	Signer string   `json:"signer"`
	Nonces []uint64 `json:"nonces"`
}

func (h *Handlers) handleCancelOffers(w http.ResponseWriter, r *http.Request) {
	var req cancelOffersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	signer, err := parseAddress(req.Signer)
	if err != nil {
		badRequest(w, "invalid signer address")
		return
	}
	if len(req.Nonces) == 0 {
		badRequest(w, "nonces must not be empty")
		return
	}
	err = h.node.WithBespoke(func(eng *bespoke.Engine) error {
		return eng.CancelMultipleBorrowOffers(signer, req.Nonces)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}
