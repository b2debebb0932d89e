package bespoke

import (
	"math/big"
	"strconv"
	"strings"

	"opensky/core/types"
	"opensky/crypto"
)

const (
	EventTypeOfferTaken     = "bespoke.offer.taken"
	EventTypeLoanRepaid     = "bespoke.loan.repaid"
	EventTypeLoanForclosed  = "bespoke.loan.forclosed"
	EventTypeOffersCanceled = "bespoke.offers.canceled"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatID(v uint64) string { return strconv.FormatUint(v, 10) }

func formatAddr(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func loanAttributes(loan *Loan) map[string]string {
	if loan == nil {
		return map[string]string{}
	}
	return map[string]string{
		"loanId":   formatID(loan.LoanID),
		"nft":      formatAddr(loan.NFTAddress),
		"tokenId":  formatID(loan.TokenID),
		"borrower": formatAddr(loan.Borrower),
		"lender":   formatAddr(loan.Lender),
		"amount":   formatAmount(loan.Amount),
		"currency": loan.Currency,
		"status":   loan.Status.String(),
	}
}

// OfferTaken is emitted when a signed borrow offer is matched and the loan
// record minted.
type OfferTaken struct {
	Loan  *Loan
	Nonce uint64
}

func (OfferTaken) EventType() string { return EventTypeOfferTaken }

func (e OfferTaken) Event() *types.Event {
	attrs := loanAttributes(e.Loan)
	attrs["nonce"] = formatID(e.Nonce)
	return &types.Event{Type: EventTypeOfferTaken, Attributes: attrs}
}

// LoanRepaid is emitted after the borrower side settles and the collateral
// is released.
type LoanRepaid struct {
	Loan    *Loan
	Amount  *big.Int
	Penalty *big.Int
}

func (LoanRepaid) EventType() string { return EventTypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	attrs := loanAttributes(e.Loan)
	attrs["repaid"] = formatAmount(e.Amount)
	attrs["penalty"] = formatAmount(e.Penalty)
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// LoanForclosed is emitted when the lender takes the collateral on default.
type LoanForclosed struct {
	Loan *Loan
}

func (LoanForclosed) EventType() string { return EventTypeLoanForclosed }

func (e LoanForclosed) Event() *types.Event {
	return &types.Event{Type: EventTypeLoanForclosed, Attributes: loanAttributes(e.Loan)}
}

// OffersCanceled is emitted when a signer invalidates outstanding offers,
// either by raising the nonce floor or burning individual nonces.
type OffersCanceled struct {
	Signer     crypto.Address
	NonceFloor uint64
	Nonces     []uint64
}

func (OffersCanceled) EventType() string { return EventTypeOffersCanceled }

func (e OffersCanceled) Event() *types.Event {
	attrs := map[string]string{"signer": formatAddr(e.Signer)}
	if e.NonceFloor > 0 {
		attrs["nonceFloor"] = formatID(e.NonceFloor)
	}
	if len(e.Nonces) > 0 {
		parts := make([]string, len(e.Nonces))
		for i, n := range e.Nonces {
			parts[i] = formatID(n)
		}
		attrs["nonces"] = strings.Join(parts, ",")
	}
	return &types.Event{Type: EventTypeOffersCanceled, Attributes: attrs}
}
