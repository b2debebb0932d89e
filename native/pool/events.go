package pool

import (
	"math/big"
	"strconv"
	"strings"

	"opensky/core/types"
	"opensky/crypto"
)

const (
	EventTypeReserveCreated         = "pool.reserve.created"
	EventTypeDeposited              = "pool.deposited"
	EventTypeWithdrawn              = "pool.withdrawn"
	EventTypeLoanMinted             = "pool.loan.minted"
	EventTypeLoanRepaid             = "pool.loan.repaid"
	EventTypeLoanExtended           = "pool.loan.extended"
	EventTypeLoanTransferred        = "pool.loan.transferred"
	EventTypeLoanLiquidationStart   = "pool.loan.liquidation_started"
	EventTypeLoanLiquidationSettled = "pool.loan.liquidation_settled"
	EventTypeFlashClaimed           = "pool.loan.flash_claimed"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

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

// ReserveCreated is emitted when governance registers a new asset pool.
type ReserveCreated struct {
	Reserve *Reserve
}

func (ReserveCreated) EventType() string { return EventTypeReserveCreated }

func (e ReserveCreated) Event() *types.Event {
	return &types.Event{Type: EventTypeReserveCreated, Attributes: map[string]string{
		"reserveId": formatID(e.Reserve.ReserveID),
		"asset":     e.Reserve.UnderlyingAsset,
	}}
}

// Deposited is emitted after liquidity enters a reserve.
type Deposited struct {
	ReserveID    uint64
	Depositor    crypto.Address
	OnBehalfOf   crypto.Address
	Amount       *big.Int
	MintedShares *big.Int
}

func (Deposited) EventType() string { return EventTypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{Type: EventTypeDeposited, Attributes: map[string]string{
		"reserveId":  formatID(e.ReserveID),
		"depositor":  formatAddr(e.Depositor),
		"onBehalfOf": formatAddr(e.OnBehalfOf),
		"amount":     formatAmount(e.Amount),
		"shares":     formatAmount(e.MintedShares),
	}}
}

// Withdrawn is emitted after liquidity leaves a reserve.
type Withdrawn struct {
	ReserveID    uint64
	Owner        crypto.Address
	To           crypto.Address
	Amount       *big.Int
	BurnedShares *big.Int
}

func (Withdrawn) EventType() string { return EventTypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"reserveId": formatID(e.ReserveID),
		"owner":     formatAddr(e.Owner),
		"to":        formatAddr(e.To),
		"amount":    formatAmount(e.Amount),
		"shares":    formatAmount(e.BurnedShares),
	}}
}

// LoanMinted is emitted when a borrow creates a new loan position.
type LoanMinted struct {
	Loan *Loan
}

func (LoanMinted) EventType() string { return EventTypeLoanMinted }

func (e LoanMinted) Event() *types.Event {
	return &types.Event{Type: EventTypeLoanMinted, Attributes: loanAttributes(e.Loan)}
}

// LoanRepaid is emitted after a loan settles through repayment.
type LoanRepaid struct {
	Loan    *Loan
	Payer   crypto.Address
	Amount  *big.Int
	Penalty *big.Int
}

func (LoanRepaid) EventType() string { return EventTypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	attrs := loanAttributes(e.Loan)
	attrs["payer"] = formatAddr(e.Payer)
	attrs["settled"] = formatAmount(e.Amount)
	attrs["penalty"] = formatAmount(e.Penalty)
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// LoanExtended is emitted when a loan rolls into a replacement position.
type LoanExtended struct {
	Old *Loan
	New *Loan
	Net *big.Int
}

func (LoanExtended) EventType() string { return EventTypeLoanExtended }

func (e LoanExtended) Event() *types.Event {
	attrs := loanAttributes(e.New)
	attrs["previousLoanId"] = formatID(e.Old.LoanID)
	attrs["net"] = formatAmount(e.Net)
	return &types.Event{Type: EventTypeLoanExtended, Attributes: attrs}
}

// LoanTransferred is emitted when the loan receipt changes hands.
type LoanTransferred struct {
	Loan *Loan
	From crypto.Address
	To   crypto.Address
}

func (LoanTransferred) EventType() string { return EventTypeLoanTransferred }

func (e LoanTransferred) Event() *types.Event {
	return &types.Event{Type: EventTypeLoanTransferred, Attributes: map[string]string{
		"loanId": formatID(e.Loan.LoanID),
		"from":   formatAddr(e.From),
		"to":     formatAddr(e.To),
	}}
}

// LoanLiquidationStarted is emitted when an operator force-transitions a loan.
type LoanLiquidationStarted struct {
	Loan     *Loan
	Operator crypto.Address
}

func (LoanLiquidationStarted) EventType() string { return EventTypeLoanLiquidationStart }

func (e LoanLiquidationStarted) Event() *types.Event {
	attrs := loanAttributes(e.Loan)
	attrs["operator"] = formatAddr(e.Operator)
	return &types.Event{Type: EventTypeLoanLiquidationStart, Attributes: attrs}
}

// LoanLiquidationEnded is emitted when a liquidating loan settles.
type LoanLiquidationEnded struct {
	Loan     *Loan
	Operator crypto.Address
	Amount   *big.Int
}

func (LoanLiquidationEnded) EventType() string { return EventTypeLoanLiquidationSettled }

func (e LoanLiquidationEnded) Event() *types.Event {
	attrs := loanAttributes(e.Loan)
	attrs["operator"] = formatAddr(e.Operator)
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: EventTypeLoanLiquidationSettled, Attributes: attrs}
}

// FlashClaimed is emitted after a successful flash claim round trip.
type FlashClaimed struct {
	Caller  crypto.Address
	LoanIDs []uint64
}

func (FlashClaimed) EventType() string { return EventTypeFlashClaimed }

func (e FlashClaimed) Event() *types.Event {
	ids := make([]string, 0, len(e.LoanIDs))
	for _, id := range e.LoanIDs {
		ids = append(ids, formatID(id))
	}
	return &types.Event{Type: EventTypeFlashClaimed, Attributes: map[string]string{
		"caller":  formatAddr(e.Caller),
		"loanIds": strings.Join(ids, ","),
	}}
}

func loanAttributes(l *Loan) map[string]string {
	if l == nil {
		return map[string]string{}
	}
	return map[string]string{
		"loanId":    formatID(l.LoanID),
		"reserveId": formatID(l.ReserveID),
		"nft":       formatAddr(l.NFTAddress),
		"tokenId":   formatID(l.TokenID),
		"borrower":  formatAddr(l.Borrower),
		"amount":    formatAmount(l.Amount),
		"status":    l.Status.String(),
	}
}
