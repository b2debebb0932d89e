package bespoke

import (
	"math/big"

	"opensky/crypto"
)

// LoanStatus enumerates the lifecycle of a bespoke loan. Unlike pooled loans
// there is no EXTENDABLE phase.
type LoanStatus uint8

const (
	LoanNone LoanStatus = iota
	LoanBorrowing
	LoanOverdue
	LoanLiquidatable
	LoanEnd
)

// String renders the status for events and API payloads.
func (s LoanStatus) String() string {
	switch s {
	case LoanBorrowing:
		return "BORROWING"
	case LoanOverdue:
		return "OVERDUE"
	case LoanLiquidatable:
		return "LIQUIDATABLE"
	case LoanEnd:
		return "END"
	default:
		return "NONE"
	}
}

// Loan is a settled bilateral position between a lender and a borrower. Two
// transferable receipts track the claims: the lender receipt collects
// repayment or the collateral on foreclosure, the borrower receipt reclaims
// the collateral on repayment.
type Loan struct {
	LoanID            uint64         `json:"loanId"`
	ReserveID         uint64         `json:"reserveId"`
	NFTAddress        crypto.Address `json:"nftAddress"`
	TokenID           uint64         `json:"tokenId"`
	TokenAmount       uint64         `json:"tokenAmount"`
	Borrower          crypto.Address `json:"borrower"`
	Lender            crypto.Address `json:"lender"`
	LenderReceipt     crypto.Address `json:"lenderReceipt"`
	BorrowerReceipt   crypto.Address `json:"borrowerReceipt"`
	Amount            *big.Int       `json:"amount"`
	BorrowRate        *big.Int       `json:"borrowRate"`
	InterestPerSecond *big.Int       `json:"interestPerSecond"`
	Currency          string         `json:"currency"`
	BorrowBegin       int64          `json:"borrowBegin"`
	BorrowDuration    int64          `json:"borrowDuration"`
	BorrowOverdueTime int64          `json:"borrowOverdueTime"`
	LiquidatableTime  int64          `json:"liquidatableTime"`
	BorrowEnd         int64          `json:"borrowEnd"`
	Status            LoanStatus     `json:"status"`
}

// StatusAt derives the lifecycle state at the given time. The terminal END
// state takes precedence; everything else is a pure function of the deadline
// fields.
func (l *Loan) StatusAt(now int64) LoanStatus {
	if l == nil {
		return LoanNone
	}
	if l.Status == LoanEnd || l.Status == LoanNone {
		return l.Status
	}
	switch {
	case now < l.BorrowOverdueTime:
		return LoanBorrowing
	case now < l.LiquidatableTime:
		return LoanOverdue
	default:
		return LoanLiquidatable
	}
}

// BorrowInterestAt returns the interest accrued between BorrowBegin and the
// given time.
func (l *Loan) BorrowInterestAt(now int64) *big.Int {
	if l == nil || l.InterestPerSecond == nil || now <= l.BorrowBegin {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(l.InterestPerSecond, big.NewInt(now-l.BorrowBegin))
	interest.Add(interest, halfRay)
	interest.Quo(interest, ray)
	return interest
}

// PenaltyAt returns the overdue fee owed on top of principal and interest.
func (l *Loan) PenaltyAt(now int64, overdueBps uint64) *big.Int {
	if l.StatusAt(now) != LoanOverdue || l.Amount == nil || overdueBps == 0 {
		return big.NewInt(0)
	}
	penalty := new(big.Int).Mul(l.Amount, new(big.Int).SetUint64(overdueBps))
	penalty.Add(penalty, big.NewInt(5_000))
	penalty.Quo(penalty, big.NewInt(10_000))
	return penalty
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	if l.BorrowRate != nil {
		clone.BorrowRate = new(big.Int).Set(l.BorrowRate)
	}
	if l.InterestPerSecond != nil {
		clone.InterestPerSecond = new(big.Int).Set(l.InterestPerSecond)
	}
	return &clone
}

var (
	ray     = mustBigInt("1000000000000000000000000000")
	halfRay = new(big.Int).Rsh(ray, 1)
)

// secondsPerYear converts per-year ray rates to per-second interest streams.
const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}
