package pool

import (
	"math/big"

	"opensky/crypto"
)

// Reserve captures the accounting state for a single underlying asset pool.
// Amounts are denominated in wei and indexes in ray to match on-chain
// precision.
type Reserve struct {
	// ReserveID is the ledger-wide identifier of the pool.
	ReserveID uint64 `json:"reserveId"`
	// UnderlyingAsset is the normalized symbol of the pooled asset.
	UnderlyingAsset string `json:"underlyingAsset"`
	// LastSupplyIndex is the compounding multiplier converting scaled share
	// balances into real underlying balances. Starts at RAY and never
	// decreases.
	LastSupplyIndex *big.Int `json:"lastSupplyIndex"`
	// TotalBorrows is the outstanding principal plus accrued interest across
	// all active loans as of LastUpdateTimestamp.
	TotalBorrows *big.Int `json:"totalBorrows"`
	// BorrowingInterestPerSecond aggregates the ray-scaled per-second interest
	// streams of every active loan on the reserve.
	BorrowingInterestPerSecond *big.Int `json:"borrowingInterestPerSecond"`
	// TotalScaledSupply is the sum of all scaled share balances, including the
	// treasury's cut minted during accrual.
	TotalScaledSupply *big.Int `json:"totalScaledSupply"`
	// TreasuryFactorBps is the share of income diverted to the treasury.
	TreasuryFactorBps uint64 `json:"treasuryFactorBps"`
	// IsMoneyMarketOn reports whether idle liquidity sits in the external
	// money-market integration instead of local custody.
	IsMoneyMarketOn bool `json:"isMoneyMarketOn"`
	// LastUpdateTimestamp is the unix time of the last index refresh.
	LastUpdateTimestamp int64 `json:"lastUpdateTimestamp"`
	// LastMoneyMarketBalance is the balance observed at the money-market
	// integration during the last refresh.
	LastMoneyMarketBalance *big.Int `json:"lastMoneyMarketBalance"`
}

// EnsureDefaults populates nil big.Int fields so codec round-trips stay safe.
func (r *Reserve) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.LastSupplyIndex == nil || r.LastSupplyIndex.Sign() == 0 {
		r.LastSupplyIndex = new(big.Int).Set(ray)
	}
	if r.TotalBorrows == nil {
		r.TotalBorrows = big.NewInt(0)
	}
	if r.BorrowingInterestPerSecond == nil {
		r.BorrowingInterestPerSecond = big.NewInt(0)
	}
	if r.TotalScaledSupply == nil {
		r.TotalScaledSupply = big.NewInt(0)
	}
	if r.LastMoneyMarketBalance == nil {
		r.LastMoneyMarketBalance = big.NewInt(0)
	}
}

// Clone returns a deep copy of the reserve record.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.LastSupplyIndex = cloneInt(r.LastSupplyIndex)
	clone.TotalBorrows = cloneInt(r.TotalBorrows)
	clone.BorrowingInterestPerSecond = cloneInt(r.BorrowingInterestPerSecond)
	clone.TotalScaledSupply = cloneInt(r.TotalScaledSupply)
	clone.LastMoneyMarketBalance = cloneInt(r.LastMoneyMarketBalance)
	return &clone
}

// LoanStatus enumerates the lifecycle states of a pooled loan. The ordering is
// load-bearing: for a loan never force-transitioned the status is monotonically
// non-decreasing in time.
type LoanStatus uint8

const (
	LoanNone LoanStatus = iota
	LoanBorrowing
	LoanExtendable
	LoanOverdue
	LoanLiquidatable
	LoanLiquidating
	LoanEnd
)

// String renders the status for events and API payloads.
func (s LoanStatus) String() string {
	switch s {
	case LoanNone:
		return "NONE"
	case LoanBorrowing:
		return "BORROWING"
	case LoanExtendable:
		return "EXTENDABLE"
	case LoanOverdue:
		return "OVERDUE"
	case LoanLiquidatable:
		return "LIQUIDATABLE"
	case LoanLiquidating:
		return "LIQUIDATING"
	case LoanEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Loan is a single collateralized position. The receipt holder (Owner) is
// entitled to repay and reclaim the collateral or to receive surplus proceeds
// on liquidation settlement.
type Loan struct {
	LoanID     uint64         `json:"loanId"`
	ReserveID  uint64         `json:"reserveId"`
	NFTAddress crypto.Address `json:"nftAddress"`
	TokenID    uint64         `json:"tokenId"`
	Borrower   crypto.Address `json:"borrower"`
	// Owner is the current holder of the transferable loan receipt.
	Owner             crypto.Address `json:"owner"`
	Amount            *big.Int       `json:"amount"`
	BorrowRate        *big.Int       `json:"borrowRate"`
	InterestPerSecond *big.Int       `json:"interestPerSecond"`
	BorrowBegin       int64          `json:"borrowBegin"`
	BorrowDuration    int64          `json:"borrowDuration"`
	ExtendableTime    int64          `json:"extendableTime"`
	BorrowOverdueTime int64          `json:"borrowOverdueTime"`
	LiquidatableTime  int64          `json:"liquidatableTime"`
	BorrowEnd         int64          `json:"borrowEnd"`
	Status            LoanStatus     `json:"status"`
}

// StatusAt derives the lifecycle state at the given time. Forced transitions
// (LIQUIDATING, END) take precedence; everything else is a pure function of
// the deadline fields.
func (l *Loan) StatusAt(now int64) LoanStatus {
	if l == nil {
		return LoanNone
	}
	switch l.Status {
	case LoanLiquidating, LoanEnd, LoanNone:
		return l.Status
	}
	switch {
	case now < l.ExtendableTime:
		return LoanBorrowing
	case now < l.BorrowOverdueTime:
		return LoanExtendable
	case now < l.LiquidatableTime:
		return LoanOverdue
	default:
		return LoanLiquidatable
	}
}

// BorrowInterestAt returns the interest accrued between BorrowBegin and the
// given time. Once liquidation pins BorrowEnd the accrual stops there.
func (l *Loan) BorrowInterestAt(now int64) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	end := now
	if l.Status == LoanLiquidating && l.BorrowEnd > 0 && l.BorrowEnd < end {
		end = l.BorrowEnd
	}
	return interestOver(l.InterestPerSecond, end-l.BorrowBegin)
}

// PenaltyAt returns the fee owed in addition to principal and interest. A
// prepayment fee applies while BORROWING and an overdue fee while OVERDUE;
// every other state carries no penalty.
func (l *Loan) PenaltyAt(now int64, prepaymentBps, overdueBps uint64) *big.Int {
	switch l.StatusAt(now) {
	case LoanBorrowing:
		return percentMul(l.Amount, prepaymentBps)
	case LoanOverdue:
		return percentMul(l.Amount, overdueBps)
	default:
		return big.NewInt(0)
	}
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = cloneInt(l.Amount)
	clone.BorrowRate = cloneInt(l.BorrowRate)
	clone.InterestPerSecond = cloneInt(l.InterestPerSecond)
	return &clone
}

// CollateralConfig whitelists an NFT collection for pooled borrowing and
// carries its duration bounds.
type CollateralConfig struct {
	NFTAddress         crypto.Address `json:"nftAddress"`
	Name               string         `json:"name"`
	Enabled            bool           `json:"enabled"`
	MinBorrowDuration  int64          `json:"minBorrowDuration"`
	MaxBorrowDuration  int64          `json:"maxBorrowDuration"`
	ExtendableDuration int64          `json:"extendableDuration"`
	OverdueDuration    int64          `json:"overdueDuration"`
}

// PoolParams groups the pool-wide settings applied across reserves.
type PoolParams struct {
	// TreasuryAddress receives the treasury's scaled share of income.
	TreasuryAddress crypto.Address
	// PoolAddress is the custody account for local liquidity and escrowed
	// collateral.
	PoolAddress crypto.Address
	// PrepaymentFeeBps applies when a loan is repaid while BORROWING.
	PrepaymentFeeBps uint64
	// OverdueLoanFeeBps applies when a loan is repaid while OVERDUE.
	OverdueLoanFeeBps uint64
	// BorrowLimitBps caps the borrow amount relative to the oracle TWAP price
	// of the collateral collection.
	BorrowLimitBps uint64
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
