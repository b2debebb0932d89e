package pool

import "errors"

// Validation errors are caller-correctable and surfaced immediately.
var (
	ErrInvalidAmount         = errors.New("pool engine: amount must be positive")
	ErrInvalidDuration       = errors.New("pool engine: duration outside allowed range")
	ErrInsufficientBalance   = errors.New("pool engine: insufficient balance")
	ErrInsufficientLiquidity = errors.New("pool engine: amount exceeds available liquidity")
	ErrBorrowLimitExceeded   = errors.New("pool engine: amount exceeds oracle borrow limit")
	ErrCollateralNotListed   = errors.New("pool engine: collateral collection not whitelisted")
	ErrReserveNotFound       = errors.New("pool engine: reserve not found")
	ErrReserveExists         = errors.New("pool engine: reserve already exists")
	ErrLoanNotFound          = errors.New("pool engine: loan not found")
)

// State errors mark an operation attempted from the wrong lifecycle state.
var (
	ErrLoanStatusNotAllowed  = errors.New("pool engine: operation not allowed in current loan status")
	ErrMoneyMarketUnchanged  = errors.New("pool engine: money market already in requested state")
	ErrMoneyMarketNotWired   = errors.New("pool engine: money market adapter not configured")
	ErrCollateralNotReturned = errors.New("pool engine: collateral not returned to escrow after flash claim")
	ErrNFTNotOwned           = errors.New("pool engine: caller does not own collateral token")
)

// Authorization and wiring errors are fatal to the call.
var (
	ErrNotLoanOwner = errors.New("pool engine: caller does not hold the loan receipt")
	ErrNilState     = errors.New("pool engine: state not configured")
)

// ErrReserveIndexOverflow marks an arithmetic invariant violation: the supply
// index no longer fits the reference 256-bit width. This is a configuration or
// programming fault, never a recoverable condition.
var ErrReserveIndexOverflow = errors.New("pool engine: reserve index overflow")
