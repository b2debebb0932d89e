package bespoke

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"opensky/core/events"
	"opensky/core/types"
	"opensky/crypto"
	nativecommon "opensky/native/common"
)

const moduleName = "bespoke"

// Validation errors.
var (
	ErrNilState           = errors.New("bespoke engine: state not configured")
	ErrOfferExpired       = errors.New("bespoke engine: offer deadline passed")
	ErrInvalidSignature   = errors.New("bespoke engine: signature does not match borrower")
	ErrNonceUsed          = errors.New("bespoke engine: nonce already used or below floor")
	ErrCurrencyNotAllowed = errors.New("bespoke engine: currency not whitelisted")
	ErrAmountOutOfRange   = errors.New("bespoke engine: supply amount outside offer range")
	ErrDurationOutOfRange = errors.New("bespoke engine: supply duration outside offer range")
	ErrInvalidNonceFloor  = errors.New("bespoke engine: nonce floor must increase")
	ErrInsufficientFunds  = errors.New("bespoke engine: taker cannot fund the offer")
	ErrCollateralNotOwned = errors.New("bespoke engine: borrower does not own collateral token")
)

// State errors.
var (
	ErrLoanNotFound         = errors.New("bespoke engine: loan not found")
	ErrLoanStatusNotAllowed = errors.New("bespoke engine: operation not allowed in current loan status")
	ErrNotReceiptHolder     = errors.New("bespoke engine: caller does not hold the required receipt")
)

type engineState interface {
	GetBespokeLoan(loanID uint64) (*Loan, bool, error)
	PutBespokeLoan(*Loan) error
	NextBespokeLoanID() (uint64, error)
	NonceUsed(signer crypto.Address, nonce uint64) (bool, error)
	MarkNonceUsed(signer crypto.Address, nonce uint64) error
	NonceFloor(signer crypto.Address) (uint64, error)
	SetNonceFloor(signer crypto.Address, floor uint64) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error)
	SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error
}

// LiquidityFund lets takers fund offers with their pooled deposit shares
// before falling back to raw balance. Implemented by the pool engine.
type LiquidityFund interface {
	UnderlyingAsset(reserveID uint64) (string, error)
	DepositValueOf(reserveID uint64, owner crypto.Address) (*big.Int, error)
	Withdraw(reserveID uint64, owner crypto.Address, amount *big.Int, to crypto.Address) error
}

// Params groups the market-wide bespoke settings.
type Params struct {
	// ChainID binds offer signatures to this ledger deployment.
	ChainID uint64
	// EscrowAddress is the custody account for collateral under active loans.
	EscrowAddress crypto.Address
	// OverdueDuration is the grace window between the due time and the loan
	// becoming liquidatable.
	OverdueDuration int64
	// OverdueLoanFeeBps applies when a loan is repaid while OVERDUE.
	OverdueLoanFeeBps uint64
	// Currencies whitelists the settlement assets.
	Currencies []string
}

// Engine matches signed borrow offers against takers and runs the resulting
// bilateral loans to completion.
type Engine struct {
	state      engineState
	params     Params
	currencies map[string]struct{}
	fund       LiquidityFund
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine constructs a bespoke market engine.
func NewEngine(params Params) *Engine {
	currencies := make(map[string]struct{}, len(params.Currencies))
	for _, c := range params.Currencies {
		normalized := strings.ToUpper(strings.TrimSpace(c))
		if normalized != "" {
			currencies[normalized] = struct{}{}
		}
	}
	return &Engine{
		params:     params,
		currencies: currencies,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLiquidityFund wires the pooled share redemption path used to fund offers.
func (e *Engine) SetLiquidityFund(fund LiquidityFund) { e.fund = fund }

// SetPauses wires the emergency pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) currencyAllowed(currency string) bool {
	_, ok := e.currencies[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// consumeNonce validates a signer nonce against the floor and single-use rule,
// then burns it.
func (e *Engine) consumeNonce(signer crypto.Address, nonce uint64) error {
	floor, err := e.state.NonceFloor(signer)
	if err != nil {
		return err
	}
	if nonce < floor {
		return ErrNonceUsed
	}
	used, err := e.state.NonceUsed(signer, nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceUsed
	}
	return e.state.MarkNonceUsed(signer, nonce)
}

// TakeBorrowOffer validates the signed offer and settles it atomically: the
// taker funds the borrower (pooled shares first, raw balance for the
// shortfall), the collateral moves into escrow and both receipts are minted.
func (e *Engine) TakeBorrowOffer(offer BorrowOffer, sig []byte, taker crypto.Address, supplyAmount *big.Int, supplyDuration int64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	now := e.now()
	if offer.Deadline > 0 && now > offer.Deadline {
		return nil, ErrOfferExpired
	}
	if !e.currencyAllowed(offer.Currency) {
		return nil, ErrCurrencyNotAllowed
	}
	if supplyAmount == nil || supplyAmount.Sign() <= 0 ||
		supplyAmount.Cmp(offer.BorrowAmountMin) < 0 || supplyAmount.Cmp(offer.BorrowAmountMax) > 0 {
		return nil, ErrAmountOutOfRange
	}
	if supplyDuration < offer.BorrowDurationMin || supplyDuration > offer.BorrowDurationMax {
		return nil, ErrDurationOutOfRange
	}
	signer, err := RecoverSigner(offer, e.params.ChainID, sig)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if !signer.Equal(offer.Borrower) {
		return nil, ErrInvalidSignature
	}
	if err := e.consumeNonce(offer.Borrower, offer.Nonce); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(offer.Currency))

	// Collateral into escrow.
	owner, ok, err := e.state.GetNFTOwner(offer.NFTAddress, offer.TokenID)
	if err != nil {
		return nil, err
	}
	if !ok || !owner.Equal(offer.Borrower) {
		return nil, ErrCollateralNotOwned
	}
	if err := e.state.SetNFTOwner(offer.NFTAddress, offer.TokenID, e.params.EscrowAddress); err != nil {
		return nil, err
	}

	// Funding: redeem the taker's pooled shares first, then raw balance for
	// the shortfall.
	if err := e.fundBorrower(offer.ReserveID, currency, taker, offer.Borrower, supplyAmount); err != nil {
		return nil, err
	}

	stream := new(big.Int).Mul(supplyAmount, offer.BorrowRate)
	stream.Quo(stream, big.NewInt(secondsPerYear))

	loanID, err := e.state.NextBespokeLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		LoanID:            loanID,
		ReserveID:         offer.ReserveID,
		NFTAddress:        offer.NFTAddress,
		TokenID:           offer.TokenID,
		TokenAmount:       offer.TokenAmount,
		Borrower:          offer.Borrower,
		Lender:            taker,
		LenderReceipt:     taker,
		BorrowerReceipt:   offer.Borrower,
		Amount:            new(big.Int).Set(supplyAmount),
		BorrowRate:        new(big.Int).Set(offer.BorrowRate),
		InterestPerSecond: stream,
		Currency:          currency,
		BorrowBegin:       now,
		BorrowDuration:    supplyDuration,
		BorrowOverdueTime: now + supplyDuration,
		LiquidatableTime:  now + supplyDuration + e.params.OverdueDuration,
		Status:            LoanBorrowing,
	}
	if err := e.state.PutBespokeLoan(loan); err != nil {
		return nil, err
	}
	e.emit(OfferTaken{Loan: loan, Nonce: offer.Nonce})
	return loan.Clone(), nil
}

// fundBorrower moves supplyAmount of currency from the taker to the borrower,
// preferring the taker's yield-bearing pooled deposit over raw balance.
func (e *Engine) fundBorrower(reserveID uint64, currency string, taker, borrower crypto.Address, supplyAmount *big.Int) error {
	remaining := new(big.Int).Set(supplyAmount)
	if e.fund != nil {
		asset, err := e.fund.UnderlyingAsset(reserveID)
		if err == nil && asset == currency {
			value, err := e.fund.DepositValueOf(reserveID, taker)
			if err != nil {
				return err
			}
			fromShares := new(big.Int).Set(remaining)
			if value.Cmp(fromShares) < 0 {
				fromShares.Set(value)
			}
			if fromShares.Sign() > 0 {
				if err := e.fund.Withdraw(reserveID, taker, fromShares, borrower); err != nil {
					return err
				}
				remaining.Sub(remaining, fromShares)
			}
		}
	}
	if remaining.Sign() == 0 {
		return nil
	}
	takerAcc, err := e.state.GetAccount(taker)
	if err != nil {
		return err
	}
	if takerAcc == nil {
		takerAcc = types.NewAccount()
	}
	if takerAcc.Balance(currency).Cmp(remaining) < 0 {
		return ErrInsufficientFunds
	}
	takerAcc.SetBalance(currency, new(big.Int).Sub(takerAcc.Balance(currency), remaining))
	if err := e.state.PutAccount(taker, takerAcc); err != nil {
		return err
	}
	borrowerAcc, err := e.state.GetAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc == nil {
		borrowerAcc = types.NewAccount()
	}
	borrowerAcc.SetBalance(currency, new(big.Int).Add(borrowerAcc.Balance(currency), remaining))
	return e.state.PutAccount(borrower, borrowerAcc)
}

// Repay settles principal, interest and any overdue penalty to the lender
// receipt holder and returns the collateral to the borrower receipt holder.
// Not permitted once the loan is liquidatable.
func (e *Engine) Repay(loanID uint64, payer crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.BorrowerReceipt.Equal(payer) {
		return nil, ErrNotReceiptHolder
	}
	now := e.now()
	switch loan.StatusAt(now) {
	case LoanBorrowing, LoanOverdue:
	default:
		return nil, ErrLoanStatusNotAllowed
	}
	interest := loan.BorrowInterestAt(now)
	penalty := loan.PenaltyAt(now, e.params.OverdueLoanFeeBps)
	owed := new(big.Int).Add(loan.Amount, interest)
	owed.Add(owed, penalty)

	payerAcc, err := e.state.GetAccount(payer)
	if err != nil {
		return nil, err
	}
	if payerAcc == nil {
		payerAcc = types.NewAccount()
	}
	if payerAcc.Balance(loan.Currency).Cmp(owed) < 0 {
		return nil, ErrInsufficientFunds
	}
	payerAcc.SetBalance(loan.Currency, new(big.Int).Sub(payerAcc.Balance(loan.Currency), owed))
	if err := e.state.PutAccount(payer, payerAcc); err != nil {
		return nil, err
	}
	lenderAcc, err := e.state.GetAccount(loan.LenderReceipt)
	if err != nil {
		return nil, err
	}
	if lenderAcc == nil {
		lenderAcc = types.NewAccount()
	}
	lenderAcc.SetBalance(loan.Currency, new(big.Int).Add(lenderAcc.Balance(loan.Currency), owed))
	if err := e.state.PutAccount(loan.LenderReceipt, lenderAcc); err != nil {
		return nil, err
	}
	if err := e.state.SetNFTOwner(loan.NFTAddress, loan.TokenID, loan.BorrowerReceipt); err != nil {
		return nil, err
	}
	loan.Status = LoanEnd
	loan.BorrowEnd = now
	if err := e.state.PutBespokeLoan(loan); err != nil {
		return nil, err
	}
	e.emit(LoanRepaid{Loan: loan, Amount: owed, Penalty: penalty})
	return owed, nil
}

// Forclose transfers the collateral to the lender receipt holder once the
// loan is liquidatable. No repayment flows.
func (e *Engine) Forclose(loanID uint64, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if !loan.LenderReceipt.Equal(caller) {
		return ErrNotReceiptHolder
	}
	now := e.now()
	if loan.StatusAt(now) != LoanLiquidatable {
		return ErrLoanStatusNotAllowed
	}
	if err := e.state.SetNFTOwner(loan.NFTAddress, loan.TokenID, loan.LenderReceipt); err != nil {
		return err
	}
	loan.Status = LoanEnd
	loan.BorrowEnd = now
	if err := e.state.PutBespokeLoan(loan); err != nil {
		return err
	}
	e.emit(LoanForclosed{Loan: loan})
	return nil
}

// TransferReceipt reassigns one side's claim on the loan.
func (e *Engine) TransferReceipt(loanID uint64, lenderSide bool, from, to crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if to.IsZero() {
		return ErrNotReceiptHolder
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if loan.StatusAt(e.now()) == LoanEnd {
		return ErrLoanStatusNotAllowed
	}
	if lenderSide {
		if !loan.LenderReceipt.Equal(from) {
			return ErrNotReceiptHolder
		}
		loan.LenderReceipt = to
	} else {
		if !loan.BorrowerReceipt.Equal(from) {
			return ErrNotReceiptHolder
		}
		loan.BorrowerReceipt = to
	}
	return e.state.PutBespokeLoan(loan)
}

// CancelAllBorrowOffers raises the signer's minimum-nonce floor, invalidating
// every outstanding offer signed below it.
func (e *Engine) CancelAllBorrowOffers(signer crypto.Address, minNonce uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	floor, err := e.state.NonceFloor(signer)
	if err != nil {
		return err
	}
	if minNonce <= floor {
		return ErrInvalidNonceFloor
	}
	if err := e.state.SetNonceFloor(signer, minNonce); err != nil {
		return err
	}
	e.emit(OffersCanceled{Signer: signer, NonceFloor: minNonce})
	return nil
}

// CancelMultipleBorrowOffers burns individual nonces for the signer.
func (e *Engine) CancelMultipleBorrowOffers(signer crypto.Address, nonces []uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	for _, nonce := range nonces {
		if err := e.state.MarkNonceUsed(signer, nonce); err != nil {
			return err
		}
	}
	e.emit(OffersCanceled{Signer: signer, Nonces: nonces})
	return nil
}

// GetStatus derives the loan's lifecycle state at the current time.
func (e *Engine) GetStatus(loanID uint64) (LoanStatus, error) {
	if e == nil || e.state == nil {
		return LoanNone, ErrNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return LoanNone, err
	}
	return loan.StatusAt(e.now()), nil
}

// GetLoan returns a copy of the stored loan record.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

func (e *Engine) loadLoan(loanID uint64) (*Loan, error) {
	loan, ok, err := e.state.GetBespokeLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}
