package pool

import (
	"math/big"

	"opensky/crypto"
	nativecommon "opensky/native/common"
)

// Borrow escrows the collateral token, mints a loan receipt to onBehalfOf and
// pays the borrowed amount out of the reserve's liquidity.
func (e *Engine) Borrow(reserveID uint64, borrower crypto.Address, amount *big.Int, duration int64, collection crypto.Address, tokenID uint64, onBehalfOf crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if onBehalfOf.IsZero() {
		onBehalfOf = borrower
	}
	cfg, ok, err := e.state.GetCollateralConfig(collection)
	if err != nil {
		return nil, err
	}
	if !ok || !cfg.Enabled {
		return nil, ErrCollateralNotListed
	}
	if duration < cfg.MinBorrowDuration || duration > cfg.MaxBorrowDuration {
		return nil, ErrInvalidDuration
	}
	limit, err := e.GetBorrowLimitByOracle(collection)
	if err != nil {
		return nil, err
	}
	if limit != nil && amount.Cmp(limit) > 0 {
		return nil, ErrBorrowLimitExceeded
	}

	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	if err := e.updateState(reserve, nil); err != nil {
		return nil, err
	}
	available, err := e.availableLiquidity(reserve)
	if err != nil {
		return nil, err
	}
	if available.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	owner, ok, err := e.state.GetNFTOwner(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok || !owner.Equal(borrower) {
		return nil, ErrNFTNotOwned
	}
	if err := e.state.SetNFTOwner(collection, tokenID, e.params.PoolAddress); err != nil {
		return nil, err
	}

	// Rate reflects post-borrow utilisation and is fixed for the loan's life.
	postBorrows := new(big.Int).Add(reserve.TotalBorrows, amount)
	postAvailable := new(big.Int).Sub(available, amount)
	rate := e.strategyFor(reserveID).CalculateBorrowRate(postBorrows, postAvailable)
	stream := interestPerSecond(amount, rate)

	now := e.now()
	loanID, err := e.state.NextLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		LoanID:            loanID,
		ReserveID:         reserveID,
		NFTAddress:        collection,
		TokenID:           tokenID,
		Borrower:          borrower,
		Owner:             onBehalfOf,
		Amount:            new(big.Int).Set(amount),
		BorrowRate:        rate,
		InterestPerSecond: stream,
		BorrowBegin:       now,
		BorrowDuration:    duration,
		ExtendableTime:    now + duration - cfg.ExtendableDuration,
		BorrowOverdueTime: now + duration,
		LiquidatableTime:  now + duration + cfg.OverdueDuration,
		Status:            LoanBorrowing,
	}

	reserve.TotalBorrows = postBorrows
	reserve.BorrowingInterestPerSecond = new(big.Int).Add(reserve.BorrowingInterestPerSecond, stream)

	if err := e.withdrawLiquidity(reserve, amount); err != nil {
		return nil, err
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return nil, err
	}
	borrowerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(borrowerAcc.Balance(reserve.UnderlyingAsset), amount))
	if err := e.state.PutAccount(borrower, borrowerAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(LoanMinted{Loan: loan})
	return loan.Clone(), nil
}

// Repay settles principal, interest and any penalty, burns the loan receipt
// and releases the collateral to the receipt holder. Not permitted once the
// loan is liquidatable.
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
	if !loan.Owner.Equal(payer) {
		return nil, ErrNotLoanOwner
	}
	now := e.now()
	switch loan.StatusAt(now) {
	case LoanBorrowing, LoanExtendable, LoanOverdue:
	default:
		return nil, ErrLoanStatusNotAllowed
	}

	reserve, err := e.loadReserve(loan.ReserveID)
	if err != nil {
		return nil, err
	}
	interest := loan.BorrowInterestAt(now)
	penalty := loan.PenaltyAt(now, e.params.PrepaymentFeeBps, e.params.OverdueLoanFeeBps)
	owed := new(big.Int).Add(loan.Amount, interest)
	owed.Add(owed, penalty)

	// The penalty is pure income; principal and interest return as liquidity
	// whose interest share was already credited through the index.
	if err := e.updateState(reserve, penalty); err != nil {
		return nil, err
	}

	payerAcc, err := e.loadAccount(payer)
	if err != nil {
		return nil, err
	}
	if payerAcc.Balance(reserve.UnderlyingAsset).Cmp(owed) < 0 {
		return nil, ErrInsufficientBalance
	}
	payerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Sub(payerAcc.Balance(reserve.UnderlyingAsset), owed))
	if err := e.state.PutAccount(payer, payerAcc); err != nil {
		return nil, err
	}
	if err := e.depositLiquidity(reserve, owed); err != nil {
		return nil, err
	}

	if err := e.releaseLoan(reserve, loan, loan.Owner, now); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(LoanRepaid{Loan: loan, Payer: payer, Amount: owed, Penalty: penalty})
	return owed, nil
}

// Extend atomically ends the current loan and mints a replacement, netting the
// cash flow difference with the borrower. Permitted while EXTENDABLE or
// OVERDUE.
func (e *Engine) Extend(loanID uint64, caller crypto.Address, newAmount *big.Int, newDuration int64, onBehalfOf crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if newAmount == nil || newAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Owner.Equal(caller) {
		return nil, ErrNotLoanOwner
	}
	now := e.now()
	switch loan.StatusAt(now) {
	case LoanExtendable, LoanOverdue:
	default:
		return nil, ErrLoanStatusNotAllowed
	}
	if onBehalfOf.IsZero() {
		onBehalfOf = loan.Owner
	}
	cfg, ok, err := e.state.GetCollateralConfig(loan.NFTAddress)
	if err != nil {
		return nil, err
	}
	if !ok || !cfg.Enabled {
		return nil, ErrCollateralNotListed
	}
	if newDuration < cfg.MinBorrowDuration || newDuration > cfg.MaxBorrowDuration {
		return nil, ErrInvalidDuration
	}
	limit, err := e.GetBorrowLimitByOracle(loan.NFTAddress)
	if err != nil {
		return nil, err
	}
	if limit != nil && newAmount.Cmp(limit) > 0 {
		return nil, ErrBorrowLimitExceeded
	}

	reserve, err := e.loadReserve(loan.ReserveID)
	if err != nil {
		return nil, err
	}
	interest := loan.BorrowInterestAt(now)
	penalty := loan.PenaltyAt(now, e.params.PrepaymentFeeBps, e.params.OverdueLoanFeeBps)
	owed := new(big.Int).Add(loan.Amount, interest)
	owed.Add(owed, penalty)

	if err := e.updateState(reserve, penalty); err != nil {
		return nil, err
	}

	// End the old position.
	settled := new(big.Int).Add(loan.Amount, interest)
	reserve.TotalBorrows = new(big.Int).Sub(reserve.TotalBorrows, settled)
	reserve.BorrowingInterestPerSecond = new(big.Int).Sub(reserve.BorrowingInterestPerSecond, loan.InterestPerSecond)
	loan.Status = LoanEnd
	loan.BorrowEnd = now
	loan.Owner = crypto.Address{}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}

	// Mint the replacement against the same escrowed collateral.
	available, err := e.availableLiquidity(reserve)
	if err != nil {
		return nil, err
	}
	postBorrows := new(big.Int).Add(reserve.TotalBorrows, newAmount)
	rate := e.strategyFor(loan.ReserveID).CalculateBorrowRate(postBorrows, available)
	stream := interestPerSecond(newAmount, rate)
	newID, err := e.state.NextLoanID()
	if err != nil {
		return nil, err
	}
	next := &Loan{
		LoanID:            newID,
		ReserveID:         loan.ReserveID,
		NFTAddress:        loan.NFTAddress,
		TokenID:           loan.TokenID,
		Borrower:          loan.Borrower,
		Owner:             onBehalfOf,
		Amount:            new(big.Int).Set(newAmount),
		BorrowRate:        rate,
		InterestPerSecond: stream,
		BorrowBegin:       now,
		BorrowDuration:    newDuration,
		ExtendableTime:    now + newDuration - cfg.ExtendableDuration,
		BorrowOverdueTime: now + newDuration,
		LiquidatableTime:  now + newDuration + cfg.OverdueDuration,
		Status:            LoanBorrowing,
	}
	reserve.TotalBorrows = postBorrows
	reserve.BorrowingInterestPerSecond = new(big.Int).Add(reserve.BorrowingInterestPerSecond, stream)

	// Net the cash flows in a single settlement.
	net := new(big.Int).Sub(newAmount, owed)
	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return nil, err
	}
	switch net.Sign() {
	case 1:
		if available.Cmp(net) < 0 {
			return nil, ErrInsufficientLiquidity
		}
		if err := e.withdrawLiquidity(reserve, net); err != nil {
			return nil, err
		}
		callerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(callerAcc.Balance(reserve.UnderlyingAsset), net))
	case -1:
		shortfall := new(big.Int).Neg(net)
		if callerAcc.Balance(reserve.UnderlyingAsset).Cmp(shortfall) < 0 {
			return nil, ErrInsufficientBalance
		}
		callerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Sub(callerAcc.Balance(reserve.UnderlyingAsset), shortfall))
		if err := e.depositLiquidity(reserve, shortfall); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutLoan(next); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(LoanExtended{Old: loan, New: next, Net: net})
	return next.Clone(), nil
}

// StartLiquidation force-transitions a liquidatable loan into LIQUIDATING,
// pinning interest accrual at the current time and handing the collateral to
// the liquidation operator. Irreversible.
func (e *Engine) StartLiquidation(loanID uint64, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleLiquidationOperator, caller); err != nil {
		return err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	now := e.now()
	if loan.StatusAt(now) != LoanLiquidatable {
		return ErrLoanStatusNotAllowed
	}
	reserve, err := e.loadReserve(loan.ReserveID)
	if err != nil {
		return err
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}
	// Stop the loan's interest stream; its accrual through now is already
	// folded into the reserve aggregate.
	reserve.BorrowingInterestPerSecond = new(big.Int).Sub(reserve.BorrowingInterestPerSecond, loan.InterestPerSecond)
	loan.Status = LoanLiquidating
	loan.BorrowEnd = now
	if err := e.state.SetNFTOwner(loan.NFTAddress, loan.TokenID, caller); err != nil {
		return err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(LoanLiquidationStarted{Loan: loan, Operator: caller})
	return nil
}

// EndLiquidation settles a liquidating loan: the operator pays at least the
// outstanding debt, surplus proceeds flow to the receipt holder, and the loan
// reaches its terminal state.
func (e *Engine) EndLiquidation(loanID uint64, caller crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleLiquidationOperator, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if loan.Status != LoanLiquidating {
		return ErrLoanStatusNotAllowed
	}
	reserve, err := e.loadReserve(loan.ReserveID)
	if err != nil {
		return err
	}
	interest := loan.BorrowInterestAt(loan.BorrowEnd)
	owed := new(big.Int).Add(loan.Amount, interest)
	if amount.Cmp(owed) < 0 {
		return ErrInvalidAmount
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}

	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	if callerAcc.Balance(reserve.UnderlyingAsset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	callerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Sub(callerAcc.Balance(reserve.UnderlyingAsset), amount))
	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return err
	}
	if err := e.depositLiquidity(reserve, owed); err != nil {
		return err
	}
	// Surplus proceeds belong to whoever holds the loan receipt.
	surplus := new(big.Int).Sub(amount, owed)
	if surplus.Sign() > 0 && !loan.Owner.IsZero() {
		ownerAcc, err := e.loadAccount(loan.Owner)
		if err != nil {
			return err
		}
		ownerAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(ownerAcc.Balance(reserve.UnderlyingAsset), surplus))
		if err := e.state.PutAccount(loan.Owner, ownerAcc); err != nil {
			return err
		}
	}

	reserve.TotalBorrows = new(big.Int).Sub(reserve.TotalBorrows, owed)
	loan.Status = LoanEnd
	loan.Owner = crypto.Address{}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(LoanLiquidationEnded{Loan: loan, Operator: caller, Amount: amount})
	return nil
}

// TransferLoan reassigns the loan receipt. Ownership of the receipt is the
// authorization mechanism for repay, extend and surplus claims.
func (e *Engine) TransferLoan(loanID uint64, from, to crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if to.IsZero() {
		return ErrInvalidAmount
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return err
	}
	if !loan.Owner.Equal(from) {
		return ErrNotLoanOwner
	}
	switch loan.StatusAt(e.now()) {
	case LoanEnd, LoanNone:
		return ErrLoanStatusNotAllowed
	}
	loan.Owner = to
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(LoanTransferred{Loan: loan, From: from, To: to})
	return nil
}

// FlashClaim hands the escrowed collateral of the caller's active loans to a
// receiver callback without breaking custodianship. Every token must be back
// in escrow when the callback returns.
func (e *Engine) FlashClaim(caller crypto.Address, loanIDs []uint64, receiver FlashClaimReceiver, params []byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if receiver == nil || len(loanIDs) == 0 {
		return ErrInvalidAmount
	}
	now := e.now()
	collections := make([]crypto.Address, 0, len(loanIDs))
	tokenIDs := make([]uint64, 0, len(loanIDs))
	for _, id := range loanIDs {
		loan, err := e.loadLoan(id)
		if err != nil {
			return err
		}
		if !loan.Owner.Equal(caller) {
			return ErrNotLoanOwner
		}
		switch loan.StatusAt(now) {
		case LoanBorrowing, LoanExtendable, LoanOverdue, LoanLiquidatable:
		default:
			return ErrLoanStatusNotAllowed
		}
		collections = append(collections, loan.NFTAddress)
		tokenIDs = append(tokenIDs, loan.TokenID)
	}
	if err := receiver.ExecuteOperation(collections, tokenIDs, caller, params); err != nil {
		return err
	}
	for i := range collections {
		owner, ok, err := e.state.GetNFTOwner(collections[i], tokenIDs[i])
		if err != nil {
			return err
		}
		if !ok || !owner.Equal(e.params.PoolAddress) {
			return ErrCollateralNotReturned
		}
	}
	e.emit(FlashClaimed{Caller: caller, LoanIDs: loanIDs})
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

// GetBorrowInterest returns the interest accrued by the loan through now.
func (e *Engine) GetBorrowInterest(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return loan.BorrowInterestAt(e.now()), nil
}

// GetPenalty returns the penalty a settlement at the current time would carry.
func (e *Engine) GetPenalty(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return loan.PenaltyAt(e.now(), e.params.PrepaymentFeeBps, e.params.OverdueLoanFeeBps), nil
}

func (e *Engine) loadLoan(loanID uint64) (*Loan, error) {
	loan, ok, err := e.state.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// releaseLoan ends a loan, returns the collateral and removes the position
// from the reserve aggregates. Interest must already be settled by the caller.
func (e *Engine) releaseLoan(reserve *Reserve, loan *Loan, collateralTo crypto.Address, now int64) error {
	interest := loan.BorrowInterestAt(now)
	settled := new(big.Int).Add(loan.Amount, interest)
	reserve.TotalBorrows = new(big.Int).Sub(reserve.TotalBorrows, settled)
	reserve.BorrowingInterestPerSecond = new(big.Int).Sub(reserve.BorrowingInterestPerSecond, loan.InterestPerSecond)
	if err := e.state.SetNFTOwner(loan.NFTAddress, loan.TokenID, collateralTo); err != nil {
		return err
	}
	loan.Status = LoanEnd
	loan.BorrowEnd = now
	loan.Owner = crypto.Address{}
	return e.state.PutLoan(loan)
}
