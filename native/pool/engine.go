package pool

import (
	"math/big"
	"time"

	"opensky/core/events"
	"opensky/core/types"
	"opensky/crypto"
	nativecommon "opensky/native/common"
)

const moduleName = "pool"

type engineState interface {
	GetReserve(reserveID uint64) (*Reserve, bool, error)
	PutReserve(*Reserve) error
	NextReserveID() (uint64, error)
	GetLoan(loanID uint64) (*Loan, bool, error)
	PutLoan(*Loan) error
	NextLoanID() (uint64, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetShares(reserveID uint64, addr crypto.Address) (*big.Int, error)
	PutShares(reserveID uint64, addr crypto.Address, shares *big.Int) error
	GetCollateralConfig(collection crypto.Address) (*CollateralConfig, bool, error)
	PutCollateralConfig(*CollateralConfig) error
	GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error)
	SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error
}

// Engine orchestrates the reserve ledger and the pooled loan lifecycle.
type Engine struct {
	state       engineState
	params      PoolParams
	strategies  map[uint64]InterestRateStrategy
	defaultRate InterestRateStrategy
	moneyMarket MoneyMarket
	oracle      PriceOracle
	roles       nativecommon.RoleRegistry
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine constructs a pool engine with the given pool-wide parameters.
func NewEngine(params PoolParams) *Engine {
	return &Engine{
		params:      params,
		strategies:  make(map[uint64]InterestRateStrategy),
		defaultRate: DefaultRateStrategy,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRoles wires the access control registry gating privileged operations.
func (e *Engine) SetRoles(roles nativecommon.RoleRegistry) { e.roles = roles }

// SetPauses wires the emergency pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetMoneyMarket wires the external yield integration.
func (e *Engine) SetMoneyMarket(mm MoneyMarket) { e.moneyMarket = mm }

// SetOracle wires the collateral price oracle used by the borrow limit check.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

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

// SetInterestStrategy assigns a rate strategy to a reserve. A nil strategy
// restores the default curve.
func (e *Engine) SetInterestStrategy(reserveID uint64, s InterestRateStrategy) {
	if e == nil {
		return
	}
	if s == nil {
		delete(e.strategies, reserveID)
		return
	}
	e.strategies[reserveID] = s
}

// SetDefaultStrategy replaces the fallback rate curve applied to reserves
// without an explicit assignment.
func (e *Engine) SetDefaultStrategy(s InterestRateStrategy) {
	if e == nil || s == nil {
		return
	}
	e.defaultRate = s
}

func (e *Engine) strategyFor(reserveID uint64) InterestRateStrategy {
	if s, ok := e.strategies[reserveID]; ok {
		return s
	}
	return e.defaultRate
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

// --- Governance operations ---

// CreateReserve registers a new underlying asset pool. Governance only.
func (e *Engine) CreateReserve(caller crypto.Address, underlyingAsset string, treasuryFactorBps uint64) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return nil, err
	}
	asset := normalizeAsset(underlyingAsset)
	if asset == "" {
		return nil, ErrInvalidAmount
	}
	id, err := e.state.NextReserveID()
	if err != nil {
		return nil, err
	}
	reserve := &Reserve{
		ReserveID:           id,
		UnderlyingAsset:     asset,
		TreasuryFactorBps:   treasuryFactorBps,
		LastUpdateTimestamp: e.now(),
	}
	reserve.EnsureDefaults()
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	e.emit(ReserveCreated{Reserve: reserve})
	return reserve, nil
}

// SetTreasuryFactor updates the income share diverted to the treasury.
// Governance only. Accrued state is settled first so the new factor only
// applies going forward.
func (e *Engine) SetTreasuryFactor(caller crypto.Address, reserveID uint64, bps uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return err
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return err
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}
	reserve.TreasuryFactorBps = bps
	return e.state.PutReserve(reserve)
}

// SetCollateral whitelists or updates an NFT collection for pooled borrowing.
// Governance only.
func (e *Engine) SetCollateral(caller crypto.Address, cfg CollateralConfig) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return err
	}
	if cfg.MinBorrowDuration <= 0 || cfg.MaxBorrowDuration < cfg.MinBorrowDuration {
		return ErrInvalidDuration
	}
	if cfg.ExtendableDuration < 0 || cfg.OverdueDuration < 0 {
		return ErrInvalidDuration
	}
	stored := cfg
	return e.state.PutCollateralConfig(&stored)
}

// RemoveCollateral disables an NFT collection for new borrows. Existing loans
// run to completion. Governance only.
func (e *Engine) RemoveCollateral(caller crypto.Address, collection crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return err
	}
	cfg, ok, err := e.state.GetCollateralConfig(collection)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCollateralNotListed
	}
	cfg.Enabled = false
	return e.state.PutCollateralConfig(cfg)
}

// OpenMoneyMarket moves the reserve's entire local liquidity into the external
// money-market integration. Fails loudly when the integration is already on.
// Governance only.
func (e *Engine) OpenMoneyMarket(caller crypto.Address, reserveID uint64) error {
	return e.toggleMoneyMarket(caller, reserveID, true)
}

// CloseMoneyMarket pulls the reserve's entire balance back into local custody.
// Fails loudly when the integration is already off. Governance only.
func (e *Engine) CloseMoneyMarket(caller crypto.Address, reserveID uint64) error {
	return e.toggleMoneyMarket(caller, reserveID, false)
}

func (e *Engine) toggleMoneyMarket(caller crypto.Address, reserveID uint64, target bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return err
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return err
	}
	if reserve.IsMoneyMarketOn == target {
		return ErrMoneyMarketUnchanged
	}
	if e.moneyMarket == nil {
		return ErrMoneyMarketNotWired
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}
	if target {
		poolAcc, err := e.loadAccount(e.params.PoolAddress)
		if err != nil {
			return err
		}
		local := poolAcc.Balance(reserve.UnderlyingAsset)
		if local.Sign() > 0 {
			poolAcc.SetBalance(reserve.UnderlyingAsset, big.NewInt(0))
			if err := e.state.PutAccount(e.params.PoolAddress, poolAcc); err != nil {
				return err
			}
			if err := e.moneyMarket.Deposit(reserve.UnderlyingAsset, local); err != nil {
				return err
			}
		}
		reserve.IsMoneyMarketOn = true
	} else {
		held, err := e.moneyMarket.Balance(reserve.UnderlyingAsset)
		if err != nil {
			return err
		}
		if held.Sign() > 0 {
			if err := e.moneyMarket.Withdraw(reserve.UnderlyingAsset, held); err != nil {
				return err
			}
			poolAcc, err := e.loadAccount(e.params.PoolAddress)
			if err != nil {
				return err
			}
			poolAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(poolAcc.Balance(reserve.UnderlyingAsset), held))
			if err := e.state.PutAccount(e.params.PoolAddress, poolAcc); err != nil {
				return err
			}
		}
		reserve.IsMoneyMarketOn = false
		reserve.LastMoneyMarketBalance = big.NewInt(0)
	}
	if err := e.syncMoneyMarket(reserve); err != nil {
		return err
	}
	return e.state.PutReserve(reserve)
}

// --- Liquidity operations ---

// Deposit pulls underlying from the depositor and mints scaled shares to
// onBehalfOf at the current supply index.
func (e *Engine) Deposit(reserveID uint64, depositor crypto.Address, amount *big.Int, onBehalfOf crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if onBehalfOf.IsZero() {
		onBehalfOf = depositor
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return err
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}

	depositorAcc, err := e.loadAccount(depositor)
	if err != nil {
		return err
	}
	if depositorAcc.Balance(reserve.UnderlyingAsset).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	depositorAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Sub(depositorAcc.Balance(reserve.UnderlyingAsset), amount))
	if err := e.state.PutAccount(depositor, depositorAcc); err != nil {
		return err
	}
	if err := e.depositLiquidity(reserve, amount); err != nil {
		return err
	}

	minted := rayDiv(amount, reserve.LastSupplyIndex)
	if minted.Sign() == 0 {
		minted = big.NewInt(1)
	}
	if err := e.mintShares(reserve, onBehalfOf, minted); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(Deposited{ReserveID: reserveID, Depositor: depositor, OnBehalfOf: onBehalfOf, Amount: amount, MintedShares: minted})
	return nil
}

// Withdraw burns shares held by owner and pays the underlying out to the
// recipient. Fails when the amount exceeds the reserve's available liquidity.
func (e *Engine) Withdraw(reserveID uint64, owner crypto.Address, amount *big.Int, to crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		to = owner
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return err
	}
	if err := e.updateState(reserve, nil); err != nil {
		return err
	}

	held, err := e.state.GetShares(reserveID, owner)
	if err != nil {
		return err
	}
	balance := rayMul(held, reserve.LastSupplyIndex)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	available, err := e.availableLiquidity(reserve)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	burned := rayDiv(amount, reserve.LastSupplyIndex)
	if burned.Cmp(held) > 0 {
		burned = new(big.Int).Set(held)
	}
	if err := e.burnShares(reserve, owner, burned); err != nil {
		return err
	}
	if err := e.withdrawLiquidity(reserve, amount); err != nil {
		return err
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	toAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(toAcc.Balance(reserve.UnderlyingAsset), amount))
	if err := e.state.PutAccount(to, toAcc); err != nil {
		return err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	e.emit(Withdrawn{ReserveID: reserveID, Owner: owner, To: to, Amount: amount, BurnedShares: burned})
	return nil
}

// WithdrawTreasury moves accrued protocol income out of the treasury's share
// position. Governance only.
func (e *Engine) WithdrawTreasury(caller crypto.Address, reserveID uint64, amount *big.Int, to crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleGovernance, caller); err != nil {
		return err
	}
	return e.Withdraw(reserveID, e.params.TreasuryAddress, amount, to)
}

// --- Views ---

// GetReserveNormalizedIncome returns the supply index the reserve would carry
// after folding accrual through the given time, without mutating state.
func (e *Engine) GetReserveNormalizedIncome(reserveID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	income, _, err := e.pendingIncome(reserve, nil)
	if err != nil {
		return nil, err
	}
	index := new(big.Int).Set(reserve.LastSupplyIndex)
	if income.Sign() > 0 && reserve.TotalScaledSupply.Sign() > 0 {
		treasuryCut := percentMul(income, reserve.TreasuryFactorBps)
		userIncome := new(big.Int).Sub(income, treasuryCut)
		index.Add(index, rayDiv(userIncome, reserve.TotalScaledSupply))
	}
	return index, nil
}

// DepositValueOf returns the underlying value of the owner's shares at the
// current normalized income.
func (e *Engine) DepositValueOf(reserveID uint64, owner crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	index, err := e.GetReserveNormalizedIncome(reserveID)
	if err != nil {
		return nil, err
	}
	held, err := e.state.GetShares(reserveID, owner)
	if err != nil {
		return nil, err
	}
	return rayMul(held, index), nil
}

// UnderlyingAsset reports the asset symbol pooled by a reserve.
func (e *Engine) UnderlyingAsset(reserveID uint64) (string, error) {
	if e == nil || e.state == nil {
		return "", ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return "", err
	}
	return reserve.UnderlyingAsset, nil
}

// GetReserve returns a copy of the stored reserve record.
func (e *Engine) GetReserve(reserveID uint64) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	return reserve.Clone(), nil
}

// AvailableLiquidity reports the cash the reserve can lend or pay out.
func (e *Engine) AvailableLiquidity(reserveID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	return e.availableLiquidity(reserve)
}

// TotalBorrowBalance reports the outstanding principal plus interest accrued
// through the given time.
func (e *Engine) TotalBorrowBalance(reserveID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	delta := e.now() - reserve.LastUpdateTimestamp
	accrued := interestOver(reserve.BorrowingInterestPerSecond, delta)
	return new(big.Int).Add(reserve.TotalBorrows, accrued), nil
}

// TotalDeposits reports the real underlying value of all outstanding shares.
func (e *Engine) TotalDeposits(reserveID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	index, err := e.GetReserveNormalizedIncome(reserveID)
	if err != nil {
		return nil, err
	}
	// Treasury shares minted by a pending accrual are not yet outstanding, so
	// value only the stored scaled supply here.
	return rayMul(reserve.TotalScaledSupply, index), nil
}

// BorrowRatePreview returns the per-year ray rate a new borrow of the given
// size would be charged.
func (e *Engine) BorrowRatePreview(reserveID uint64, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserve, err := e.loadReserve(reserveID)
	if err != nil {
		return nil, err
	}
	available, err := e.availableLiquidity(reserve)
	if err != nil {
		return nil, err
	}
	borrows := new(big.Int).Set(reserve.TotalBorrows)
	if amount != nil && amount.Sign() > 0 {
		borrows.Add(borrows, amount)
		available = new(big.Int).Sub(available, amount)
		if available.Sign() < 0 {
			available = big.NewInt(0)
		}
	}
	return e.strategyFor(reserveID).CalculateBorrowRate(borrows, available), nil
}

// GetBorrowLimitByOracle returns the maximum borrow amount permitted against a
// collection given the oracle TWAP price. A nil oracle yields no limit.
func (e *Engine) GetBorrowLimitByOracle(collection crypto.Address) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	if e.oracle == nil {
		return nil, nil
	}
	price, err := e.oracle.TwapPrice(collection)
	if err != nil {
		return nil, err
	}
	return percentMul(price, e.params.BorrowLimitBps), nil
}

// --- Internal accounting ---

func (e *Engine) loadReserve(reserveID uint64) (*Reserve, error) {
	reserve, ok, err := e.state.GetReserve(reserveID)
	if err != nil {
		return nil, err
	}
	if !ok || reserve == nil {
		return nil, ErrReserveNotFound
	}
	reserve.EnsureDefaults()
	return reserve, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	return acc, nil
}

// pendingIncome computes the income accumulated since the last refresh: the
// money-market balance growth plus the aggregate borrow interest stream, plus
// any additional income supplied by the caller (penalties, auction surplus).
func (e *Engine) pendingIncome(reserve *Reserve, additional *big.Int) (*big.Int, *big.Int, error) {
	income := big.NewInt(0)
	var observed *big.Int
	if reserve.IsMoneyMarketOn && e.moneyMarket != nil {
		current, err := e.moneyMarket.Balance(reserve.UnderlyingAsset)
		if err != nil {
			return nil, nil, err
		}
		observed = current
		growth := new(big.Int).Sub(current, reserve.LastMoneyMarketBalance)
		if growth.Sign() > 0 {
			income.Add(income, growth)
		}
	}
	delta := e.now() - reserve.LastUpdateTimestamp
	income.Add(income, interestOver(reserve.BorrowingInterestPerSecond, delta))
	if additional != nil && additional.Sign() > 0 {
		income.Add(income, additional)
	}
	return income, observed, nil
}

// updateState folds pending income into the supply index net of the treasury
// factor, mints the treasury's cut as scaled shares, and advances the borrow
// aggregate. Runs at the head of every mutating operation.
func (e *Engine) updateState(reserve *Reserve, additionalIncome *big.Int) error {
	income, observedMM, err := e.pendingIncome(reserve, additionalIncome)
	if err != nil {
		return err
	}
	delta := e.now() - reserve.LastUpdateTimestamp
	borrowIncome := interestOver(reserve.BorrowingInterestPerSecond, delta)

	if income.Sign() > 0 && reserve.TotalScaledSupply.Sign() > 0 {
		treasuryCut := percentMul(income, reserve.TreasuryFactorBps)
		userIncome := new(big.Int).Sub(income, treasuryCut)
		newIndex := new(big.Int).Add(reserve.LastSupplyIndex, rayDiv(userIncome, reserve.TotalScaledSupply))
		if !fits256(newIndex) {
			return ErrReserveIndexOverflow
		}
		reserve.LastSupplyIndex = newIndex
		if treasuryCut.Sign() > 0 {
			treasuryShares := rayDiv(treasuryCut, newIndex)
			if err := e.mintShares(reserve, e.params.TreasuryAddress, treasuryShares); err != nil {
				return err
			}
		}
	}

	reserve.TotalBorrows = new(big.Int).Add(reserve.TotalBorrows, borrowIncome)
	if observedMM != nil {
		reserve.LastMoneyMarketBalance = observedMM
	}
	reserve.LastUpdateTimestamp = e.now()
	return nil
}

func (e *Engine) mintShares(reserve *Reserve, to crypto.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return nil
	}
	held, err := e.state.GetShares(reserve.ReserveID, to)
	if err != nil {
		return err
	}
	if err := e.state.PutShares(reserve.ReserveID, to, new(big.Int).Add(held, shares)); err != nil {
		return err
	}
	reserve.TotalScaledSupply = new(big.Int).Add(reserve.TotalScaledSupply, shares)
	return nil
}

func (e *Engine) burnShares(reserve *Reserve, from crypto.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return nil
	}
	held, err := e.state.GetShares(reserve.ReserveID, from)
	if err != nil {
		return err
	}
	if held.Cmp(shares) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.state.PutShares(reserve.ReserveID, from, new(big.Int).Sub(held, shares)); err != nil {
		return err
	}
	reserve.TotalScaledSupply = new(big.Int).Sub(reserve.TotalScaledSupply, shares)
	return nil
}

func (e *Engine) availableLiquidity(reserve *Reserve) (*big.Int, error) {
	if reserve.IsMoneyMarketOn {
		if e.moneyMarket == nil {
			return nil, ErrMoneyMarketNotWired
		}
		return e.moneyMarket.Balance(reserve.UnderlyingAsset)
	}
	poolAcc, err := e.loadAccount(e.params.PoolAddress)
	if err != nil {
		return nil, err
	}
	return poolAcc.Balance(reserve.UnderlyingAsset), nil
}

// depositLiquidity routes incoming cash into money-market or local custody and
// refreshes the observed balance.
func (e *Engine) depositLiquidity(reserve *Reserve, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if reserve.IsMoneyMarketOn {
		if e.moneyMarket == nil {
			return ErrMoneyMarketNotWired
		}
		if err := e.moneyMarket.Deposit(reserve.UnderlyingAsset, amount); err != nil {
			return err
		}
		return e.syncMoneyMarket(reserve)
	}
	poolAcc, err := e.loadAccount(e.params.PoolAddress)
	if err != nil {
		return err
	}
	poolAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Add(poolAcc.Balance(reserve.UnderlyingAsset), amount))
	return e.state.PutAccount(e.params.PoolAddress, poolAcc)
}

// withdrawLiquidity pulls cash out of custody ahead of paying a recipient.
func (e *Engine) withdrawLiquidity(reserve *Reserve, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if reserve.IsMoneyMarketOn {
		if e.moneyMarket == nil {
			return ErrMoneyMarketNotWired
		}
		if err := e.moneyMarket.Withdraw(reserve.UnderlyingAsset, amount); err != nil {
			return err
		}
		return e.syncMoneyMarket(reserve)
	}
	poolAcc, err := e.loadAccount(e.params.PoolAddress)
	if err != nil {
		return err
	}
	held := poolAcc.Balance(reserve.UnderlyingAsset)
	if held.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	poolAcc.SetBalance(reserve.UnderlyingAsset, new(big.Int).Sub(held, amount))
	return e.state.PutAccount(e.params.PoolAddress, poolAcc)
}

func (e *Engine) syncMoneyMarket(reserve *Reserve) error {
	if !reserve.IsMoneyMarketOn || e.moneyMarket == nil {
		reserve.LastMoneyMarketBalance = big.NewInt(0)
		return nil
	}
	current, err := e.moneyMarket.Balance(reserve.UnderlyingAsset)
	if err != nil {
		return err
	}
	reserve.LastMoneyMarketBalance = current
	return nil
}
