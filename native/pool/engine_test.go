package pool

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "opensky/native/common"
)

func TestCreateReserveRequiresGovernance(t *testing.T) {
	f := newPoolFixture(t)
	if _, err := f.engine.CreateReserve(testAddr(0x99), "WETH", 0); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateReserveDefaults(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "  weth ", 250)
	if reserve.ReserveID != 1 {
		t.Fatalf("first reserve ID = %d, want 1", reserve.ReserveID)
	}
	if reserve.UnderlyingAsset != "WETH" {
		t.Fatalf("asset = %q, want WETH", reserve.UnderlyingAsset)
	}
	if reserve.LastSupplyIndex.Cmp(ray) != 0 {
		t.Fatalf("initial index = %s, want RAY", reserve.LastSupplyIndex)
	}
	if reserve.TreasuryFactorBps != 250 {
		t.Fatalf("treasury factor = %d, want 250", reserve.TreasuryFactorBps)
	}
	second := f.createReserve(t, "DAI", 0)
	if second.ReserveID != 2 {
		t.Fatalf("second reserve ID = %d, want 2", second.ReserveID)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	alice := testAddr(0x10)
	bob := testAddr(0x11)
	f.state.fund(alice, "WETH", 1000)

	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(400), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	held, _ := f.state.GetShares(reserve.ReserveID, alice)
	if held.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("shares = %s, want 400", held)
	}
	if got := f.state.balance(f.poolAddr, "WETH"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("pool custody = %s, want 400", got)
	}
	if got := f.state.balance(alice, "WETH"); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance = %s, want 600", got)
	}

	if err := f.engine.Withdraw(reserve.ReserveID, alice, big.NewInt(150), bob); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.state.balance(bob, "WETH"); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("bob balance = %s, want 150", got)
	}
	value, err := f.engine.DepositValueOf(reserve.ReserveID, alice)
	if err != nil {
		t.Fatalf("deposit value: %v", err)
	}
	if value.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("remaining deposit value = %s, want 250", value)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100)

	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(0), alice); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit: got %v", err)
	}
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(101), alice); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw deposit: got %v", err)
	}
	if err := f.engine.Deposit(99, alice, big.NewInt(10), alice); !errors.Is(err, ErrReserveNotFound) {
		t.Fatalf("unknown reserve: got %v", err)
	}
}

func TestWithdrawValidation(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Withdraw(reserve.ReserveID, alice, big.NewInt(101), alice); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw withdraw: got %v", err)
	}
}

func TestDepositMintsFloorShare(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	// Push the index high enough that one wei maps to zero scaled shares.
	stored := f.state.reserves[reserve.ReserveID]
	stored.LastSupplyIndex = new(big.Int).Mul(ray, big.NewInt(3))

	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 10)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(1), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	held, _ := f.state.GetShares(reserve.ReserveID, alice)
	if held.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("minted shares = %s, want floor of 1", held)
	}
}

// seedBorrowAggregates fakes an outstanding borrow directly in state so index
// accrual can be exercised without the loan machinery.
func seedBorrowAggregates(f *poolFixture, reserveID uint64, principal int64, stream *big.Int) {
	stored := f.state.reserves[reserveID]
	stored.TotalBorrows = big.NewInt(principal)
	stored.BorrowingInterestPerSecond = new(big.Int).Set(stream)
	poolAcc, _ := f.state.GetAccount(f.poolAddr)
	poolAcc.SetBalance(stored.UnderlyingAsset, new(big.Int).Sub(poolAcc.Balance(stored.UnderlyingAsset), big.NewInt(principal)))
	f.state.accounts[string(f.poolAddr.Bytes())] = poolAcc
}

func TestIndexAccrualFromBorrowInterest(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100_000_000)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100_000_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// One wei per second against the whole reserve.
	seedBorrowAggregates(f, reserve.ReserveID, 31_536_000, ray)
	f.clock.advance(1000)

	// Any mutating operation folds the accrued interest first.
	if err := f.engine.SetTreasuryFactor(f.gov, reserve.ReserveID, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := f.engine.GetReserve(reserve.ReserveID)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	wantIndex := new(big.Int).Add(ray, rayDiv(big.NewInt(1000), big.NewInt(100_000_000)))
	if got.LastSupplyIndex.Cmp(wantIndex) != 0 {
		t.Fatalf("index = %s, want %s", got.LastSupplyIndex, wantIndex)
	}
	if got.TotalBorrows.Cmp(big.NewInt(31_537_000)) != 0 {
		t.Fatalf("total borrows = %s, want 31537000", got.TotalBorrows)
	}
	value, err := f.engine.DepositValueOf(reserve.ReserveID, alice)
	if err != nil {
		t.Fatalf("deposit value: %v", err)
	}
	if value.Cmp(big.NewInt(100_001_000)) != 0 {
		t.Fatalf("deposit value = %s, want 100001000", value)
	}
}

func TestIndexAccrualMintsTreasuryCut(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 2000)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100_000_000)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100_000_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	seedBorrowAggregates(f, reserve.ReserveID, 31_536_000, ray)
	f.clock.advance(1000)

	if err := f.engine.SetTreasuryFactor(f.gov, reserve.ReserveID, 2000); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// 1000 wei of income: 200 to the treasury, 800 spread across users.
	treasuryShares, _ := f.state.GetShares(reserve.ReserveID, f.treasury)
	if treasuryShares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("treasury shares = %s, want 200", treasuryShares)
	}
	aliceValue, err := f.engine.DepositValueOf(reserve.ReserveID, alice)
	if err != nil {
		t.Fatalf("deposit value: %v", err)
	}
	if aliceValue.Cmp(big.NewInt(100_000_800)) != 0 {
		t.Fatalf("alice value = %s, want 100000800", aliceValue)
	}
	treasuryValue, err := f.engine.DepositValueOf(reserve.ReserveID, f.treasury)
	if err != nil {
		t.Fatalf("treasury value: %v", err)
	}
	if treasuryValue.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("treasury value = %s, want 200", treasuryValue)
	}
}

func TestWithdrawTreasury(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 2000)
	alice := testAddr(0x10)
	bob := testAddr(0x11)
	f.state.fund(alice, "WETH", 100_000_000)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100_000_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	seedBorrowAggregates(f, reserve.ReserveID, 31_536_000, ray)
	f.clock.advance(1000)
	if err := f.engine.SetTreasuryFactor(f.gov, reserve.ReserveID, 2000); err != nil {
		t.Fatalf("settle: %v", err)
	}

	err := f.engine.WithdrawTreasury(alice, reserve.ReserveID, big.NewInt(100), bob)
	if !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("non-governance withdraw: got %v", err)
	}

	if err := f.engine.WithdrawTreasury(f.gov, reserve.ReserveID, big.NewInt(200), bob); err != nil {
		t.Fatalf("withdraw treasury: %v", err)
	}
	if got := f.state.balance(bob, "WETH"); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("recipient balance = %s, want 200", got)
	}
	left, err := f.engine.DepositValueOf(reserve.ReserveID, f.treasury)
	if err != nil {
		t.Fatalf("treasury value: %v", err)
	}
	if left.Sign() != 0 {
		t.Fatalf("treasury value after withdraw = %s, want 0", left)
	}
}

func TestReserveAccountingIdentity(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 2000)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100_000_000)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100_000_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	seedBorrowAggregates(f, reserve.ReserveID, 31_536_000, ray)
	f.clock.advance(1000)
	if err := f.engine.SetTreasuryFactor(f.gov, reserve.ReserveID, 2000); err != nil {
		t.Fatalf("settle: %v", err)
	}

	available, err := f.engine.AvailableLiquidity(reserve.ReserveID)
	if err != nil {
		t.Fatalf("available liquidity: %v", err)
	}
	borrows, err := f.engine.TotalBorrowBalance(reserve.ReserveID)
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	deposits, err := f.engine.TotalDeposits(reserve.ReserveID)
	if err != nil {
		t.Fatalf("total deposits: %v", err)
	}
	assets := new(big.Int).Add(available, borrows)
	diff := new(big.Int).Sub(assets, deposits)
	if diff.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("cash %s + borrows %s vs deposits %s: off by %s", available, borrows, deposits, diff)
	}
}

func TestMoneyMarketLifecycle(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "DAI", 0)
	alice := testAddr(0x10)
	f.state.fund(alice, "DAI", 1_000_000)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(1_000_000), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.OpenMoneyMarket(f.gov, reserve.ReserveID); !errors.Is(err, ErrMoneyMarketNotWired) {
		t.Fatalf("open without adapter: got %v", err)
	}

	mm := newMockMoneyMarket()
	f.engine.SetMoneyMarket(mm)
	if err := f.engine.OpenMoneyMarket(f.gov, reserve.ReserveID); err != nil {
		t.Fatalf("open money market: %v", err)
	}
	if got := f.state.balance(f.poolAddr, "DAI"); got.Sign() != 0 {
		t.Fatalf("local custody after open = %s, want 0", got)
	}
	if got, _ := mm.Balance("DAI"); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("money market balance = %s, want 1000000", got)
	}
	if err := f.engine.OpenMoneyMarket(f.gov, reserve.ReserveID); !errors.Is(err, ErrMoneyMarketUnchanged) {
		t.Fatalf("double open: got %v", err)
	}

	// External yield arrives; the next settlement distributes it.
	mm.balances["DAI"] = big.NewInt(1_000_500)
	if err := f.engine.SetTreasuryFactor(f.gov, reserve.ReserveID, 0); err != nil {
		t.Fatalf("settle: %v", err)
	}
	value, err := f.engine.DepositValueOf(reserve.ReserveID, alice)
	if err != nil {
		t.Fatalf("deposit value: %v", err)
	}
	if value.Cmp(big.NewInt(1_000_500)) != 0 {
		t.Fatalf("deposit value = %s, want 1000500", value)
	}

	if err := f.engine.CloseMoneyMarket(f.gov, reserve.ReserveID); err != nil {
		t.Fatalf("close money market: %v", err)
	}
	if got := f.state.balance(f.poolAddr, "DAI"); got.Cmp(big.NewInt(1_000_500)) != 0 {
		t.Fatalf("local custody after close = %s, want 1000500", got)
	}
	if got, _ := mm.Balance("DAI"); got.Sign() != 0 {
		t.Fatalf("money market balance after close = %s, want 0", got)
	}
}

func TestPauseBlocksLiquidityOperations(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100)
	f.engine.SetPauses(nativecommon.StaticPauses{"pool": true})

	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(50), alice); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused deposit: got %v", err)
	}
	if err := f.engine.Withdraw(reserve.ReserveID, alice, big.NewInt(50), alice); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused withdraw: got %v", err)
	}
}

func TestBorrowRatePreview(t *testing.T) {
	f := newPoolFixture(t)
	reserve := f.createReserve(t, "WETH", 0)
	f.engine.SetInterestStrategy(reserve.ReserveID, testStrategy())
	alice := testAddr(0x10)
	f.state.fund(alice, "WETH", 100)
	if err := f.engine.Deposit(reserve.ReserveID, alice, big.NewInt(100), alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	rate, err := f.engine.BorrowRatePreview(reserve.ReserveID, big.NewInt(80))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	want := new(big.Int).Add(testBase, testSlope1)
	if rate.Cmp(want) != 0 {
		t.Fatalf("preview rate = %s, want %s", rate, want)
	}
}
