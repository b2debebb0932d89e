package pool

import (
	"fmt"
	"math/big"
	"testing"

	"opensky/core/types"
	"opensky/crypto"
	nativecommon "opensky/native/common"
)

type mockPoolState struct {
	reserves    map[uint64]*Reserve
	loans       map[uint64]*Loan
	accounts    map[string]*types.Account
	shares      map[string]*big.Int
	collaterals map[string]*CollateralConfig
	nftOwners   map[string]crypto.Address
	reserveSeq  uint64
	loanSeq     uint64
}

func newMockPoolState() *mockPoolState {
	return &mockPoolState{
		reserves:    make(map[uint64]*Reserve),
		loans:       make(map[uint64]*Loan),
		accounts:    make(map[string]*types.Account),
		shares:      make(map[string]*big.Int),
		collaterals: make(map[string]*CollateralConfig),
		nftOwners:   make(map[string]crypto.Address),
	}
}

func sharesKey(reserveID uint64, addr crypto.Address) string {
	return fmt.Sprintf("%d/%x", reserveID, addr.Bytes())
}

func nftKey(collection crypto.Address, tokenID uint64) string {
	return fmt.Sprintf("%x/%d", collection.Bytes(), tokenID)
}

func (m *mockPoolState) GetReserve(reserveID uint64) (*Reserve, bool, error) {
	reserve, ok := m.reserves[reserveID]
	if !ok {
		return nil, false, nil
	}
	return reserve.Clone(), true, nil
}

func (m *mockPoolState) PutReserve(reserve *Reserve) error {
	m.reserves[reserve.ReserveID] = reserve.Clone()
	return nil
}

func (m *mockPoolState) NextReserveID() (uint64, error) {
	m.reserveSeq++
	return m.reserveSeq, nil
}

func (m *mockPoolState) GetLoan(loanID uint64) (*Loan, bool, error) {
	loan, ok := m.loans[loanID]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockPoolState) PutLoan(loan *Loan) error {
	m.loans[loan.LoanID] = loan.Clone()
	return nil
}

func (m *mockPoolState) NextLoanID() (uint64, error) {
	m.loanSeq++
	return m.loanSeq, nil
}

func (m *mockPoolState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr.Bytes())]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

func (m *mockPoolState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[string(addr.Bytes())] = account.Clone()
	return nil
}

func (m *mockPoolState) GetShares(reserveID uint64, addr crypto.Address) (*big.Int, error) {
	if held, ok := m.shares[sharesKey(reserveID, addr)]; ok {
		return new(big.Int).Set(held), nil
	}
	return big.NewInt(0), nil
}

func (m *mockPoolState) PutShares(reserveID uint64, addr crypto.Address, held *big.Int) error {
	m.shares[sharesKey(reserveID, addr)] = new(big.Int).Set(held)
	return nil
}

func (m *mockPoolState) GetCollateralConfig(collection crypto.Address) (*CollateralConfig, bool, error) {
	cfg, ok := m.collaterals[string(collection.Bytes())]
	if !ok {
		return nil, false, nil
	}
	clone := *cfg
	return &clone, true, nil
}

func (m *mockPoolState) PutCollateralConfig(cfg *CollateralConfig) error {
	clone := *cfg
	m.collaterals[string(cfg.NFTAddress.Bytes())] = &clone
	return nil
}

func (m *mockPoolState) GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error) {
	owner, ok := m.nftOwners[nftKey(collection, tokenID)]
	if !ok {
		return crypto.Address{}, false, nil
	}
	return owner, true, nil
}

func (m *mockPoolState) SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error {
	m.nftOwners[nftKey(collection, tokenID)] = owner
	return nil
}

func (m *mockPoolState) fund(addr crypto.Address, asset string, amount int64) {
	acc, _ := m.GetAccount(addr)
	acc.SetBalance(asset, big.NewInt(amount))
	m.accounts[string(addr.Bytes())] = acc
}

func (m *mockPoolState) balance(addr crypto.Address, asset string) *big.Int {
	acc, _ := m.GetAccount(addr)
	return acc.Balance(asset)
}

type mockMoneyMarket struct {
	balances map[string]*big.Int
}

func newMockMoneyMarket() *mockMoneyMarket {
	return &mockMoneyMarket{balances: make(map[string]*big.Int)}
}

func (m *mockMoneyMarket) Deposit(asset string, amount *big.Int) error {
	m.balances[asset] = new(big.Int).Add(m.balance(asset), amount)
	return nil
}

func (m *mockMoneyMarket) Withdraw(asset string, amount *big.Int) error {
	held := m.balance(asset)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("money market: insufficient balance")
	}
	m.balances[asset] = new(big.Int).Sub(held, amount)
	return nil
}

func (m *mockMoneyMarket) Balance(asset string) (*big.Int, error) {
	return new(big.Int).Set(m.balance(asset)), nil
}

func (m *mockMoneyMarket) balance(asset string) *big.Int {
	if held, ok := m.balances[asset]; ok {
		return held
	}
	return big.NewInt(0)
}

// flatRate pins the borrow rate so interest amounts in tests stay round.
type flatRate struct {
	rate *big.Int
}

func (f flatRate) CalculateBorrowRate(totalBorrows, availableLiquidity *big.Int) *big.Int {
	return new(big.Int).Set(f.rate)
}

type testClock struct {
	now int64
}

func (c *testClock) advance(seconds int64) { c.now += seconds }

func testAddr(tag byte) crypto.Address {
	b := make([]byte, 20)
	for i := range b {
		b[i] = tag
	}
	return crypto.NewAddress(crypto.OskyPrefix, b)
}

type poolFixture struct {
	engine   *Engine
	state    *mockPoolState
	clock    *testClock
	gov      crypto.Address
	operator crypto.Address
	treasury crypto.Address
	poolAddr crypto.Address
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	f := &poolFixture{
		state:    newMockPoolState(),
		clock:    &testClock{now: 1_700_000_000},
		gov:      testAddr(0x01),
		operator: testAddr(0x02),
		treasury: testAddr(0x03),
		poolAddr: testAddr(0x04),
	}
	f.engine = NewEngine(PoolParams{
		TreasuryAddress:   f.treasury,
		PoolAddress:       f.poolAddr,
		PrepaymentFeeBps:  100,
		OverdueLoanFeeBps: 200,
		BorrowLimitBps:    5000,
	})
	f.engine.SetState(f.state)
	f.engine.SetRoles(nativecommon.NewStaticRoles(map[string][]crypto.Address{
		nativecommon.RoleGovernance:          {f.gov},
		nativecommon.RoleLiquidationOperator: {f.operator},
	}))
	f.engine.SetNowFunc(func() int64 { return f.clock.now })
	return f
}

func (f *poolFixture) createReserve(t *testing.T, asset string, treasuryBps uint64) *Reserve {
	t.Helper()
	reserve, err := f.engine.CreateReserve(f.gov, asset, treasuryBps)
	if err != nil {
		t.Fatalf("create reserve: %v", err)
	}
	return reserve
}

func (f *poolFixture) listCollateral(t *testing.T, collection crypto.Address, minDur, maxDur, extendable, overdue int64) {
	t.Helper()
	err := f.engine.SetCollateral(f.gov, CollateralConfig{
		NFTAddress:         collection,
		Name:               "Test Collection",
		Enabled:            true,
		MinBorrowDuration:  minDur,
		MaxBorrowDuration:  maxDur,
		ExtendableDuration: extendable,
		OverdueDuration:    overdue,
	})
	if err != nil {
		t.Fatalf("set collateral: %v", err)
	}
}
