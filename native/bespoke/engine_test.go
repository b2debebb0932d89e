package bespoke

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"opensky/core/types"
	"opensky/crypto"
)

type mockBespokeState struct {
	loans     map[uint64]*Loan
	nonces    map[string]bool
	floors    map[string]uint64
	accounts  map[string]*types.Account
	nftOwners map[string]crypto.Address
	seq       uint64
}

func newMockBespokeState() *mockBespokeState {
	return &mockBespokeState{
		loans:     make(map[uint64]*Loan),
		nonces:    make(map[string]bool),
		floors:    make(map[string]uint64),
		accounts:  make(map[string]*types.Account),
		nftOwners: make(map[string]crypto.Address),
	}
}

func nonceKey(signer crypto.Address, nonce uint64) string {
	return fmt.Sprintf("%x/%d", signer.Bytes(), nonce)
}

func (m *mockBespokeState) GetBespokeLoan(loanID uint64) (*Loan, bool, error) {
	loan, ok := m.loans[loanID]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockBespokeState) PutBespokeLoan(loan *Loan) error {
	m.loans[loan.LoanID] = loan.Clone()
	return nil
}

func (m *mockBespokeState) NextBespokeLoanID() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockBespokeState) NonceUsed(signer crypto.Address, nonce uint64) (bool, error) {
	return m.nonces[nonceKey(signer, nonce)], nil
}

func (m *mockBespokeState) MarkNonceUsed(signer crypto.Address, nonce uint64) error {
	m.nonces[nonceKey(signer, nonce)] = true
	return nil
}

func (m *mockBespokeState) NonceFloor(signer crypto.Address) (uint64, error) {
	return m.floors[string(signer.Bytes())], nil
}

func (m *mockBespokeState) SetNonceFloor(signer crypto.Address, floor uint64) error {
	m.floors[string(signer.Bytes())] = floor
	return nil
}

func (m *mockBespokeState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr.Bytes())]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

func (m *mockBespokeState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[string(addr.Bytes())] = account.Clone()
	return nil
}

func (m *mockBespokeState) GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error) {
	owner, ok := m.nftOwners[fmt.Sprintf("%x/%d", collection.Bytes(), tokenID)]
	if !ok {
		return crypto.Address{}, false, nil
	}
	return owner, true, nil
}

func (m *mockBespokeState) SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error {
	m.nftOwners[fmt.Sprintf("%x/%d", collection.Bytes(), tokenID)] = owner
	return nil
}

func (m *mockBespokeState) fund(addr crypto.Address, asset string, amount int64) {
	acc, _ := m.GetAccount(addr)
	acc.SetBalance(asset, big.NewInt(amount))
	m.accounts[string(addr.Bytes())] = acc
}

func (m *mockBespokeState) balance(addr crypto.Address, asset string) *big.Int {
	acc, _ := m.GetAccount(addr)
	return acc.Balance(asset)
}

// mockFund simulates pooled deposit shares redeemable into a recipient's raw
// balance.
type mockFund struct {
	asset  string
	state  *mockBespokeState
	values map[string]*big.Int
}

func newMockFund(asset string, state *mockBespokeState) *mockFund {
	return &mockFund{asset: asset, state: state, values: make(map[string]*big.Int)}
}

func (m *mockFund) UnderlyingAsset(reserveID uint64) (string, error) {
	return m.asset, nil
}

func (m *mockFund) DepositValueOf(reserveID uint64, owner crypto.Address) (*big.Int, error) {
	if v, ok := m.values[string(owner.Bytes())]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockFund) Withdraw(reserveID uint64, owner crypto.Address, amount *big.Int, to crypto.Address) error {
	held, _ := m.DepositValueOf(reserveID, owner)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("fund: insufficient shares")
	}
	m.values[string(owner.Bytes())] = new(big.Int).Sub(held, amount)
	acc, _ := m.state.GetAccount(to)
	acc.SetBalance(m.asset, new(big.Int).Add(acc.Balance(m.asset), amount))
	return m.state.PutAccount(to, acc)
}

func testAddr(tag byte) crypto.Address {
	b := make([]byte, 20)
	for i := range b {
		b[i] = tag
	}
	return crypto.NewAddress(crypto.OskyPrefix, b)
}

const (
	testChainID  = uint64(77)
	testDuration = 7 * 86400
	testOverdue  = 86400
	// One year of seconds borrowed at 100% per year accrues one wei per second.
	testSupply = int64(secondsPerYear)
)

type bespokeFixture struct {
	engine   *Engine
	state    *mockBespokeState
	clock    int64
	escrow   crypto.Address
	key      *crypto.PrivateKey
	borrower crypto.Address
	taker    crypto.Address
}

func newBespokeFixture(t *testing.T) *bespokeFixture {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &bespokeFixture{
		state:    newMockBespokeState(),
		clock:    1_700_000_000,
		escrow:   testAddr(0x01),
		key:      key,
		borrower: key.Address(),
		taker:    testAddr(0x02),
	}
	f.engine = NewEngine(Params{
		ChainID:           testChainID,
		EscrowAddress:     f.escrow,
		OverdueDuration:   testOverdue,
		OverdueLoanFeeBps: 200,
		Currencies:        []string{"weth"},
	})
	f.engine.SetState(f.state)
	f.engine.SetNowFunc(func() int64 { return f.clock })
	return f
}

func (f *bespokeFixture) offer() BorrowOffer {
	o := sampleOffer(f.borrower)
	o.Deadline = f.clock + 3600
	return o
}

func (f *bespokeFixture) sign(t *testing.T, offer BorrowOffer) []byte {
	t.Helper()
	sig, err := Sign(offer, testChainID, f.key)
	if err != nil {
		t.Fatalf("sign offer: %v", err)
	}
	return sig
}

func (f *bespokeFixture) seedCollateral(t *testing.T, offer BorrowOffer) {
	t.Helper()
	if err := f.state.SetNFTOwner(offer.NFTAddress, offer.TokenID, f.borrower); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
}

func (f *bespokeFixture) take(t *testing.T, offer BorrowOffer) *Loan {
	t.Helper()
	loan, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(testSupply), testDuration)
	if err != nil {
		t.Fatalf("take offer: %v", err)
	}
	return loan
}

func TestTakeBorrowOffer(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)

	begin := f.clock
	loan := f.take(t, offer)

	if loan.LoanID != 1 {
		t.Fatalf("loan ID = %d, want 1", loan.LoanID)
	}
	if !loan.Lender.Equal(f.taker) || !loan.LenderReceipt.Equal(f.taker) {
		t.Fatalf("lender = %s / %s, want taker", loan.Lender, loan.LenderReceipt)
	}
	if !loan.BorrowerReceipt.Equal(f.borrower) {
		t.Fatalf("borrower receipt = %s, want borrower", loan.BorrowerReceipt)
	}
	if loan.BorrowOverdueTime != begin+testDuration {
		t.Fatalf("overdue time = %d", loan.BorrowOverdueTime)
	}
	if loan.LiquidatableTime != begin+testDuration+testOverdue {
		t.Fatalf("liquidatable time = %d", loan.LiquidatableTime)
	}
	if loan.InterestPerSecond.Cmp(ray) != 0 {
		t.Fatalf("interest stream = %s, want RAY", loan.InterestPerSecond)
	}

	if got := f.state.balance(f.borrower, "WETH"); got.Cmp(big.NewInt(testSupply)) != 0 {
		t.Fatalf("borrower payout = %s, want %d", got, testSupply)
	}
	if got := f.state.balance(f.taker, "WETH"); got.Cmp(big.NewInt(40_000_000-testSupply)) != 0 {
		t.Fatalf("taker balance = %s", got)
	}
	owner, _, _ := f.state.GetNFTOwner(offer.NFTAddress, offer.TokenID)
	if !owner.Equal(f.escrow) {
		t.Fatalf("collateral owner = %s, want escrow", owner)
	}

	// The nonce is burned before anything else can reuse it.
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(testSupply), testDuration); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("nonce replay: got %v", err)
	}
}

func TestTakeBorrowOfferValidation(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	supply := big.NewInt(testSupply)

	expired := offer
	expired.Deadline = f.clock - 1
	if _, err := f.engine.TakeBorrowOffer(expired, f.sign(t, expired), f.taker, supply, testDuration); !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("expired offer: got %v", err)
	}

	foreign := offer
	foreign.Currency = "DAI"
	if _, err := f.engine.TakeBorrowOffer(foreign, f.sign(t, foreign), f.taker, supply, testDuration); !errors.Is(err, ErrCurrencyNotAllowed) {
		t.Fatalf("foreign currency: got %v", err)
	}

	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(999_999), testDuration); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("amount below range: got %v", err)
	}
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, supply, 60); !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("duration below range: got %v", err)
	}

	otherKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	forged, err := Sign(offer, testChainID, otherKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.engine.TakeBorrowOffer(offer, forged, f.taker, supply, testDuration); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("forged signature: got %v", err)
	}

	// Collateral owned by someone else.
	if err := f.state.SetNFTOwner(offer.NFTAddress, offer.TokenID, testAddr(0x99)); err != nil {
		t.Fatalf("move collateral: %v", err)
	}
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, supply, testDuration); !errors.Is(err, ErrCollateralNotOwned) {
		t.Fatalf("foreign collateral: got %v", err)
	}
	f.seedCollateral(t, offer)

	// Underfunded taker. An earlier attempt burned the nonce, so bump it.
	f.state.fund(f.taker, "WETH", 1_000_000)
	fresh := offer
	fresh.Nonce = 20
	if _, err := f.engine.TakeBorrowOffer(fresh, f.sign(t, fresh), f.taker, supply, testDuration); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("underfunded taker: got %v", err)
	}
}

func TestTakeBorrowOfferBlendedFunding(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)

	fund := newMockFund("WETH", f.state)
	fund.values[string(f.taker.Bytes())] = big.NewInt(10_000_000)
	f.engine.SetLiquidityFund(fund)
	f.state.fund(f.taker, "WETH", 25_000_000)

	f.take(t, offer)

	// 10M redeemed from pooled shares, the 21,536,000 shortfall from balance.
	if got, _ := fund.DepositValueOf(offer.ReserveID, f.taker); got.Sign() != 0 {
		t.Fatalf("remaining pooled value = %s, want 0", got)
	}
	if got := f.state.balance(f.taker, "WETH"); got.Cmp(big.NewInt(25_000_000-(testSupply-10_000_000))) != 0 {
		t.Fatalf("taker balance = %s", got)
	}
	if got := f.state.balance(f.borrower, "WETH"); got.Cmp(big.NewInt(testSupply)) != 0 {
		t.Fatalf("borrower payout = %s, want %d", got, testSupply)
	}
}

func TestRepayWhileBorrowing(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	loan := f.take(t, offer)

	f.clock += 1000

	if _, err := f.engine.Repay(loan.LoanID, testAddr(0x99)); !errors.Is(err, ErrNotReceiptHolder) {
		t.Fatalf("foreign repay: got %v", err)
	}

	f.state.fund(f.borrower, "WETH", 32_000_000)
	takerBefore := f.state.balance(f.taker, "WETH")
	owed, err := f.engine.Repay(loan.LoanID, f.borrower)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	want := big.NewInt(testSupply + 1000)
	if owed.Cmp(want) != 0 {
		t.Fatalf("owed = %s, want %s", owed, want)
	}
	wantTaker := new(big.Int).Add(takerBefore, owed)
	if got := f.state.balance(f.taker, "WETH"); got.Cmp(wantTaker) != 0 {
		t.Fatalf("lender proceeds = %s, want %s", got, wantTaker)
	}
	owner, _, _ := f.state.GetNFTOwner(offer.NFTAddress, offer.TokenID)
	if !owner.Equal(f.borrower) {
		t.Fatalf("collateral owner = %s, want borrower", owner)
	}
	status, err := f.engine.GetStatus(loan.LoanID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != LoanEnd {
		t.Fatalf("status = %s, want END", status)
	}
}

func TestRepayWhileOverdueChargesFee(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	loan := f.take(t, offer)

	f.clock += testDuration + 10
	status, err := f.engine.GetStatus(loan.LoanID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != LoanOverdue {
		t.Fatalf("status = %s, want OVERDUE", status)
	}

	f.state.fund(f.borrower, "WETH", 34_000_000)
	owed, err := f.engine.Repay(loan.LoanID, f.borrower)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	// 2% overdue fee on principal.
	want := big.NewInt(testSupply + (testDuration + 10) + 630_720)
	if owed.Cmp(want) != 0 {
		t.Fatalf("owed = %s, want %s", owed, want)
	}
}

func TestRepayBlockedWhenLiquidatable(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	loan := f.take(t, offer)

	f.clock += testDuration + testOverdue + 10
	f.state.fund(f.borrower, "WETH", 40_000_000)
	if _, err := f.engine.Repay(loan.LoanID, f.borrower); !errors.Is(err, ErrLoanStatusNotAllowed) {
		t.Fatalf("liquidatable repay: got %v", err)
	}
}

func TestForclose(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	loan := f.take(t, offer)

	if err := f.engine.Forclose(loan.LoanID, f.taker); !errors.Is(err, ErrLoanStatusNotAllowed) {
		t.Fatalf("premature forclose: got %v", err)
	}

	f.clock += testDuration + testOverdue + 10
	if err := f.engine.Forclose(loan.LoanID, testAddr(0x99)); !errors.Is(err, ErrNotReceiptHolder) {
		t.Fatalf("foreign forclose: got %v", err)
	}
	if err := f.engine.Forclose(loan.LoanID, f.taker); err != nil {
		t.Fatalf("forclose: %v", err)
	}
	owner, _, _ := f.state.GetNFTOwner(offer.NFTAddress, offer.TokenID)
	if !owner.Equal(f.taker) {
		t.Fatalf("collateral owner = %s, want lender", owner)
	}
	status, err := f.engine.GetStatus(loan.LoanID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != LoanEnd {
		t.Fatalf("status = %s, want END", status)
	}
}

func TestTransferReceipts(t *testing.T) {
	f := newBespokeFixture(t)
	offer := f.offer()
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	loan := f.take(t, offer)

	newLender := testAddr(0x40)
	newBorrower := testAddr(0x41)

	if err := f.engine.TransferReceipt(loan.LoanID, true, newLender, newLender); !errors.Is(err, ErrNotReceiptHolder) {
		t.Fatalf("foreign lender transfer: got %v", err)
	}
	if err := f.engine.TransferReceipt(loan.LoanID, true, f.taker, newLender); err != nil {
		t.Fatalf("lender transfer: %v", err)
	}
	if err := f.engine.TransferReceipt(loan.LoanID, false, f.borrower, newBorrower); err != nil {
		t.Fatalf("borrower transfer: %v", err)
	}

	// Repayment authority and proceeds follow the receipts.
	f.clock += 1000
	f.state.fund(newBorrower, "WETH", 32_000_000)
	if _, err := f.engine.Repay(loan.LoanID, f.borrower); !errors.Is(err, ErrNotReceiptHolder) {
		t.Fatalf("stale receipt repay: got %v", err)
	}
	owed, err := f.engine.Repay(loan.LoanID, newBorrower)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := f.state.balance(newLender, "WETH"); got.Cmp(owed) != 0 {
		t.Fatalf("new lender proceeds = %s, want %s", got, owed)
	}
	owner, _, _ := f.state.GetNFTOwner(offer.NFTAddress, offer.TokenID)
	if !owner.Equal(newBorrower) {
		t.Fatalf("collateral owner = %s, want new borrower receipt holder", owner)
	}
}

func TestCancelAllBorrowOffers(t *testing.T) {
	f := newBespokeFixture(t)
	if err := f.engine.CancelAllBorrowOffers(f.borrower, 5); err != nil {
		t.Fatalf("raise floor: %v", err)
	}
	if err := f.engine.CancelAllBorrowOffers(f.borrower, 5); !errors.Is(err, ErrInvalidNonceFloor) {
		t.Fatalf("non-increasing floor: got %v", err)
	}
	if err := f.engine.CancelAllBorrowOffers(f.borrower, 3); !errors.Is(err, ErrInvalidNonceFloor) {
		t.Fatalf("lower floor: got %v", err)
	}

	offer := f.offer()
	offer.Nonce = 3
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(testSupply), testDuration); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("below-floor nonce: got %v", err)
	}
}

func TestCancelMultipleBorrowOffers(t *testing.T) {
	f := newBespokeFixture(t)
	if err := f.engine.CancelMultipleBorrowOffers(f.borrower, []uint64{9, 11}); err != nil {
		t.Fatalf("cancel nonces: %v", err)
	}

	offer := f.offer()
	offer.Nonce = 9
	f.seedCollateral(t, offer)
	f.state.fund(f.taker, "WETH", 40_000_000)
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(testSupply), testDuration); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("burned nonce: got %v", err)
	}

	// An untouched nonce still settles.
	offer.Nonce = 10
	if _, err := f.engine.TakeBorrowOffer(offer, f.sign(t, offer), f.taker, big.NewInt(testSupply), testDuration); err != nil {
		t.Fatalf("fresh nonce: %v", err)
	}
}
