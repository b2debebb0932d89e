package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"opensky/core/types"
	"opensky/crypto"
	"opensky/native/auction"
	"opensky/native/bespoke"
	"opensky/native/pool"
)

// Key prefixes. Every record the ledger persists lives under one of these.
const (
	keyReserve     = "reserve:"
	keyPoolLoan    = "pool-loan:"
	keyAuction     = "auction:"
	keyBespoke     = "bespoke-loan:"
	keyAccount     = "acct:"
	keyShares      = "shares:"
	keyCollateral  = "collateral:"
	keyNFTOwner    = "nft:"
	keyNonceUsed   = "nonce:"
	keyNonceFloor  = "noncefloor:"
	keySequence    = "seq:"
	keyMoneyMarket = "moneymarket:"
)

// Sequence names.
const (
	seqReserve     = "reserve"
	seqPoolLoan    = "pool-loan"
	seqAuction     = "auction"
	seqBespokeLoan = "bespoke-loan"
)

// State is a buffered view over a Database. Reads fall through to the backing
// store; writes stay in the overlay until Commit. Discarding the State throws
// the overlay away, which gives ledger operations all-or-nothing semantics.
type State struct {
	db      Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewState opens a fresh overlay on db.
func NewState(db Database) *State {
	return &State{
		db:      db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Commit flushes the overlay into the backing store.
func (s *State) Commit() error {
	for key := range s.deletes {
		if err := s.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range s.writes {
		if err := s.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	s.writes = make(map[string][]byte)
	s.deletes = make(map[string]struct{})
	return nil
}

func (s *State) get(key string) ([]byte, bool, error) {
	if value, ok := s.writes[key]; ok {
		return value, true, nil
	}
	if _, ok := s.deletes[key]; ok {
		return nil, false, nil
	}
	value, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *State) put(key string, value []byte) {
	delete(s.deletes, key)
	s.writes[key] = value
}

func (s *State) getJSON(key string, out interface{}) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *State) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	s.put(key, raw)
	return nil
}

func (s *State) nextSequence(name string) (uint64, error) {
	key := keySequence + name
	raw, ok, err := s.get(key)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if ok && len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	s.put(key, buf)
	return next, nil
}

// Sequence reports the highest ID handed out for name without advancing it.
func (s *State) Sequence(name string) (uint64, error) {
	raw, ok, err := s.get(keySequence + name)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("storage: malformed sequence %q", name)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func idKey(prefix string, id uint64) string {
	return prefix + strconv.FormatUint(id, 10)
}

func addrKey(prefix string, addr crypto.Address) string {
	return prefix + addr.String()
}

func nftKey(collection crypto.Address, tokenID uint64) string {
	return keyNFTOwner + collection.String() + ":" + strconv.FormatUint(tokenID, 10)
}

// --- Pool state ---

func (s *State) GetReserve(reserveID uint64) (*pool.Reserve, bool, error) {
	reserve := new(pool.Reserve)
	ok, err := s.getJSON(idKey(keyReserve, reserveID), reserve)
	if err != nil || !ok {
		return nil, false, err
	}
	reserve.EnsureDefaults()
	return reserve, true, nil
}

func (s *State) PutReserve(reserve *pool.Reserve) error {
	if reserve == nil {
		return errors.New("storage: nil reserve")
	}
	return s.putJSON(idKey(keyReserve, reserve.ReserveID), reserve)
}

func (s *State) NextReserveID() (uint64, error) {
	return s.nextSequence(seqReserve)
}

// ListReserves walks every reserve minted so far in ID order.
func (s *State) ListReserves() ([]*pool.Reserve, error) {
	top, err := s.Sequence(seqReserve)
	if err != nil {
		return nil, err
	}
	reserves := make([]*pool.Reserve, 0, top)
	for id := uint64(1); id <= top; id++ {
		reserve, ok, err := s.GetReserve(id)
		if err != nil {
			return nil, err
		}
		if ok {
			reserves = append(reserves, reserve)
		}
	}
	return reserves, nil
}

func (s *State) GetLoan(loanID uint64) (*pool.Loan, bool, error) {
	loan := new(pool.Loan)
	ok, err := s.getJSON(idKey(keyPoolLoan, loanID), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

func (s *State) PutLoan(loan *pool.Loan) error {
	if loan == nil {
		return errors.New("storage: nil loan")
	}
	return s.putJSON(idKey(keyPoolLoan, loan.LoanID), loan)
}

func (s *State) NextLoanID() (uint64, error) {
	return s.nextSequence(seqPoolLoan)
}

// ListLoans walks every pool loan minted so far in ID order.
func (s *State) ListLoans() ([]*pool.Loan, error) {
	top, err := s.Sequence(seqPoolLoan)
	if err != nil {
		return nil, err
	}
	loans := make([]*pool.Loan, 0, top)
	for id := uint64(1); id <= top; id++ {
		loan, ok, err := s.GetLoan(id)
		if err != nil {
			return nil, err
		}
		if ok {
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

func (s *State) GetShares(reserveID uint64, addr crypto.Address) (*big.Int, error) {
	key := keyShares + strconv.FormatUint(reserveID, 10) + ":" + addr.String()
	raw, ok, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	shares, valid := new(big.Int).SetString(string(raw), 10)
	if !valid {
		return nil, fmt.Errorf("storage: malformed share balance at %q", key)
	}
	return shares, nil
}

func (s *State) PutShares(reserveID uint64, addr crypto.Address, shares *big.Int) error {
	key := keyShares + strconv.FormatUint(reserveID, 10) + ":" + addr.String()
	if shares == nil {
		shares = big.NewInt(0)
	}
	s.put(key, []byte(shares.String()))
	return nil
}

func (s *State) GetCollateralConfig(collection crypto.Address) (*pool.CollateralConfig, bool, error) {
	cfg := new(pool.CollateralConfig)
	ok, err := s.getJSON(addrKey(keyCollateral, collection), cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

func (s *State) PutCollateralConfig(cfg *pool.CollateralConfig) error {
	if cfg == nil {
		return errors.New("storage: nil collateral config")
	}
	return s.putJSON(addrKey(keyCollateral, cfg.NFTAddress), cfg)
}

// --- Shared account and collateral registry ---

func (s *State) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := types.NewAccount()
	ok, err := s.getJSON(addrKey(keyAccount, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return account, nil
}

func (s *State) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		account = types.NewAccount()
	}
	return s.putJSON(addrKey(keyAccount, addr), account)
}

func (s *State) GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error) {
	raw, ok, err := s.get(nftKey(collection, tokenID))
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	owner, err := crypto.DecodeAddress(string(raw))
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("storage: malformed nft owner: %w", err)
	}
	return owner, true, nil
}

func (s *State) SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error {
	s.put(nftKey(collection, tokenID), []byte(owner.String()))
	return nil
}

// --- Auction state ---

func (s *State) GetAuction(auctionID uint64) (*auction.Auction, bool, error) {
	record := new(auction.Auction)
	ok, err := s.getJSON(idKey(keyAuction, auctionID), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

func (s *State) PutAuction(record *auction.Auction) error {
	if record == nil {
		return errors.New("storage: nil auction")
	}
	return s.putJSON(idKey(keyAuction, record.AuctionID), record)
}

func (s *State) NextAuctionID() (uint64, error) {
	return s.nextSequence(seqAuction)
}

// ListAuctions walks every auction minted so far in ID order.
func (s *State) ListAuctions() ([]*auction.Auction, error) {
	top, err := s.Sequence(seqAuction)
	if err != nil {
		return nil, err
	}
	records := make([]*auction.Auction, 0, top)
	for id := uint64(1); id <= top; id++ {
		record, ok, err := s.GetAuction(id)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// --- Bespoke market state ---

func (s *State) GetBespokeLoan(loanID uint64) (*bespoke.Loan, bool, error) {
	loan := new(bespoke.Loan)
	ok, err := s.getJSON(idKey(keyBespoke, loanID), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

func (s *State) PutBespokeLoan(loan *bespoke.Loan) error {
	if loan == nil {
		return errors.New("storage: nil bespoke loan")
	}
	return s.putJSON(idKey(keyBespoke, loan.LoanID), loan)
}

func (s *State) NextBespokeLoanID() (uint64, error) {
	return s.nextSequence(seqBespokeLoan)
}

// ListBespokeLoans walks every bespoke loan minted so far in ID order.
func (s *State) ListBespokeLoans() ([]*bespoke.Loan, error) {
	top, err := s.Sequence(seqBespokeLoan)
	if err != nil {
		return nil, err
	}
	loans := make([]*bespoke.Loan, 0, top)
	for id := uint64(1); id <= top; id++ {
		loan, ok, err := s.GetBespokeLoan(id)
		if err != nil {
			return nil, err
		}
		if ok {
			loans = append(loans, loan)
		}
	}
	return loans, nil
}

func (s *State) NonceUsed(signer crypto.Address, nonce uint64) (bool, error) {
	key := keyNonceUsed + signer.String() + ":" + strconv.FormatUint(nonce, 10)
	_, ok, err := s.get(key)
	return ok, err
}

func (s *State) MarkNonceUsed(signer crypto.Address, nonce uint64) error {
	key := keyNonceUsed + signer.String() + ":" + strconv.FormatUint(nonce, 10)
	s.put(key, []byte{1})
	return nil
}

func (s *State) NonceFloor(signer crypto.Address) (uint64, error) {
	raw, ok, err := s.get(addrKey(keyNonceFloor, signer))
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("storage: malformed nonce floor")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *State) SetNonceFloor(signer crypto.Address, floor uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, floor)
	s.put(addrKey(keyNonceFloor, signer), buf)
	return nil
}
