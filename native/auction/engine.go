package auction

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

const moduleName = "auction"

// Price curve constants. The decay is quantized into discrete steps so two
// calls within the same step always observe the same price.
const (
	// DurationOne covers the steep decay from the start price to the turning
	// price.
	DurationOne = 2 * 24 * 60 * 60
	// DurationTwo covers the slow decay from the turning price to the floor.
	DurationTwo = 3 * 24 * 60 * 60
	// Spacing is the width of one price step in seconds.
	Spacing = 5 * 60
)

var (
	ErrNilState         = errors.New("auction engine: state not configured")
	ErrNotFound         = errors.New("auction engine: auction not found")
	ErrInvalidReserve   = errors.New("auction engine: reserve price must be positive")
	ErrInvalidAsset     = errors.New("auction engine: currency required")
	ErrNotTokenOwner    = errors.New("auction engine: caller does not own the token")
	ErrNotLive          = errors.New("auction engine: auction not live")
	ErrInsufficientBid  = errors.New("auction engine: buyer balance below current price")
	ErrNotAuctionSeller = errors.New("auction engine: only the token owner may cancel")
)

type engineState interface {
	GetAuction(auctionID uint64) (*Auction, bool, error)
	PutAuction(*Auction) error
	NextAuctionID() (uint64, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetNFTOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error)
	SetNFTOwner(collection crypto.Address, tokenID uint64, owner crypto.Address) error
}

// Engine runs Dutch auctions over escrowed collateral tokens.
type Engine struct {
	state         engineState
	escrowAddress crypto.Address
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	nowFn         func() int64
}

// NewEngine constructs an auction engine with the given escrow custody
// address.
func NewEngine(escrowAddress crypto.Address) *Engine {
	return &Engine{
		escrowAddress: escrowAddress,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

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

// CreateAuction escrows the caller's token and opens a live Dutch auction.
func (e *Engine) CreateAuction(caller crypto.Address, collection crypto.Address, tokenID uint64, currency string, reservePrice *big.Int) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if reservePrice == nil || reservePrice.Sign() <= 0 {
		return nil, ErrInvalidReserve
	}
	asset := strings.ToUpper(strings.TrimSpace(currency))
	if asset == "" {
		return nil, ErrInvalidAsset
	}
	owner, ok, err := e.state.GetNFTOwner(collection, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok || !owner.Equal(caller) {
		return nil, ErrNotTokenOwner
	}
	if err := e.state.SetNFTOwner(collection, tokenID, e.escrowAddress); err != nil {
		return nil, err
	}
	id, err := e.state.NextAuctionID()
	if err != nil {
		return nil, err
	}
	a := &Auction{
		AuctionID:       id,
		NFTAddress:      collection,
		TokenID:         tokenID,
		UnderlyingAsset: asset,
		TokenOwner:      caller,
		ReservePrice:    new(big.Int).Set(reservePrice),
		StartTime:       e.now(),
		Status:          StatusLive,
	}
	if err := e.state.PutAuction(a); err != nil {
		return nil, err
	}
	e.emit(Created{Auction: a})
	return a.Clone(), nil
}

// PriceAt returns the quantized decay price for an auction at the given time.
// The curve is piecewise linear: 10x the reserve price decaying to 3x over
// DurationOne, then to the 1.2x floor over DurationTwo, constant thereafter.
// The result is non-increasing in time and never drops below the floor.
func PriceAt(reservePrice *big.Int, startTime, at int64) *big.Int {
	if reservePrice == nil || reservePrice.Sign() <= 0 {
		return big.NewInt(0)
	}
	startPrice := new(big.Int).Mul(reservePrice, big.NewInt(10))
	turningPrice := new(big.Int).Mul(reservePrice, big.NewInt(3))
	endPrice := new(big.Int).Mul(reservePrice, big.NewInt(12))
	endPrice.Quo(endPrice, big.NewInt(10))

	elapsed := at - startTime
	if elapsed <= 0 {
		return startPrice
	}
	if elapsed < DurationOne {
		steps := elapsed / Spacing
		totalSteps := int64(DurationOne / Spacing)
		drop := new(big.Int).Sub(startPrice, turningPrice)
		drop.Mul(drop, big.NewInt(steps))
		drop.Quo(drop, big.NewInt(totalSteps))
		return new(big.Int).Sub(startPrice, drop)
	}
	elapsed -= DurationOne
	if elapsed < DurationTwo {
		steps := elapsed / Spacing
		totalSteps := int64(DurationTwo / Spacing)
		drop := new(big.Int).Sub(turningPrice, endPrice)
		drop.Mul(drop, big.NewInt(steps))
		drop.Quo(drop, big.NewInt(totalSteps))
		return new(big.Int).Sub(turningPrice, drop)
	}
	return endPrice
}

// GetPrice returns the current price of a live auction.
func (e *Engine) GetPrice(auctionID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	a, err := e.loadAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return PriceAt(a.ReservePrice, a.StartTime, e.now()), nil
}

// GetAuction returns a copy of the stored auction record.
func (e *Engine) GetAuction(auctionID uint64) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	a, err := e.loadAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Buy settles a live auction at the current decay price: currency moves from
// the buyer to the token owner and the token leaves escrow to the buyer.
func (e *Engine) Buy(auctionID uint64, buyer crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	a, err := e.loadAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusLive {
		return nil, ErrNotLive
	}
	price := PriceAt(a.ReservePrice, a.StartTime, e.now())

	buyerAcc, err := e.state.GetAccount(buyer)
	if err != nil {
		return nil, err
	}
	if buyerAcc == nil {
		buyerAcc = types.NewAccount()
	}
	if buyerAcc.Balance(a.UnderlyingAsset).Cmp(price) < 0 {
		return nil, ErrInsufficientBid
	}
	buyerAcc.SetBalance(a.UnderlyingAsset, new(big.Int).Sub(buyerAcc.Balance(a.UnderlyingAsset), price))
	if err := e.state.PutAccount(buyer, buyerAcc); err != nil {
		return nil, err
	}
	sellerAcc, err := e.state.GetAccount(a.TokenOwner)
	if err != nil {
		return nil, err
	}
	if sellerAcc == nil {
		sellerAcc = types.NewAccount()
	}
	sellerAcc.SetBalance(a.UnderlyingAsset, new(big.Int).Add(sellerAcc.Balance(a.UnderlyingAsset), price))
	if err := e.state.PutAccount(a.TokenOwner, sellerAcc); err != nil {
		return nil, err
	}
	if err := e.state.SetNFTOwner(a.NFTAddress, a.TokenID, buyer); err != nil {
		return nil, err
	}
	a.Status = StatusEnd
	a.EndTime = e.now()
	a.Buyer = buyer
	if err := e.state.PutAuction(a); err != nil {
		return nil, err
	}
	e.emit(Bought{Auction: a, Price: price})
	return price, nil
}

// CancelAuction returns the token to its owner. Only the owner may cancel and
// only while the auction is live.
func (e *Engine) CancelAuction(auctionID uint64, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	a, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if a.Status != StatusLive {
		return ErrNotLive
	}
	if !a.TokenOwner.Equal(caller) {
		return ErrNotAuctionSeller
	}
	if err := e.state.SetNFTOwner(a.NFTAddress, a.TokenID, a.TokenOwner); err != nil {
		return err
	}
	a.Status = StatusCanceled
	a.EndTime = e.now()
	if err := e.state.PutAuction(a); err != nil {
		return err
	}
	e.emit(Canceled{Auction: a})
	return nil
}

func (e *Engine) loadAuction(auctionID uint64) (*Auction, error) {
	a, ok, err := e.state.GetAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if !ok || a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}
