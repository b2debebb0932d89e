package auction

import (
	"math/big"

	"opensky/crypto"
)

// Status enumerates the auction lifecycle. LIVE is the only non-terminal
// state.
type Status uint8

const (
	StatusNone Status = iota
	StatusLive
	StatusEnd
	StatusCanceled
)

// String renders the status for events and API payloads.
func (s Status) String() string {
	switch s {
	case StatusLive:
		return "LIVE"
	case StatusEnd:
		return "END"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "NONE"
	}
}

// Auction is a single Dutch auction over an escrowed collateral token. The
// price decays deterministically from ten times the reserve price through a
// turning point down to a hard floor.
type Auction struct {
	AuctionID       uint64         `json:"auctionId"`
	NFTAddress      crypto.Address `json:"nftAddress"`
	TokenID         uint64         `json:"tokenId"`
	UnderlyingAsset string         `json:"underlyingAsset"`
	TokenOwner      crypto.Address `json:"tokenOwner"`
	ReservePrice    *big.Int       `json:"reservePrice"`
	StartTime       int64          `json:"startTime"`
	EndTime         int64          `json:"endTime"`
	Buyer           crypto.Address `json:"buyer"`
	Status          Status         `json:"status"`
}

// Clone returns a deep copy of the auction record.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.ReservePrice != nil {
		clone.ReservePrice = new(big.Int).Set(a.ReservePrice)
	} else {
		clone.ReservePrice = big.NewInt(0)
	}
	return &clone
}
