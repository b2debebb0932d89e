package auction

import (
	"math/big"
	"strconv"

	"opensky/core/types"
)

const (
	EventTypeCreated  = "auction.created"
	EventTypeBought   = "auction.bought"
	EventTypeCanceled = "auction.canceled"
)

// Created is emitted when a token enters escrow under a live auction.
type Created struct {
	Auction *Auction
}

func (Created) EventType() string { return EventTypeCreated }

func (e Created) Event() *types.Event {
	return &types.Event{Type: EventTypeCreated, Attributes: auctionAttributes(e.Auction)}
}

// Bought is emitted when a live auction settles to a buyer.
type Bought struct {
	Auction *Auction
	Price   *big.Int
}

func (Bought) EventType() string { return EventTypeBought }

func (e Bought) Event() *types.Event {
	attrs := auctionAttributes(e.Auction)
	if e.Price != nil {
		attrs["price"] = e.Price.String()
	}
	attrs["buyer"] = e.Auction.Buyer.String()
	return &types.Event{Type: EventTypeBought, Attributes: attrs}
}

// Canceled is emitted when the token owner withdraws a live auction.
type Canceled struct {
	Auction *Auction
}

func (Canceled) EventType() string { return EventTypeCanceled }

func (e Canceled) Event() *types.Event {
	return &types.Event{Type: EventTypeCanceled, Attributes: auctionAttributes(e.Auction)}
}

func auctionAttributes(a *Auction) map[string]string {
	if a == nil {
		return map[string]string{}
	}
	attrs := map[string]string{
		"auctionId": strconv.FormatUint(a.AuctionID, 10),
		"nft":       a.NFTAddress.String(),
		"tokenId":   strconv.FormatUint(a.TokenID, 10),
		"currency":  a.UnderlyingAsset,
		"owner":     a.TokenOwner.String(),
		"status":    a.Status.String(),
	}
	if a.ReservePrice != nil {
		attrs["reservePrice"] = a.ReservePrice.String()
	}
	return attrs
}
