package marketplace

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"marketd/core/types"
)

const (
	EventTypeAssetAllowed     = "marketplace.asset.allowed"
	EventTypeListingCreated   = "marketplace.listing.created"
	EventTypeListingDeposited = "marketplace.listing.deposited"
	EventTypeListingPriced    = "marketplace.listing.priced"
	EventTypeListingSold      = "marketplace.listing.sold"
	EventTypeListingBid       = "marketplace.listing.bid"
	EventTypeBidAccepted      = "marketplace.listing.bid_accepted"
	EventTypeListingWithdrawn = "marketplace.listing.withdrawn"
)

// NewAssetAllowedEvent returns the canonical payload emitted when the ledger
// registers custody for a new asset type.
func NewAssetAllowedEvent(asset uint64, caller [20]byte) *types.Event {
	return &types.Event{Type: EventTypeAssetAllowed, Attributes: map[string]string{
		"asset":  strconv.FormatUint(asset, 10),
		"caller": hex.EncodeToString(caller[:]),
	}}
}

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l, nil)
}

// NewDepositedEvent returns the payload emitted when a listing's custodied
// quantity grows.
func NewDepositedEvent(l *Listing, amount *big.Int) *types.Event {
	return newListingEvent(EventTypeListingDeposited, l, map[string]string{
		"amount": bigString(amount),
	})
}

// NewPricedEvent returns the payload emitted when the ask price changes.
func NewPricedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingPriced, l, nil)
}

// NewSoldEvent returns the payload emitted for an outright purchase.
func NewSoldEvent(l *Listing, buyer [20]byte, quantity, paid *big.Int) *types.Event {
	return newListingEvent(EventTypeListingSold, l, map[string]string{
		"buyer":    hex.EncodeToString(buyer[:]),
		"quantity": bigString(quantity),
		"paid":     bigString(paid),
	})
}

// NewBidEvent returns the payload emitted when a bid is admitted. The refund
// attributes are present only when a previous bidder was bought out.
func NewBidEvent(l *Listing, previousBidder [20]byte, refund *big.Int) *types.Event {
	extra := map[string]string{}
	if refund != nil {
		extra["refundedBidder"] = hex.EncodeToString(previousBidder[:])
		extra["refund"] = bigString(refund)
	}
	return newListingEvent(EventTypeListingBid, l, extra)
}

// NewBidAcceptedEvent returns the payload emitted when the owner accepts the
// current bid.
func NewBidAcceptedEvent(l *Listing, fill, paid *big.Int) *types.Event {
	return newListingEvent(EventTypeBidAccepted, l, map[string]string{
		"fill": bigString(fill),
		"paid": bigString(paid),
	})
}

// NewWithdrawnEvent returns the payload emitted when a listing is deleted. The
// refund attribute is present only when an active bidder was refunded.
func NewWithdrawnEvent(l *Listing, refund *big.Int) *types.Event {
	extra := map[string]string{}
	if refund != nil {
		extra["refund"] = bigString(refund)
	}
	return newListingEvent(EventTypeListingWithdrawn, l, extra)
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		id := l.Key.ID()
		attrs["id"] = hex.EncodeToString(id[:])
		attrs["owner"] = hex.EncodeToString(l.Key.Owner[:])
		attrs["asset"] = strconv.FormatUint(l.Key.Asset, 10)
		attrs["nonce"] = strconv.FormatUint(l.Key.Nonce, 10)
		attrs["deposited"] = bigString(l.Deposited)
		attrs["unitaryPrice"] = bigString(l.UnitaryPrice)
		if l.HasBid() {
			attrs["bidder"] = hex.EncodeToString(l.Bidder[:])
			attrs["bidQuantity"] = bigString(l.BidQuantity)
			attrs["bidUnitaryPrice"] = bigString(l.BidUnitaryPrice)
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
