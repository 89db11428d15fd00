package marketplace

import (
	"math/big"
	"testing"
)

func TestListingEventAttributes(t *testing.T) {
	listing := &Listing{
		Key:             ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 3},
		Deposited:       big.NewInt(100),
		UnitaryPrice:    big.NewInt(5_000),
		Bidder:          testAddr(0x02),
		BidQuantity:     big.NewInt(50),
		BidUnitaryPrice: big.NewInt(4_000),
	}
	evt := NewListingCreatedEvent(listing)
	if evt.Type != EventTypeListingCreated {
		t.Fatalf("type = %q", evt.Type)
	}
	if evt.Attributes["asset"] != "7" || evt.Attributes["nonce"] != "3" {
		t.Fatalf("key attributes missing: %v", evt.Attributes)
	}
	if evt.Attributes["deposited"] != "100" || evt.Attributes["unitaryPrice"] != "5000" {
		t.Fatalf("amount attributes missing: %v", evt.Attributes)
	}
	if evt.Attributes["bidQuantity"] != "50" {
		t.Fatalf("bid attributes missing for listing with bid: %v", evt.Attributes)
	}
}

func TestListingEventOmitsBidWithoutBidder(t *testing.T) {
	listing := &Listing{
		Key:          ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 3},
		Deposited:    big.NewInt(100),
		UnitaryPrice: big.NewInt(5_000),
	}
	evt := NewPricedEvent(listing)
	if _, ok := evt.Attributes["bidder"]; ok {
		t.Fatalf("bidder attribute present without a bid")
	}
}

func TestBidEventRefundAttributes(t *testing.T) {
	listing := &Listing{
		Key:             ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 3},
		Deposited:       big.NewInt(100),
		UnitaryPrice:    big.NewInt(5_000),
		Bidder:          testAddr(0x03),
		BidQuantity:     big.NewInt(100),
		BidUnitaryPrice: big.NewInt(4_500),
	}
	withRefund := NewBidEvent(listing, testAddr(0x02), big.NewInt(400))
	if withRefund.Attributes["refund"] != "400" {
		t.Fatalf("refund attribute missing: %v", withRefund.Attributes)
	}
	fresh := NewBidEvent(listing, [20]byte{}, nil)
	if _, ok := fresh.Attributes["refund"]; ok {
		t.Fatalf("refund attribute present on first bid")
	}
}
