package marketplace

import (
	"math/big"
	"testing"
)

func TestListingKeyIDDeterministic(t *testing.T) {
	key := ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 42}
	if key.ID() != key.ID() {
		t.Fatalf("key id not deterministic")
	}
	other := ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 43}
	if key.ID() == other.ID() {
		t.Fatalf("distinct nonces collide")
	}
	swapped := ListingKey{Owner: testAddr(0x01), Asset: 42, Nonce: 7}
	if key.ID() == swapped.ID() {
		t.Fatalf("asset and nonce are not domain separated")
	}
}

func TestListingCloneIsIndependent(t *testing.T) {
	listing := &Listing{
		Key:             ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1},
		Deposited:       big.NewInt(100),
		UnitaryPrice:    big.NewInt(5_000),
		Bidder:          testAddr(0x02),
		BidQuantity:     big.NewInt(50),
		BidUnitaryPrice: big.NewInt(4_000),
	}
	clone := listing.Clone()
	clone.Deposited.SetInt64(0)
	clone.BidQuantity.SetInt64(999)
	if listing.Deposited.Int64() != 100 {
		t.Fatalf("clone shares Deposited")
	}
	if listing.BidQuantity.Int64() != 50 {
		t.Fatalf("clone shares BidQuantity")
	}
}

func TestSanitizeListing(t *testing.T) {
	valid := &Listing{
		Key:             ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1},
		Deposited:       big.NewInt(100),
		UnitaryPrice:    big.NewInt(5_000),
		BidQuantity:     big.NewInt(0),
		BidUnitaryPrice: big.NewInt(0),
	}
	sanitized, err := SanitizeListing(valid)
	if err != nil {
		t.Fatalf("sanitize valid listing: %v", err)
	}
	if sanitized == valid {
		t.Fatalf("sanitize must clone")
	}

	if _, err := SanitizeListing(nil); err == nil {
		t.Fatalf("nil listing accepted")
	}

	negative := valid.Clone()
	negative.Deposited = big.NewInt(-1)
	if _, err := SanitizeListing(negative); err == nil {
		t.Fatalf("negative deposit accepted")
	}

	orphanBid := valid.Clone()
	orphanBid.BidQuantity = big.NewInt(10)
	if _, err := SanitizeListing(orphanBid); err == nil {
		t.Fatalf("bid fields without bidder accepted")
	}

	nilAmounts := &Listing{Key: valid.Key}
	sanitized, err = SanitizeListing(nilAmounts)
	if err != nil {
		t.Fatalf("sanitize listing with nil amounts: %v", err)
	}
	if sanitized.Deposited == nil || sanitized.UnitaryPrice == nil {
		t.Fatalf("nil amounts not normalised")
	}
}

func TestHasBid(t *testing.T) {
	listing := &Listing{Key: ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1}}
	if listing.HasBid() {
		t.Fatalf("zero bidder reported as bid")
	}
	listing.Bidder = testAddr(0x02)
	if !listing.HasBid() {
		t.Fatalf("bidder not reported")
	}
}
