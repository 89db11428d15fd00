package marketplace

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// ListingReserve is the value a seller locks when creating a listing
	// record, sized to the 112-byte key/value footprint of the record. It is
	// returned in full when the listing is withdrawn.
	ListingReserve = 2_500 + 400*112

	// CustodyReserve is the value consumed when the ledger registers custody
	// capability for a new asset type. It is never refunded.
	CustodyReserve = 100_000
)

// ListingKey identifies a listing by the owning account, the asset on sale and
// a caller-chosen nonce, so one owner can run several independent listings of
// the same asset.
type ListingKey struct {
	Owner [20]byte `json:"owner"`
	Asset uint64   `json:"asset"`
	Nonce uint64   `json:"nonce"`
}

// ID returns the deterministic 32-byte storage identifier for the key.
func (k ListingKey) ID() [32]byte {
	var suffix [16]byte
	binary.BigEndian.PutUint64(suffix[:8], k.Asset)
	binary.BigEndian.PutUint64(suffix[8:], k.Nonce)
	return ethcrypto.Keccak256Hash(k.Owner[:], suffix[:])
}

// Listing captures the custodied quantity, ask price and current best bid for
// a single offer. The zero address marks the absence of an active bidder; in
// that case BidQuantity and BidUnitaryPrice are zero.
type Listing struct {
	Key             ListingKey `json:"key"`
	Deposited       *big.Int   `json:"deposited"`
	UnitaryPrice    *big.Int   `json:"unitaryPrice"`
	Bidder          [20]byte   `json:"bidder"`
	BidQuantity     *big.Int   `json:"bidQuantity"`
	BidUnitaryPrice *big.Int   `json:"bidUnitaryPrice"`
}

// HasBid reports whether an active bidder is recorded on the listing.
func (l *Listing) HasBid() bool {
	if l == nil {
		return false
	}
	return l.Bidder != ([20]byte{})
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Deposited = cloneBigInt(l.Deposited)
	clone.UnitaryPrice = cloneBigInt(l.UnitaryPrice)
	clone.BidQuantity = cloneBigInt(l.BidQuantity)
	clone.BidUnitaryPrice = cloneBigInt(l.BidUnitaryPrice)
	return &clone
}

// SanitizeListing validates the supplied listing record and returns a cloned
// instance with non-nil amount fields. The function does not mutate the
// original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("marketplace: nil listing")
	}
	clone := l.Clone()
	if clone.Deposited.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: deposited quantity must be non-negative")
	}
	if clone.UnitaryPrice.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: unitary price must be non-negative")
	}
	if clone.BidQuantity.Sign() < 0 || clone.BidUnitaryPrice.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: bid fields must be non-negative")
	}
	if !clone.HasBid() && (clone.BidQuantity.Sign() != 0 || clone.BidUnitaryPrice.Sign() != 0) {
		return nil, fmt.Errorf("marketplace: bid fields set without a bidder")
	}
	return clone, nil
}

// Payment is an authenticated transfer-of-value instruction attached to a
// call. The gateway has already verified the sender's signature; the engine
// still checks sender, receiver and amount against the operation's
// requirements before executing it.
type Payment struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

// AssetTransfer is an authenticated asset-transfer instruction attached to a
// call, verified and executed under the same discipline as Payment.
type AssetTransfer struct {
	Asset  uint64
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBigInt(a, b *big.Int) *big.Int {
	if a == nil {
		if b == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(b)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
