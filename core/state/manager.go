package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"marketd/core/types"
	"marketd/native/marketplace"
	"marketd/storage"
)

const (
	accountPrefix = "acct/"
	assetPrefix   = "asset/"
	listingPrefix = "listing/"
	genesisKey    = "genesis/applied"
)

// AssetInfo describes a fungible asset type the ledger knows about. Decimals
// scale the asset's unit prices: a price quoted per whole unit is divided by
// 10^Decimals when charged per smallest denomination.
type AssetInfo struct {
	ID       uint64 `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

// Manager layers the ledger's record model (accounts, assets, listings) over a
// raw keyed store. Records are JSON-encoded under prefixed keys. Individual
// methods are safe for concurrent use; whole-operation serialization is the
// caller's responsibility (the node holds one lock per ledger call).
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr))
}

func assetKey(id uint64) []byte {
	return []byte(assetPrefix + strconv.FormatUint(id, 10))
}

func listingKey(key marketplace.ListingKey) []byte {
	id := key.ID()
	return []byte(listingPrefix + hex.EncodeToString(id[:]))
}

// GetAccount loads the account record for the address, returning a fresh
// empty account when none is stored.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := accountKey(addr)
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount persists the account record for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), raw)
}

// RegisterCustody records custody capability for the asset on the account by
// initialising a zero holding. Registering twice is an error; callers gate on
// the current holdings first.
func (m *Manager) RegisterCustody(addr [20]byte, asset uint64) error {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	if account.HoldsAsset(asset) {
		return fmt.Errorf("state: custody already registered for asset %d", asset)
	}
	if account.Holdings == nil {
		account.Holdings = make(map[uint64]*big.Int)
	}
	account.Holdings[asset] = big.NewInt(0)
	return m.PutAccount(addr[:], account)
}

// RegisterAsset adds the asset to the registry. Asset definitions are
// immutable once written.
func (m *Manager) RegisterAsset(info AssetInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assetKey(info.ID)
	ok, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("state: asset %d already registered", info.ID)
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// Asset loads an asset definition from the registry.
func (m *Manager) Asset(id uint64) (*AssetInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := assetKey(id)
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("state: unknown asset %d", id)
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	info := new(AssetInfo)
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("state: decode asset: %w", err)
	}
	return info, nil
}

// AssetDecimals returns the decimal precision of a registered asset.
func (m *Manager) AssetDecimals(asset uint64) (uint32, error) {
	info, err := m.Asset(asset)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

// ListingPut persists the listing record under its composite key.
func (m *Manager) ListingPut(listing *marketplace.Listing) error {
	sanitized, err := marketplace.SanitizeListing(listing)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return m.db.Put(listingKey(sanitized.Key), raw)
}

// ListingGet loads the listing stored for the key, reporting absence with a
// false second return.
func (m *Manager) ListingGet(key marketplace.ListingKey) (*marketplace.Listing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dbKey := listingKey(key)
	ok, err := m.db.Has(dbKey)
	if err != nil || !ok {
		return nil, false
	}
	raw, err := m.db.Get(dbKey)
	if err != nil {
		return nil, false
	}
	listing := new(marketplace.Listing)
	if err := json.Unmarshal(raw, listing); err != nil {
		return nil, false
	}
	return listing, true
}

// ListingDelete removes the listing record for the key.
func (m *Manager) ListingDelete(key marketplace.ListingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(listingKey(key))
}

// GenesisApplied reports whether the store has been seeded.
func (m *Manager) GenesisApplied() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Has([]byte(genesisKey))
}

// MarkGenesisApplied records that seeding is complete.
func (m *Manager) MarkGenesisApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put([]byte(genesisKey), []byte{0x01})
}
