package core

import (
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marketd/core/events"
	"marketd/core/state"
	"marketd/core/types"
	"marketd/native/marketplace"
	"marketd/storage"
)

// GenesisAsset declares an asset type the ledger supports from the first
// block: its identifier, display symbol and decimal precision.
type GenesisAsset struct {
	ID       uint64
	Symbol   string
	Decimals uint32
}

// GenesisAccount seeds an account with a value balance and asset holdings.
// Listing a holding, even a zero one, registers custody for that asset.
type GenesisAccount struct {
	Address  [20]byte
	Balance  *big.Int
	Holdings map[uint64]*big.Int
}

// Genesis is the initial ledger state applied once to a fresh database.
type Genesis struct {
	Assets   []GenesisAsset
	Accounts []GenesisAccount
}

// ModuleVault is the ledger's own account: it holds custodied assets, listing
// reserves and reserved bid value. The address is derived deterministically so
// every node agrees on it without coordination.
var ModuleVault = func() [20]byte {
	hash := ethcrypto.Keccak256([]byte("marketd/module/vault"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}()

// Node wires the state manager and marketplace engine together and serializes
// ledger calls: one mutating operation runs at a time, so every call reads the
// latest committed record before mutating it.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *marketplace.Engine
	paused map[string]bool
}

// NewNode builds a node over the database, seeding genesis state on first use.
func NewNode(db storage.Database, genesis Genesis, pausedModules []string) (*Node, error) {
	manager := state.NewManager(db)
	node := &Node{
		db:     db,
		state:  manager,
		engine: marketplace.NewEngine(),
		paused: make(map[string]bool, len(pausedModules)),
	}
	for _, module := range pausedModules {
		node.paused[module] = true
	}
	node.engine.SetState(manager)
	node.engine.SetVault(ModuleVault)
	node.engine.SetPauses(node)
	if err := node.applyGenesis(genesis); err != nil {
		return nil, err
	}
	return node, nil
}

// SetEmitter configures the event emitter used for ledger state transitions.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.engine.SetEmitter(emitter)
}

// IsPaused implements the pause view consulted by the engine.
func (n *Node) IsPaused(module string) bool {
	return n.paused[module]
}

func (n *Node) applyGenesis(genesis Genesis) error {
	applied, err := n.state.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, asset := range genesis.Assets {
		if err := n.state.RegisterAsset(state.AssetInfo{ID: asset.ID, Symbol: asset.Symbol, Decimals: asset.Decimals}); err != nil {
			return err
		}
	}
	for _, seed := range genesis.Accounts {
		account := &types.Account{Balance: big.NewInt(0)}
		if seed.Balance != nil {
			if seed.Balance.Sign() < 0 {
				return fmt.Errorf("core: genesis balance must be non-negative")
			}
			account.Balance = new(big.Int).Set(seed.Balance)
		}
		if len(seed.Holdings) > 0 {
			account.Holdings = make(map[uint64]*big.Int, len(seed.Holdings))
			for asset, amount := range seed.Holdings {
				if _, err := n.state.Asset(asset); err != nil {
					return err
				}
				if amount == nil {
					amount = big.NewInt(0)
				}
				if amount.Sign() < 0 {
					return fmt.Errorf("core: genesis holding must be non-negative")
				}
				account.Holdings[asset] = new(big.Int).Set(amount)
			}
		}
		if err := n.state.PutAccount(seed.Address[:], account); err != nil {
			return err
		}
	}
	return n.state.MarkGenesisApplied()
}

// MarketAllowAsset registers custody capability for the asset on the ledger
// vault, consuming the attached custody-reserve payment.
func (n *Node) MarketAllowAsset(caller [20]byte, mbrPay marketplace.Payment, asset uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AllowAsset(caller, mbrPay, asset)
}

// MarketOptIn registers custody capability for the asset on the caller's own
// account so it can receive units, e.g. before bidding.
func (n *Node) MarketOptIn(caller [20]byte, asset uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.state.Asset(asset); err != nil {
		return err
	}
	account, err := n.state.GetAccount(caller[:])
	if err != nil {
		return err
	}
	if account.HoldsAsset(asset) {
		return marketplace.ErrCustodyRegistered
	}
	return n.state.RegisterCustody(caller, asset)
}

// MarketFirstDeposit creates a listing from the caller's first deposit.
func (n *Node) MarketFirstDeposit(caller [20]byte, mbrPay marketplace.Payment, xfer marketplace.AssetTransfer, nonce uint64, unitaryPrice *big.Int) (*marketplace.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.FirstDeposit(caller, mbrPay, xfer, nonce, unitaryPrice)
}

// MarketDeposit adds quantity to an existing listing of the caller.
func (n *Node) MarketDeposit(caller [20]byte, xfer marketplace.AssetTransfer, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Deposit(caller, xfer, nonce)
}

// MarketSetPrice replaces the ask price on the caller's listing.
func (n *Node) MarketSetPrice(caller [20]byte, asset uint64, nonce uint64, unitaryPrice *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetPrice(caller, asset, nonce, unitaryPrice)
}

// MarketBuy settles an outright purchase against a listing.
func (n *Node) MarketBuy(caller, owner [20]byte, asset uint64, nonce uint64, buyPay marketplace.Payment, quantity *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Buy(caller, owner, asset, nonce, buyPay, quantity)
}

// MarketBid places or replaces the standing bid on a listing.
func (n *Node) MarketBid(caller, owner [20]byte, asset uint64, nonce uint64, bidPay marketplace.Payment, quantity, unitaryPrice *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Bid(caller, owner, asset, nonce, bidPay, quantity, unitaryPrice)
}

// MarketAcceptBid settles the current bid on the caller's listing.
func (n *Node) MarketAcceptBid(caller [20]byte, asset uint64, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AcceptBid(caller, asset, nonce)
}

// MarketWithdraw deletes the caller's listing and returns its funds.
func (n *Node) MarketWithdraw(caller [20]byte, asset uint64, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Withdraw(caller, asset, nonce)
}

// MarketListing returns a copy of the stored listing.
func (n *Node) MarketListing(owner [20]byte, asset uint64, nonce uint64) (*marketplace.Listing, error) {
	return n.engine.Listing(marketplace.ListingKey{Owner: owner, Asset: asset, Nonce: nonce})
}

// Account returns a copy of the stored account record.
func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// Asset returns the registry entry for the asset id.
func (n *Node) Asset(id uint64) (*state.AssetInfo, error) {
	return n.state.Asset(id)
}
