package marketplace

import (
	"errors"
	"fmt"
	"math/big"

	"marketd/core/events"
	"marketd/core/types"
	nativecommon "marketd/native/common"
)

var (
	errNilState = errors.New("marketplace engine: state not configured")
	errNilVault = errors.New("marketplace engine: vault address not configured")

	// ErrListingNotFound is returned when an operation references a listing
	// key with no stored record.
	ErrListingNotFound = errors.New("marketplace: listing not found")
	// ErrListingExists is returned by FirstDeposit when the key is taken.
	ErrListingExists = errors.New("marketplace: listing already exists")
	// ErrNoActiveBid is returned by AcceptBid when no bidder is recorded.
	ErrNoActiveBid = errors.New("marketplace: no active bid")
	// ErrBidTooLow is returned when a bid does not strictly exceed the
	// current bid's unit price.
	ErrBidTooLow = errors.New("marketplace: bid price not strictly higher")
	// ErrInsufficientDeposit is returned when a quantity exceeds the
	// custodied balance of the listing.
	ErrInsufficientDeposit = errors.New("marketplace: quantity exceeds deposited balance")
	// ErrCustodyRegistered is returned by AllowAsset for a known asset.
	ErrCustodyRegistered = errors.New("marketplace: asset custody already registered")
	// ErrCustodyNotRegistered is returned when an account lacks custody
	// capability for the asset it wants to receive.
	ErrCustodyNotRegistered = errors.New("marketplace: asset custody not registered")
	// ErrTransferMismatch is returned when an attached payment or asset
	// transfer does not satisfy the required sender, receiver or amount.
	ErrTransferMismatch = errors.New("marketplace: attached transfer mismatch")
)

const moduleName = "marketplace"

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(key ListingKey) (*Listing, bool)
	ListingDelete(key ListingKey) error
	AssetDecimals(asset uint64) (uint32, error)
	RegisterCustody(addr [20]byte, asset uint64) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type marketplaceEvent struct {
	evt *types.Event
}

func (e marketplaceEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketplaceEvent) Event() *types.Event { return e.evt }

// Engine implements the escrow ledger state machine: listings, deposits,
// outright purchases, strictly-increasing bids with refund-on-outbid, and
// partial-fill bid settlement. Every operation validates its preconditions and
// the attached transfers before the first mutation, then applies mutations in
// an order where an interrupted call never leaves two live reservations.
type Engine struct {
	state   engineState
	emitter events.Emitter
	vault   [20]byte
	pauses  nativecommon.PauseView
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the module account that holds custodied assets, listing
// reserves and reserved bid value.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetPauses configures the administrative pause view consulted on every
// mutating operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketplaceEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// Listing returns a copy of the stored listing for the key.
func (e *Engine) Listing(key ListingKey) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(key)
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing.Clone(), nil
}

func (e *Engine) loadListing(key ListingKey) (*Listing, error) {
	listing, ok := e.state.ListingGet(key)
	if !ok {
		return nil, ErrListingNotFound
	}
	return SanitizeListing(listing)
}

func (e *Engine) storeListing(listing *Listing) error {
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return err
	}
	return e.state.ListingPut(sanitized)
}

// priceFor computes unitaryPrice*quantity/10^decimals, multiplying before
// dividing and truncating toward zero. The intermediate product is arbitrary
// precision, so the widened ordering loses nothing.
func (e *Engine) priceFor(asset uint64, unitaryPrice, quantity *big.Int) (*big.Int, error) {
	decimals, err := e.state.AssetDecimals(asset)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	amount := new(big.Int).Mul(cloneBigInt(unitaryPrice), cloneBigInt(quantity))
	return amount.Div(amount, scale), nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// verifyPayment checks the attached value transfer against the expected
// sender, receiver and amount. A nil expected sender skips the sender
// constraint; a nil exact amount only requires the amount to be positive.
func verifyPayment(pay Payment, expectedFrom *[20]byte, expectedTo [20]byte, exact *big.Int) error {
	if pay.Amount == nil || pay.Amount.Sign() < 0 {
		return fmt.Errorf("%w: payment amount missing", ErrTransferMismatch)
	}
	if expectedFrom != nil && pay.From != *expectedFrom {
		return fmt.Errorf("%w: payment sender", ErrTransferMismatch)
	}
	if pay.To != expectedTo {
		return fmt.Errorf("%w: payment receiver", ErrTransferMismatch)
	}
	if exact == nil {
		if pay.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: payment amount must be positive", ErrTransferMismatch)
		}
		return nil
	}
	if pay.Amount.Cmp(exact) != 0 {
		return fmt.Errorf("%w: payment amount %s, want %s", ErrTransferMismatch, pay.Amount, exact)
	}
	return nil
}

// verifyAssetTransfer checks the attached asset transfer against the expected
// asset, sender and receiver, requiring a positive amount.
func verifyAssetTransfer(xfer AssetTransfer, asset uint64, expectedFrom, expectedTo [20]byte) error {
	if xfer.Asset != asset {
		return fmt.Errorf("%w: transfer asset", ErrTransferMismatch)
	}
	if xfer.From != expectedFrom {
		return fmt.Errorf("%w: transfer sender", ErrTransferMismatch)
	}
	if xfer.To != expectedTo {
		return fmt.Errorf("%w: transfer receiver", ErrTransferMismatch)
	}
	if xfer.Amount == nil || xfer.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", ErrTransferMismatch)
	}
	return nil
}

func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("marketplace: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("marketplace: insufficient balance")
	}
	if from == to {
		return nil
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc = ensureAccount(toAcc)
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) transferAsset(asset uint64, from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("marketplace: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if !fromAcc.HoldsAsset(asset) {
		return ErrCustodyNotRegistered
	}
	held := fromAcc.AssetBalance(asset)
	if held.Cmp(amt) < 0 {
		return fmt.Errorf("marketplace: insufficient asset balance")
	}
	if from == to {
		return nil
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if !toAcc.HoldsAsset(asset) {
		return ErrCustodyNotRegistered
	}
	fromAcc.Holdings[asset] = new(big.Int).Sub(held, amt)
	toAcc.Holdings[asset] = new(big.Int).Add(toAcc.AssetBalance(asset), amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// canCoverValue reports whether the account balance covers the amount. Used to
// pre-check an attached payment before any mutation is applied.
func (e *Engine) canCoverValue(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	if ensureAccount(acc).Balance.Cmp(cloneBigInt(amount)) < 0 {
		return fmt.Errorf("marketplace: insufficient balance")
	}
	return nil
}

func (e *Engine) canCoverAsset(addr [20]byte, asset uint64, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	if !acc.HoldsAsset(asset) {
		return ErrCustodyNotRegistered
	}
	if acc.AssetBalance(asset).Cmp(cloneBigInt(amount)) < 0 {
		return fmt.Errorf("marketplace: insufficient asset balance")
	}
	return nil
}

// AllowAsset registers custody capability for a new asset type, consuming an
// incoming value transfer sized to the custody-registration reserve.
func (e *Engine) AllowAsset(caller [20]byte, mbrPay Payment, asset uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.state.AssetDecimals(asset); err != nil {
		return err
	}
	vaultAcc, err := e.state.GetAccount(e.vault[:])
	if err != nil {
		return err
	}
	if vaultAcc.HoldsAsset(asset) {
		return ErrCustodyRegistered
	}
	if err := verifyPayment(mbrPay, nil, e.vault, big.NewInt(CustodyReserve)); err != nil {
		return err
	}
	if err := e.canCoverValue(mbrPay.From, mbrPay.Amount); err != nil {
		return err
	}
	if err := e.transferValue(mbrPay.From, mbrPay.To, mbrPay.Amount); err != nil {
		return err
	}
	if err := e.state.RegisterCustody(e.vault, asset); err != nil {
		return err
	}
	e.emit(NewAssetAllowedEvent(asset, caller))
	return nil
}

// FirstDeposit creates a listing from the caller's first asset deposit. The
// attached payment covers the listing storage reserve; the attached asset
// transfer funds the initial custodied quantity.
func (e *Engine) FirstDeposit(caller [20]byte, mbrPay Payment, xfer AssetTransfer, nonce uint64, unitaryPrice *big.Int) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if unitaryPrice != nil && unitaryPrice.Sign() < 0 {
		return nil, fmt.Errorf("marketplace: unitary price must be non-negative")
	}
	key := ListingKey{Owner: caller, Asset: xfer.Asset, Nonce: nonce}
	if _, ok := e.state.ListingGet(key); ok {
		return nil, ErrListingExists
	}
	if err := verifyPayment(mbrPay, &caller, e.vault, big.NewInt(ListingReserve)); err != nil {
		return nil, err
	}
	if err := verifyAssetTransfer(xfer, xfer.Asset, caller, e.vault); err != nil {
		return nil, err
	}
	if err := e.canCoverValue(caller, mbrPay.Amount); err != nil {
		return nil, err
	}
	if err := e.canCoverAsset(caller, xfer.Asset, xfer.Amount); err != nil {
		return nil, err
	}
	if err := e.transferValue(mbrPay.From, mbrPay.To, mbrPay.Amount); err != nil {
		return nil, err
	}
	if err := e.transferAsset(xfer.Asset, xfer.From, xfer.To, xfer.Amount); err != nil {
		return nil, err
	}
	listing := &Listing{
		Key:             key,
		Deposited:       cloneBigInt(xfer.Amount),
		UnitaryPrice:    cloneBigInt(unitaryPrice),
		Bidder:          [20]byte{},
		BidQuantity:     big.NewInt(0),
		BidUnitaryPrice: big.NewInt(0),
	}
	if err := e.storeListing(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// Deposit adds the transferred quantity to an existing listing owned by the
// caller. All other fields are unchanged.
func (e *Engine) Deposit(caller [20]byte, xfer AssetTransfer, nonce uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	key := ListingKey{Owner: caller, Asset: xfer.Asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	if err := verifyAssetTransfer(xfer, xfer.Asset, caller, e.vault); err != nil {
		return err
	}
	if err := e.canCoverAsset(caller, xfer.Asset, xfer.Amount); err != nil {
		return err
	}
	if err := e.transferAsset(xfer.Asset, xfer.From, xfer.To, xfer.Amount); err != nil {
		return err
	}
	listing.Deposited = new(big.Int).Add(listing.Deposited, xfer.Amount)
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(listing, xfer.Amount))
	return nil
}

// SetPrice replaces the ask price of the caller's listing, leaving every other
// field untouched.
func (e *Engine) SetPrice(caller [20]byte, asset uint64, nonce uint64, unitaryPrice *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if unitaryPrice != nil && unitaryPrice.Sign() < 0 {
		return fmt.Errorf("marketplace: unitary price must be non-negative")
	}
	key := ListingKey{Owner: caller, Asset: asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	listing.UnitaryPrice = cloneBigInt(unitaryPrice)
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewPricedEvent(listing))
	return nil
}

// Buy settles an outright purchase: the attached payment must carry exactly
// unitaryPrice*quantity/10^decimals from the caller to the listing owner, and
// the purchased quantity moves from custody to the caller.
func (e *Engine) Buy(caller, owner [20]byte, asset uint64, nonce uint64, buyPay Payment, quantity *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	qty := cloneBigInt(quantity)
	if qty.Sign() <= 0 {
		return fmt.Errorf("marketplace: quantity must be positive")
	}
	key := ListingKey{Owner: owner, Asset: asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	if qty.Cmp(listing.Deposited) > 0 {
		return ErrInsufficientDeposit
	}
	amountToBePaid, err := e.priceFor(asset, listing.UnitaryPrice, qty)
	if err != nil {
		return err
	}
	if err := verifyPayment(buyPay, &caller, owner, amountToBePaid); err != nil {
		return err
	}
	if err := e.canCoverValue(caller, buyPay.Amount); err != nil {
		return err
	}
	if err := e.canCoverAsset(e.vault, asset, qty); err != nil {
		return err
	}
	if err := e.transferValue(buyPay.From, buyPay.To, buyPay.Amount); err != nil {
		return err
	}
	if err := e.transferAsset(asset, e.vault, caller, qty); err != nil {
		return err
	}
	listing.Deposited = new(big.Int).Sub(listing.Deposited, qty)
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewSoldEvent(listing, caller, qty, amountToBePaid))
	return nil
}

// Bid records the caller as the listing's bidder, reserving the bid value in
// the vault. An existing bid must be strictly outpriced and is refunded in
// full before the new reservation is admitted; both legs are validated before
// either is applied, so a failure never leaves two live reservations.
func (e *Engine) Bid(caller, owner [20]byte, asset uint64, nonce uint64, bidPay Payment, quantity, unitaryPrice *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	qty := cloneBigInt(quantity)
	price := cloneBigInt(unitaryPrice)
	if qty.Sign() <= 0 {
		return fmt.Errorf("marketplace: quantity must be positive")
	}
	if price.Sign() < 0 {
		return fmt.Errorf("marketplace: unitary price must be non-negative")
	}
	callerAcc, err := e.state.GetAccount(caller[:])
	if err != nil {
		return err
	}
	if !callerAcc.HoldsAsset(asset) {
		return ErrCustodyNotRegistered
	}
	key := ListingKey{Owner: owner, Asset: asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	if qty.Cmp(listing.Deposited) > 0 {
		return ErrInsufficientDeposit
	}
	var refund *big.Int
	if listing.HasBid() {
		if price.Cmp(listing.BidUnitaryPrice) <= 0 {
			return ErrBidTooLow
		}
		refund, err = e.priceFor(asset, listing.BidUnitaryPrice, listing.BidQuantity)
		if err != nil {
			return err
		}
	}
	bidDeposit, err := e.priceFor(asset, price, qty)
	if err != nil {
		return err
	}
	if err := verifyPayment(bidPay, &caller, e.vault, bidDeposit); err != nil {
		return err
	}
	if err := e.canCoverValue(caller, bidPay.Amount); err != nil {
		return err
	}
	if refund != nil {
		if err := e.canCoverValue(e.vault, refund); err != nil {
			return err
		}
	}
	// Refund the outgoing bidder before admitting the new reservation.
	if refund != nil {
		if err := e.transferValue(e.vault, listing.Bidder, refund); err != nil {
			return err
		}
	}
	if err := e.transferValue(bidPay.From, bidPay.To, bidPay.Amount); err != nil {
		return err
	}
	previous := listing.Bidder
	listing.Bidder = caller
	listing.BidQuantity = qty
	listing.BidUnitaryPrice = price
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewBidEvent(listing, previous, refund))
	return nil
}

// AcceptBid settles the current bid: min(deposited, bidQuantity) units move to
// the bidder and the bid's full reserved value is paid to the owner. Bidder
// and bid price are retained after a partial fill so the remaining quantity
// still applies to further deposits.
func (e *Engine) AcceptBid(caller [20]byte, asset uint64, nonce uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	key := ListingKey{Owner: caller, Asset: asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	if !listing.HasBid() {
		return ErrNoActiveBid
	}
	fill := minBigInt(listing.Deposited, listing.BidQuantity)
	bidDeposit, err := e.priceFor(asset, listing.BidUnitaryPrice, listing.BidQuantity)
	if err != nil {
		return err
	}
	if fill.Sign() > 0 {
		if err := e.canCoverAsset(e.vault, asset, fill); err != nil {
			return err
		}
	}
	if err := e.canCoverValue(e.vault, bidDeposit); err != nil {
		return err
	}
	if err := e.transferAsset(asset, e.vault, listing.Bidder, fill); err != nil {
		return err
	}
	if err := e.transferValue(e.vault, caller, bidDeposit); err != nil {
		return err
	}
	listing.Deposited = new(big.Int).Sub(listing.Deposited, fill)
	listing.BidQuantity = new(big.Int).Sub(listing.BidQuantity, fill)
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewBidAcceptedEvent(listing, fill, bidDeposit))
	return nil
}

// Withdraw deletes the caller's listing, refunding any active bidder in full,
// then returning the storage reserve and the remaining custodied quantity to
// the caller. All outgoing transfers are pre-checked against the vault before
// the first mutation, so a vault shortfall aborts the call with no state
// change.
func (e *Engine) Withdraw(caller [20]byte, asset uint64, nonce uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	key := ListingKey{Owner: caller, Asset: asset, Nonce: nonce}
	listing, err := e.loadListing(key)
	if err != nil {
		return err
	}
	var refund *big.Int
	if listing.HasBid() {
		refund, err = e.priceFor(asset, listing.BidUnitaryPrice, listing.BidQuantity)
		if err != nil {
			return err
		}
	}
	outgoing := big.NewInt(ListingReserve)
	if refund != nil {
		outgoing = new(big.Int).Add(outgoing, refund)
	}
	if err := e.canCoverValue(e.vault, outgoing); err != nil {
		return err
	}
	if listing.Deposited.Sign() > 0 {
		if err := e.canCoverAsset(e.vault, asset, listing.Deposited); err != nil {
			return err
		}
	}
	if refund != nil {
		if err := e.transferValue(e.vault, listing.Bidder, refund); err != nil {
			return err
		}
	}
	if err := e.state.ListingDelete(key); err != nil {
		return err
	}
	if err := e.transferValue(e.vault, caller, big.NewInt(ListingReserve)); err != nil {
		return err
	}
	if err := e.transferAsset(asset, e.vault, caller, listing.Deposited); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(listing, refund))
	return nil
}
