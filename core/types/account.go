package types

import "math/big"

// Account is the ledger-side record for a single identity: its spendable value
// balance plus the fungible assets it holds. Presence of an asset key in
// Holdings means the account has registered custody for that asset and may
// receive units of it; the balance for a freshly registered asset is zero.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balance  *big.Int            `json:"balance"`
	Holdings map[uint64]*big.Int `json:"holdings,omitempty"`
}

// Clone returns a deep copy of the account so callers can mutate the result
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.Holdings != nil {
		clone.Holdings = make(map[uint64]*big.Int, len(a.Holdings))
		for asset, amount := range a.Holdings {
			if amount == nil {
				clone.Holdings[asset] = big.NewInt(0)
				continue
			}
			clone.Holdings[asset] = new(big.Int).Set(amount)
		}
	}
	return clone
}

// HoldsAsset reports whether the account has registered custody for the asset.
func (a *Account) HoldsAsset(asset uint64) bool {
	if a == nil || a.Holdings == nil {
		return false
	}
	_, ok := a.Holdings[asset]
	return ok
}

// AssetBalance returns the held quantity of the asset, zero when the asset is
// not registered.
func (a *Account) AssetBalance(asset uint64) *big.Int {
	if a == nil || a.Holdings == nil {
		return big.NewInt(0)
	}
	amount, ok := a.Holdings[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}
