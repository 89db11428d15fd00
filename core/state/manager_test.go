package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"marketd/core/types"
	"marketd/native/marketplace"
	"marketd/storage"
)

func testAddr(b byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = b
	}
	return addr
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	account, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, int64(0), account.Balance.Int64())

	account.Balance = big.NewInt(1_000)
	account.Holdings = map[uint64]*big.Int{7: big.NewInt(50)}
	require.NoError(t, manager.PutAccount(addr[:], account))

	loaded, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, int64(1_000), loaded.Balance.Int64())
	require.True(t, loaded.HoldsAsset(7))
	require.Equal(t, int64(50), loaded.AssetBalance(7).Int64())
}

func TestRegisterCustody(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	require.NoError(t, manager.RegisterCustody(addr, 7))
	account, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.True(t, account.HoldsAsset(7))
	require.Equal(t, int64(0), account.AssetBalance(7).Int64())

	require.Error(t, manager.RegisterCustody(addr, 7))
}

func TestAssetRegistryImmutable(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	info := AssetInfo{ID: 7, Symbol: "GEM", Decimals: 3}
	require.NoError(t, manager.RegisterAsset(info))
	require.Error(t, manager.RegisterAsset(info))

	loaded, err := manager.Asset(7)
	require.NoError(t, err)
	require.Equal(t, info, *loaded)

	decimals, err := manager.AssetDecimals(7)
	require.NoError(t, err)
	require.Equal(t, uint32(3), decimals)

	_, err = manager.Asset(8)
	require.Error(t, err)
}

func TestListingRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	listing := &marketplace.Listing{
		Key:          marketplace.ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1},
		Deposited:    big.NewInt(100),
		UnitaryPrice: big.NewInt(5_000),
	}
	require.NoError(t, manager.ListingPut(listing))

	loaded, ok := manager.ListingGet(listing.Key)
	require.True(t, ok)
	require.Equal(t, listing.Key, loaded.Key)
	require.Equal(t, int64(100), loaded.Deposited.Int64())

	require.NoError(t, manager.ListingDelete(listing.Key))
	_, ok = manager.ListingGet(listing.Key)
	require.False(t, ok)
}

func TestListingPutRejectsInvalidRecord(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	listing := &marketplace.Listing{
		Key:          marketplace.ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1},
		Deposited:    big.NewInt(-1),
		UnitaryPrice: big.NewInt(5_000),
	}
	require.Error(t, manager.ListingPut(listing))
}

func TestStateSurvivesManagerRestart(t *testing.T) {
	db := storage.NewMemDB()
	first := NewManager(db)
	require.NoError(t, first.RegisterAsset(AssetInfo{ID: 7, Symbol: "GEM", Decimals: 3}))
	listing := &marketplace.Listing{
		Key:          marketplace.ListingKey{Owner: testAddr(0x01), Asset: 7, Nonce: 1},
		Deposited:    big.NewInt(100),
		UnitaryPrice: big.NewInt(5_000),
	}
	require.NoError(t, first.ListingPut(listing))
	account := &types.Account{Balance: big.NewInt(42)}
	addr := testAddr(0x02)
	require.NoError(t, first.PutAccount(addr[:], account))
	require.NoError(t, first.MarkGenesisApplied())

	second := NewManager(db)
	applied, err := second.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)

	loaded, ok := second.ListingGet(listing.Key)
	require.True(t, ok)
	require.Equal(t, int64(100), loaded.Deposited.Int64())

	reloaded, err := second.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, int64(42), reloaded.Balance.Int64())
}
