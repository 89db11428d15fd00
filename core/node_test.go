package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

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

func testGenesis() Genesis {
	return Genesis{
		Assets: []GenesisAsset{{ID: 7, Symbol: "GEM", Decimals: 3}},
		Accounts: []GenesisAccount{
			{
				Address:  testAddr(0x01),
				Balance:  big.NewInt(1_000_000),
				Holdings: map[uint64]*big.Int{7: big.NewInt(10_000)},
			},
			{
				Address: testAddr(0x02),
				Balance: big.NewInt(1_000_000),
			},
		},
	}
}

func TestGenesisSeedsAccountsOnce(t *testing.T) {
	db := storage.NewMemDB()
	node, err := NewNode(db, testGenesis(), nil)
	require.NoError(t, err)

	account, err := node.Account(testAddr(0x01))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), account.Balance.Int64())
	require.True(t, account.HoldsAsset(7))

	asset, err := node.Asset(7)
	require.NoError(t, err)
	require.Equal(t, "GEM", asset.Symbol)

	// A second node over the same database must not reseed.
	_, err = NewNode(db, testGenesis(), nil)
	require.NoError(t, err)
	account, err = node.Account(testAddr(0x01))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), account.Balance.Int64())
}

func TestGenesisRejectsUnknownAssetHolding(t *testing.T) {
	genesis := testGenesis()
	genesis.Accounts[0].Holdings[99] = big.NewInt(1)
	_, err := NewNode(storage.NewMemDB(), genesis, nil)
	require.Error(t, err)
}

func TestGenesisRejectsNegativeBalance(t *testing.T) {
	genesis := testGenesis()
	genesis.Accounts[0].Balance = big.NewInt(-1)
	_, err := NewNode(storage.NewMemDB(), genesis, nil)
	require.Error(t, err)
}

func TestMarketOptIn(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), testGenesis(), nil)
	require.NoError(t, err)

	buyer := testAddr(0x02)
	require.NoError(t, node.MarketOptIn(buyer, 7))
	account, err := node.Account(buyer)
	require.NoError(t, err)
	require.True(t, account.HoldsAsset(7))

	err = node.MarketOptIn(buyer, 7)
	require.ErrorIs(t, err, marketplace.ErrCustodyRegistered)

	require.Error(t, node.MarketOptIn(buyer, 99))
}

func TestPausedModuleBlocksMutations(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), testGenesis(), []string{"marketplace"})
	require.NoError(t, err)

	seller := testAddr(0x01)
	pay := marketplace.Payment{From: seller, To: ModuleVault, Amount: big.NewInt(marketplace.ListingReserve)}
	xfer := marketplace.AssetTransfer{Asset: 7, From: seller, To: ModuleVault, Amount: big.NewInt(100)}
	_, err = node.MarketFirstDeposit(seller, pay, xfer, 1, big.NewInt(5_000))
	require.Error(t, err)
}

func TestListingLifecycleThroughNode(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), testGenesis(), nil)
	require.NoError(t, err)

	seller := testAddr(0x01)
	bidder := testAddr(0x02)

	mbr := marketplace.Payment{From: seller, To: ModuleVault, Amount: big.NewInt(marketplace.CustodyReserve)}
	require.NoError(t, node.MarketAllowAsset(seller, mbr, 7))

	pay := marketplace.Payment{From: seller, To: ModuleVault, Amount: big.NewInt(marketplace.ListingReserve)}
	xfer := marketplace.AssetTransfer{Asset: 7, From: seller, To: ModuleVault, Amount: big.NewInt(100)}
	listing, err := node.MarketFirstDeposit(seller, pay, xfer, 1, big.NewInt(5_000))
	require.NoError(t, err)
	require.Equal(t, int64(100), listing.Deposited.Int64())

	require.NoError(t, node.MarketOptIn(bidder, 7))
	bidPay := marketplace.Payment{From: bidder, To: ModuleVault, Amount: big.NewInt(400)}
	require.NoError(t, node.MarketBid(bidder, seller, 7, 1, bidPay, big.NewInt(100), big.NewInt(4_000)))

	require.NoError(t, node.MarketAcceptBid(seller, 7, 1))
	account, err := node.Account(bidder)
	require.NoError(t, err)
	require.Equal(t, int64(100), account.AssetBalance(7).Int64())

	require.NoError(t, node.MarketWithdraw(seller, 7, 1))
	_, err = node.MarketListing(seller, 7, 1)
	require.True(t, errors.Is(err, marketplace.ErrListingNotFound))
}

func TestAccountReturnsCopy(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), testGenesis(), nil)
	require.NoError(t, err)

	account, err := node.Account(testAddr(0x01))
	require.NoError(t, err)
	account.Balance.SetInt64(0)

	reloaded, err := node.Account(testAddr(0x01))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), reloaded.Balance.Int64())
}
