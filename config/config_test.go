package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.RPCAddress)
	require.Equal(t, "./marketd-data", cfg.DataDir)
	require.Equal(t, "marketd-local", cfg.NetworkName)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// Loading the written file gives back the same defaults.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesGenesisSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
RPCAddress = ":9000"
DataDir = "/tmp/marketd"
NetworkName = "testnet"
PausedModules = ["marketplace"]

[[Assets]]
ID = 7
Symbol = "GEM"
Decimals = 3

[[GenesisAccounts]]
Address = "mkt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
Balance = "1000000"

[[GenesisAccounts.Holdings]]
Asset = 7
Amount = "10000"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.RPCAddress)
	require.Equal(t, []string{"marketplace"}, cfg.PausedModules)
	require.Len(t, cfg.Assets, 1)
	require.Equal(t, uint64(7), cfg.Assets[0].ID)
	require.Equal(t, uint32(3), cfg.Assets[0].Decimals)
	require.Len(t, cfg.GenesisAccounts, 1)
	require.Len(t, cfg.GenesisAccounts[0].Holdings, 1)
	require.Equal(t, "10000", cfg.GenesisAccounts[0].Holdings[0].Amount)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown fields")
}
