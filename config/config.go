package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// AssetConfig declares a fungible asset the ledger supports from genesis.
type AssetConfig struct {
	ID       uint64 `toml:"ID"`
	Symbol   string `toml:"Symbol"`
	Decimals uint32 `toml:"Decimals"`
}

// HoldingConfig seeds an account's holding of one asset. A zero amount still
// registers custody for the asset.
type HoldingConfig struct {
	Asset  uint64 `toml:"Asset"`
	Amount string `toml:"Amount"`
}

// GenesisAccountConfig seeds one account at first start.
type GenesisAccountConfig struct {
	Address  string          `toml:"Address"`
	Balance  string          `toml:"Balance"`
	Holdings []HoldingConfig `toml:"Holdings,omitempty"`
}

type Config struct {
	RPCAddress      string                 `toml:"RPCAddress"`
	DataDir         string                 `toml:"DataDir"`
	NetworkName     string                 `toml:"NetworkName"`
	PausedModules   []string               `toml:"PausedModules,omitempty"`
	Assets          []AssetConfig          `toml:"Assets,omitempty"`
	GenesisAccounts []GenesisAccountConfig `toml:"GenesisAccounts,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown fields: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./marketd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "marketd-local"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
