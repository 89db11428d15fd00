package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"marketd/config"
	"marketd/core"
	"marketd/crypto"
	"marketd/observability/logging"
	"marketd/rpc"
	"marketd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKETD_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	genesis, err := buildGenesis(cfg)
	if err != nil {
		logger.Error("invalid genesis configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, genesis, cfg.PausedModules)
	if err != nil {
		logger.Error("failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("vault", crypto.NewAddress(core.ModuleVault).String()))

	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildGenesis(cfg *config.Config) (core.Genesis, error) {
	genesis := core.Genesis{}
	for _, asset := range cfg.Assets {
		genesis.Assets = append(genesis.Assets, core.GenesisAsset{
			ID:       asset.ID,
			Symbol:   asset.Symbol,
			Decimals: asset.Decimals,
		})
	}
	for _, seed := range cfg.GenesisAccounts {
		addr, err := crypto.DecodeAddress(seed.Address)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis account %q: %w", seed.Address, err)
		}
		balance, err := parseAmount(seed.Balance)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis account %q balance: %w", seed.Address, err)
		}
		account := core.GenesisAccount{Address: addr.Bytes(), Balance: balance}
		if len(seed.Holdings) > 0 {
			account.Holdings = make(map[uint64]*big.Int, len(seed.Holdings))
			for _, holding := range seed.Holdings {
				amount, err := parseAmount(holding.Amount)
				if err != nil {
					return core.Genesis{}, fmt.Errorf("genesis account %q asset %d: %w", seed.Address, holding.Asset, err)
				}
				account.Holdings[holding.Asset] = amount
			}
		}
		genesis.Accounts = append(genesis.Accounts, account)
	}
	return genesis, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}
