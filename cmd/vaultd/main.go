package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"pegvault/config"
	"pegvault/core/events"
	"pegvault/crypto"
	"pegvault/native/oracle"
	"pegvault/native/vault"
	"pegvault/observability"
	"pegvault/observability/logging"
	"pegvault/rpc"
	"pegvault/storage"
)

const envPrefix = "PEGVAULT"

// moduleSeed fills the treasury address when none is configured. The module
// account only exists inside the vault's own ledger, so any stable 20-byte
// value works.
var moduleSeed = [20]byte{0x70, 0x65, 0x67, 0x76, 0x61, 0x75, 0x6c, 0x74, 0x2d, 0x74, 0x72, 0x65, 0x61, 0x73, 0x75, 0x72, 0x79, 0x00, 0x00, 0x01}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "DEV ONLY: run with an in-memory store instead of LevelDB")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envPrefix + "_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("vaultd", env, cfg.LogLevel)

	var db storage.Database
	if *memory {
		logger.Warn("running with an in-memory store, state will not survive restarts")
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	moduleAddr, err := resolveModuleAddress(cfg.Vault.ModuleAddress)
	if err != nil {
		logger.Error("invalid module address", slog.Any("error", err))
		os.Exit(1)
	}

	params, err := engineParams(cfg)
	if err != nil {
		logger.Error("invalid vault parameters", slog.Any("error", err))
		os.Exit(1)
	}

	feeds := oracle.NewFeedStore(cfg.Oracle.SourceName)
	prices := buildOracle(cfg, feeds, logger)

	state := vault.NewState(db)
	engine := vault.NewEngine(moduleAddr, params)
	engine.SetState(state)
	engine.SetOracle(prices)
	engine.SetEmitter(events.NewLogEmitter(logger))

	logger.Info("vault engine ready",
		slog.String("network", cfg.NetworkName),
		slog.String("feed", cfg.Oracle.FeedName),
		slog.Int64("expiry", params.ExpiryDate),
	)

	server := rpc.NewServer(engine, state, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// buildOracle assembles the price source: the local feed store always
// participates, and when an HTTP endpoint is configured a poller keeps the
// store current with the publisher's latest values.
func buildOracle(cfg *config.Config, feeds *oracle.FeedStore, logger *slog.Logger) oracle.PriceOracle {
	maxAge := time.Duration(cfg.Oracle.MaxAgeSecs) * time.Second
	agg := oracle.NewAggregator([]string{"local"}, maxAge)
	agg.Register("local", feeds)

	endpoint := strings.TrimSpace(cfg.Oracle.Endpoint)
	if endpoint == "" {
		return agg
	}

	apiKey := ""
	if name := strings.TrimSpace(cfg.Oracle.APIKeyEnv); name != "" {
		apiKey = strings.TrimSpace(os.Getenv(name))
	}
	remote := oracle.NewHTTPOracle(nil, endpoint, apiKey)
	agg.Register("http", remote)

	go pollFeeds(cfg, remote, feeds, logger)
	return agg
}

func pollFeeds(cfg *config.Config, remote *oracle.HTTPOracle, feeds *oracle.FeedStore, logger *slog.Logger) {
	interval := time.Duration(cfg.Oracle.PollInterval) * time.Second
	metrics := observability.Oracle()
	names := []string{cfg.Oracle.FeedName, cfg.Oracle.MAFeedName}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for _, name := range names {
			quote, err := remote.GetRate(name)
			metrics.ObserveFetch(name, err)
			if err != nil {
				logger.Warn("feed poll failed", slog.String("feed", name), slog.Any("error", err))
				continue
			}
			if err := feeds.Publish(name, quote.Rate, quote.Timestamp); err != nil {
				logger.Warn("feed publish failed", slog.String("feed", name), slog.Any("error", err))
			}
		}
	}
}

func resolveModuleAddress(configured string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		return crypto.NewAddress(crypto.VaultPrefix, moduleSeed[:]), nil
	}
	return crypto.DecodeAddress(trimmed)
}

func engineParams(cfg *config.Config) (vault.GlobalParams, error) {
	maxLoan, ok := cfg.Vault.MaxLoanUnderlyingInt()
	if !ok {
		return vault.GlobalParams{}, fmt.Errorf("invalid MaxLoanUnderlying %q", cfg.Vault.MaxLoanUnderlying)
	}
	fee, ok := cfg.Vault.FixedFeeInt()
	if !ok {
		return vault.GlobalParams{}, fmt.Errorf("invalid FixedFee %q", cfg.Vault.FixedFee)
	}
	params := vault.GlobalParams{
		OracleSource:        cfg.Oracle.SourceName,
		FeedName:            cfg.Oracle.FeedName,
		MAFeedName:          cfg.Oracle.MAFeedName,
		OpenRatioBps:        cfg.Vault.OpenRatioBps,
		LiquidationRatioBps: cfg.Vault.LiquidationRatioBps,
		MinBidIncrementBps:  cfg.Vault.MinBidIncrementBps,
		Decimals:            cfg.Vault.Decimals,
		ReserveUnit:         cfg.Vault.ReserveUnit,
		AuctionPeriod:       cfg.Vault.AuctionPeriodSecs,
		ExpiryDate:          cfg.Vault.ExpiryDate,
		MaxLoanUnderlying:   maxLoan,
		FixedFee:            fee,
	}
	if err := params.Validate(); err != nil {
		return vault.GlobalParams{}, err
	}
	return params, nil
}
