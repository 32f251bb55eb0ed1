package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level vaultd configuration.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	LogLevel    string `toml:"LogLevel"`
	Environment string `toml:"Environment"`

	Oracle OracleConfig `toml:"oracle"`
	Vault  VaultConfig  `toml:"vault"`
}

// OracleConfig describes where price feeds come from.
type OracleConfig struct {
	Endpoint     string `toml:"Endpoint"`
	APIKeyEnv    string `toml:"APIKeyEnv"`
	MaxAgeSecs   int64  `toml:"MaxAgeSecs"`
	SourceName   string `toml:"SourceName"`
	FeedName     string `toml:"FeedName"`
	MAFeedName   string `toml:"MAFeedName"`
	PollInterval int64  `toml:"PollIntervalSecs"`
}

// VaultConfig holds the immutable vault parameters fixed at deployment.
type VaultConfig struct {
	ModuleAddress       string `toml:"ModuleAddress"`
	OpenRatioBps        uint64 `toml:"OpenRatioBps"`
	LiquidationRatioBps uint64 `toml:"LiquidationRatioBps"`
	MinBidIncrementBps  uint64 `toml:"MinBidIncrementBps"`
	Decimals            uint8  `toml:"Decimals"`
	ReserveUnit         uint64 `toml:"ReserveUnit"`
	AuctionPeriodSecs   int64  `toml:"AuctionPeriodSecs"`
	ExpiryDate          int64  `toml:"ExpiryDate"`
	MaxLoanUnderlying   string `toml:"MaxLoanUnderlying"`
	FixedFee            string `toml:"FixedFee"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./vault-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "pegvault-local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.Oracle.MaxAgeSecs <= 0 {
		c.Oracle.MaxAgeSecs = 3600
	}
	if c.Oracle.PollInterval <= 0 {
		c.Oracle.PollInterval = 60
	}
	if strings.TrimSpace(c.Oracle.SourceName) == "" {
		c.Oracle.SourceName = "http"
	}
	if c.Vault.MinBidIncrementBps == 0 {
		c.Vault.MinBidIncrementBps = 100
	}
	if c.Vault.ReserveUnit == 0 {
		c.Vault.ReserveUnit = 1_000_000_000
	}
	if strings.TrimSpace(c.Vault.FixedFee) == "" {
		c.Vault.FixedFee = "1000"
	}
}

// MaxLoanUnderlyingInt parses the configured loan cap.
func (c *VaultConfig) MaxLoanUnderlyingInt() (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(c.MaxLoanUnderlying), 10)
}

// FixedFeeInt parses the configured processing fee.
func (c *VaultConfig) FixedFeeInt() (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(c.FixedFee), 10)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./vault-data",
		NetworkName: "pegvault-local",
		LogLevel:    "info",
		Oracle: OracleConfig{
			Endpoint:     "http://127.0.0.1:9090/rates",
			MaxAgeSecs:   3600,
			SourceName:   "http",
			FeedName:     "GBYTE_USD",
			MAFeedName:   "GBYTE_USD_MA",
			PollInterval: 60,
		},
		Vault: VaultConfig{
			OpenRatioBps:        15_000,
			LiquidationRatioBps: 13_000,
			MinBidIncrementBps:  100,
			Decimals:            2,
			ReserveUnit:         1_000_000_000,
			AuctionPeriodSecs:   3 * 24 * 3600,
			ExpiryDate:          1_924_905_600, // 2031-01-01T00:00:00Z
			MaxLoanUnderlying:   "10000000000",
			FixedFee:            "1000",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(cfg)
}
