package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for settings the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Oracle.FeedName) == "" {
		return fmt.Errorf("config: oracle FeedName is required")
	}
	if strings.TrimSpace(c.Oracle.MAFeedName) == "" {
		return fmt.Errorf("config: oracle MAFeedName is required")
	}
	if c.Vault.OpenRatioBps < 10_000 {
		return fmt.Errorf("config: OpenRatioBps must be at least 10000, got %d", c.Vault.OpenRatioBps)
	}
	if c.Vault.LiquidationRatioBps < 10_000 {
		return fmt.Errorf("config: LiquidationRatioBps must be at least 10000, got %d", c.Vault.LiquidationRatioBps)
	}
	if c.Vault.LiquidationRatioBps > c.Vault.OpenRatioBps {
		return fmt.Errorf("config: LiquidationRatioBps %d exceeds OpenRatioBps %d", c.Vault.LiquidationRatioBps, c.Vault.OpenRatioBps)
	}
	if c.Vault.AuctionPeriodSecs <= 0 {
		return fmt.Errorf("config: AuctionPeriodSecs must be positive, got %d", c.Vault.AuctionPeriodSecs)
	}
	if c.Vault.ExpiryDate <= 0 {
		return fmt.Errorf("config: ExpiryDate must be set")
	}
	if _, ok := c.Vault.MaxLoanUnderlyingInt(); !ok {
		return fmt.Errorf("config: MaxLoanUnderlying %q is not a valid integer", c.Vault.MaxLoanUnderlying)
	}
	if _, ok := c.Vault.FixedFeeInt(); !ok {
		return fmt.Errorf("config: FixedFee %q is not a valid integer", c.Vault.FixedFee)
	}
	return nil
}
