package vault

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// defaultReserveUnit is the number of base units in one whole reserve
	// asset (the denomination oracle feeds quote against).
	defaultReserveUnit = 1_000_000_000
	// defaultFixedFee is the processing cost withheld from outbid refunds and
	// exchange mints, in reserve base units.
	defaultFixedFee = 1_000
	// defaultMinBidIncrementBps requires each outbid to improve on the
	// standing bid by 1%.
	defaultMinBidIncrementBps = 100
)

// GlobalParams holds the immutable configuration fixed when the vault is
// created. Ratios are expressed in basis points for deterministic integer
// arithmetic.
type GlobalParams struct {
	// OracleSource identifies the trusted feed publisher.
	OracleSource string
	// FeedName is the spot price feed consulted by mint/redeem exchange.
	FeedName string
	// MAFeedName is the moving-average feed authoritative for solvency and
	// auction math.
	MAFeedName string
	// OpenRatioBps is the overcollateralization ratio required at issuance
	// (e.g. 15000 = 1.5).
	OpenRatioBps uint64
	// LiquidationRatioBps is the collateral ratio below which a position may
	// be seized (e.g. 13000 = 1.3).
	LiquidationRatioBps uint64
	// MinBidIncrementBps is the minimum improvement an outbid must carry over
	// the standing winner.
	MinBidIncrementBps uint64
	// Decimals scales the pegged token (10^Decimals smallest units per whole
	// pegged unit).
	Decimals uint8
	// ReserveUnit is the number of reserve base units per whole reserve
	// asset.
	ReserveUnit uint64
	// AuctionPeriod is the auction duration in seconds, fixed at the opening
	// bid and never extended.
	AuctionPeriod int64
	// ExpiryDate is the unix timestamp at or after which the exchange rate
	// may be frozen.
	ExpiryDate int64
	// MaxLoanUnderlying caps the aggregate issued value, denominated in
	// reserve base units at issuance-time prices.
	MaxLoanUnderlying *big.Int
	// FixedFee is the processing cost withheld from outbid refunds and
	// exchange mints, in reserve base units.
	FixedFee *big.Int
}

// Normalize fills zero-valued optional fields with their defaults.
func (p *GlobalParams) Normalize() {
	if p == nil {
		return
	}
	if p.ReserveUnit == 0 {
		p.ReserveUnit = defaultReserveUnit
	}
	if p.MinBidIncrementBps == 0 {
		p.MinBidIncrementBps = defaultMinBidIncrementBps
	}
	if p.FixedFee == nil {
		p.FixedFee = big.NewInt(defaultFixedFee)
	}
}

// Validate checks the parameter set for internal consistency.
func (p *GlobalParams) Validate() error {
	if p == nil {
		return fmt.Errorf("vault params: nil")
	}
	if strings.TrimSpace(p.FeedName) == "" {
		return fmt.Errorf("vault params: feed name required")
	}
	if strings.TrimSpace(p.MAFeedName) == "" {
		return fmt.Errorf("vault params: moving-average feed name required")
	}
	if p.OpenRatioBps <= basisPointsUint {
		return fmt.Errorf("vault params: overcollateralization ratio must exceed 100%%")
	}
	if p.LiquidationRatioBps <= basisPointsUint {
		return fmt.Errorf("vault params: liquidation ratio must exceed 100%%")
	}
	if p.LiquidationRatioBps > p.OpenRatioBps {
		return fmt.Errorf("vault params: liquidation ratio must not exceed the opening ratio")
	}
	if p.AuctionPeriod <= 0 {
		return fmt.Errorf("vault params: auction period must be positive")
	}
	if p.ExpiryDate <= 0 {
		return fmt.Errorf("vault params: expiry date required")
	}
	if p.MaxLoanUnderlying == nil || p.MaxLoanUnderlying.Sign() <= 0 {
		return fmt.Errorf("vault params: max loan value must be positive")
	}
	if p.FixedFee == nil || p.FixedFee.Sign() < 0 {
		return fmt.Errorf("vault params: fixed fee must be non-negative")
	}
	return nil
}

// Clone returns a deep copy of the parameter set.
func (p GlobalParams) Clone() GlobalParams {
	clone := p
	if p.MaxLoanUnderlying != nil {
		clone.MaxLoanUnderlying = new(big.Int).Set(p.MaxLoanUnderlying)
	}
	if p.FixedFee != nil {
		clone.FixedFee = new(big.Int).Set(p.FixedFee)
	}
	return clone
}
