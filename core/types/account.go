package types

import "math/big"

// Account tracks the balances held by a single address inside the vault. The
// reserve balance is denominated in the smallest unit of the volatile reserve
// asset; the pegged balance is denominated in the smallest unit of the pegged
// token (scaled by the configured decimals).
type Account struct {
	BalanceReserve *big.Int `json:"balanceReserve"`
	BalancePegged  *big.Int `json:"balancePegged"`
}

// Normalize replaces nil balances with zero so callers can operate on the
// account without nil checks.
func (a *Account) Normalize() {
	if a == nil {
		return
	}
	if a.BalanceReserve == nil {
		a.BalanceReserve = big.NewInt(0)
	}
	if a.BalancePegged == nil {
		a.BalancePegged = big.NewInt(0)
	}
}
