package vault

import "math/big"

const basisPointsUint = 10_000

var (
	basisPoints = big.NewInt(basisPointsUint)
	bigOne      = big.NewInt(1)
)

// floorDiv divides num by den rounding toward zero. Inputs are non-negative
// throughout the vault so this is a plain floor.
func floorDiv(num, den *big.Int) *big.Int {
	if num == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(num, den)
}

// ceilDiv divides num by den rounding away from zero for any remainder.
func ceilDiv(num, den *big.Int) *big.Int {
	if num == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, bigOne)
	}
	return quo
}

// minNextBid returns the smallest bid that may displace the standing winner:
// ceil(prev x (10000 + incBps) / 10000), strictly integer.
func minNextBid(prev *big.Int, incBps uint64) *big.Int {
	if prev == nil || prev.Sign() <= 0 {
		return big.NewInt(0)
	}
	factor := new(big.Int).SetUint64(basisPointsUint + incBps)
	num := new(big.Int).Mul(prev, factor)
	return ceilDiv(num, basisPoints)
}

// subClamped returns a-b, floored at zero.
func subClamped(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}
