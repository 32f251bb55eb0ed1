package vault

import (
	"math/big"
	"testing"
)

func TestCeilDiv(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{10, 5, 2},
		{11, 5, 3},
		{1, 1_000_000, 1},
		{0, 7, 0},
	}
	for _, tc := range cases {
		got := ceilDiv(big.NewInt(tc.num), big.NewInt(tc.den))
		if got.Int64() != tc.want {
			t.Fatalf("ceilDiv(%d, %d) = %d, want %d", tc.num, tc.den, got.Int64(), tc.want)
		}
	}
	if got := ceilDiv(big.NewInt(1), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("division by zero must yield zero, got %s", got)
	}
}

func TestFloorDiv(t *testing.T) {
	if got := floorDiv(big.NewInt(11), big.NewInt(5)); got.Int64() != 2 {
		t.Fatalf("floorDiv(11, 5) = %s", got)
	}
	if got := floorDiv(big.NewInt(1), big.NewInt(1_000_000)); got.Sign() != 0 {
		t.Fatalf("floorDiv(1, 1e6) = %s", got)
	}
}

func TestMinNextBid(t *testing.T) {
	cases := []struct {
		prev   int64
		incBps uint64
		want   int64
	}{
		{10_000, 100, 10_100},
		{29_411_765, 100, 29_705_883},
		{1, 100, 2},
		{0, 100, 0},
	}
	for _, tc := range cases {
		got := minNextBid(big.NewInt(tc.prev), tc.incBps)
		if got.Int64() != tc.want {
			t.Fatalf("minNextBid(%d, %d) = %d, want %d", tc.prev, tc.incBps, got.Int64(), tc.want)
		}
	}
}

func TestSubClamped(t *testing.T) {
	if got := subClamped(big.NewInt(5), big.NewInt(7)); got.Sign() != 0 {
		t.Fatalf("negative difference must clamp to zero, got %s", got)
	}
	if got := subClamped(big.NewInt(7), big.NewInt(5)); got.Int64() != 2 {
		t.Fatalf("subClamped(7, 5) = %s", got)
	}
	if got := subClamped(big.NewInt(7), nil); got.Int64() != 7 {
		t.Fatalf("nil subtrahend must act as zero, got %s", got)
	}
}
