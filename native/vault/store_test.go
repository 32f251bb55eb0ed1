package vault

import (
	"errors"
	"math/big"
	"testing"

	"pegvault/storage"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(storage.NewMemDB())
}

func TestStatePublicKeyNames(t *testing.T) {
	state := newTestState(t)
	owner := makeAddress(0x11)
	winner := makeAddress(0x22)
	pos := &Position{
		ID:         "loan-9",
		Owner:      owner,
		Collateral: big.NewInt(1_500_000_000),
		Principal:  big.NewInt(2_000),
		Auction: &AuctionState{
			Winner:    winner,
			WinnerBid: big.NewInt(30_000_000),
			EndTS:     1_700_000_000,
		},
	}
	if err := state.PutPosition(pos); err != nil {
		t.Fatalf("put position: %v", err)
	}

	expect := map[string]string{
		"loan-9_owner":          owner.String(),
		"loan-9_collateral":     "1500000000",
		"loan-9_amount":         "2000",
		"loan-9_winner":         winner.String(),
		"loan-9_winner_bid":     "30000000",
		"loan-9_auction_end_ts": "1700000000",
	}
	for key, want := range expect {
		raw, ok, err := state.Raw(key)
		if err != nil || !ok {
			t.Fatalf("key %s missing: %v", key, err)
		}
		if raw != want {
			t.Fatalf("key %s = %q, want %q", key, raw, want)
		}
	}
	if _, ok, _ := state.Raw("loan-9_repaid"); ok {
		t.Fatalf("open loan must not carry a repaid marker")
	}
}

func TestStatePositionRoundTrip(t *testing.T) {
	state := newTestState(t)
	pos := &Position{
		ID:         "loan-9",
		Owner:      makeAddress(0x11),
		Collateral: big.NewInt(1_500_000_000),
		Principal:  big.NewInt(2_000),
		Auction: &AuctionState{
			Winner:    makeAddress(0x22),
			WinnerBid: big.NewInt(30_000_000),
			EndTS:     1_700_000_000,
		},
	}
	if err := state.PutPosition(pos); err != nil {
		t.Fatalf("put position: %v", err)
	}

	loaded, ok, err := state.GetPosition("loan-9")
	if err != nil || !ok {
		t.Fatalf("get position: %v", err)
	}
	if !loaded.Owner.Equal(pos.Owner) || loaded.Collateral.Cmp(pos.Collateral) != 0 {
		t.Fatalf("position fields lost in round trip")
	}
	if loaded.Auction == nil || loaded.Auction.EndTS != 1_700_000_000 {
		t.Fatalf("auction state lost in round trip")
	}
	if loaded.Auction.WinnerBid.Cmp(big.NewInt(30_000_000)) != 0 {
		t.Fatalf("winner bid lost in round trip")
	}

	// Clearing the auction removes its keys entirely.
	loaded.Auction = nil
	if err := state.PutPosition(loaded); err != nil {
		t.Fatalf("put position: %v", err)
	}
	for _, key := range []string{"loan-9_winner", "loan-9_winner_bid", "loan-9_auction_end_ts"} {
		if _, ok, _ := state.Raw(key); ok {
			t.Fatalf("auction key %s not deleted", key)
		}
	}

	if _, ok, err := state.GetPosition("missing"); err != nil || ok {
		t.Fatalf("missing position must report absence: %v", err)
	}
}

func TestStateOneShotFields(t *testing.T) {
	state := newTestState(t)

	if err := state.SetAssetID("PEGUSD"); err != nil {
		t.Fatalf("set asset: %v", err)
	}
	if err := state.SetAssetID("OTHER"); !errors.Is(err, errAssetAlreadySet) {
		t.Fatalf("expected errAssetAlreadySet, got %v", err)
	}

	if err := state.SetFrozenRate(big.NewRat(37, 2)); err != nil {
		t.Fatalf("set frozen rate: %v", err)
	}
	if err := state.SetFrozenRate(big.NewRat(40, 1)); !errors.Is(err, errRateAlreadySet) {
		t.Fatalf("expected errRateAlreadySet, got %v", err)
	}
	rate, ok, err := state.FrozenRate()
	if err != nil || !ok {
		t.Fatalf("frozen rate missing: %v", err)
	}
	if rate.Cmp(big.NewRat(37, 2)) != 0 {
		t.Fatalf("unexpected frozen rate %s", rate.RatString())
	}
	raw, _, _ := state.Raw("expiry_exchange_rate")
	if raw != "37/2" {
		t.Fatalf("unexpected persisted rate %q", raw)
	}
}

func TestStateCirculatingSupply(t *testing.T) {
	state := newTestState(t)

	supply, err := state.CirculatingSupply()
	if err != nil || supply.Sign() != 0 {
		t.Fatalf("fresh state must report zero supply, got %s (%v)", supply, err)
	}
	if err := state.SetCirculatingSupply(big.NewInt(4_266)); err != nil {
		t.Fatalf("set supply: %v", err)
	}
	supply, err = state.CirculatingSupply()
	if err != nil || supply.Cmp(big.NewInt(4_266)) != 0 {
		t.Fatalf("supply round trip failed: %s (%v)", supply, err)
	}
	if err := state.SetCirculatingSupply(big.NewInt(-1)); err == nil {
		t.Fatalf("negative supply must be rejected")
	}
}

func TestStateAccountRoundTrip(t *testing.T) {
	state := newTestState(t)
	addr := makeAddress(0x33)

	acc, err := state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get fresh account: %v", err)
	}
	if acc.BalanceReserve.Sign() != 0 || acc.BalancePegged.Sign() != 0 {
		t.Fatalf("fresh account must be zeroed")
	}

	acc.BalanceReserve = big.NewInt(100_000_000_000)
	acc.BalancePegged = big.NewInt(2_000)
	if err := state.PutAccount(addr, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}

	loaded, err := state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.BalanceReserve.Cmp(big.NewInt(100_000_000_000)) != 0 {
		t.Fatalf("reserve balance lost: %s", loaded.BalanceReserve)
	}
	if loaded.BalancePegged.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("pegged balance lost: %s", loaded.BalancePegged)
	}
}
