package vault

import (
	"errors"
	"math/big"
	"testing"

	"pegvault/crypto"
)

// seizableLoan opens a 1.5 GBYTE loan at a moving average of 20 and then drops
// the feed to 17, which puts the 2000-unit principal below the 1.3 liquidation
// ratio. The shortfall to restore the ratio at 17 is 29411765 base units.
func seizableLoan(t *testing.T) (*testHarness, crypto.Address, crypto.Address, crypto.Address) {
	t.Helper()
	h := newTestHarness(t, testParams())
	h.define(t)
	h.publish(t, testMAFeed, 20)
	alice := makeAddress(0xA1)
	bob := makeAddress(0xB2)
	charlie := makeAddress(0xC3)
	h.fundReserve(t, alice, 100_000_000_000)
	h.fundReserve(t, bob, 100_000_000_000)
	h.fundReserve(t, charlie, 100_000_000_000)

	if _, err := h.engine.Issue(alice, "loan-1", big.NewInt(1_500_000_000)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	h.publish(t, testMAFeed, 17)
	return h, alice, bob, charlie
}

func TestSeizeHealthyLoanRejected(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.define(t)
	h.publish(t, testMAFeed, 20)
	alice := makeAddress(0xA1)
	bob := makeAddress(0xB2)
	h.fundReserve(t, alice, 100_000_000_000)
	h.fundReserve(t, bob, 100_000_000_000)

	if _, err := h.engine.Issue(alice, "loan-1", big.NewInt(1_500_000_000)); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// 19 still covers the principal at the 1.3 liquidation ratio.
	h.publish(t, testMAFeed, 19)
	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(1_000_000_000)); !errors.Is(err, ErrSufficientlyCollateralized) {
		t.Fatalf("expected ErrSufficientlyCollateralized, got %v", err)
	}
}

func TestSeizeOpeningBid(t *testing.T) {
	h, _, bob, _ := seizableLoan(t)

	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(29_411_764)); !errors.Is(err, ErrOpeningBidTooLow) {
		t.Fatalf("expected ErrOpeningBidTooLow, got %v", err)
	}

	before := h.account(t, bob).BalanceReserve
	receipt, err := h.engine.Seize(bob, "loan-1", big.NewInt(29_411_765))
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	if receipt.NewBid.Cmp(big.NewInt(29_411_765)) != 0 {
		t.Fatalf("unexpected bid: %s", receipt.NewBid)
	}
	if receipt.AuctionEndTS != h.clock.now+testAuctionTn {
		t.Fatalf("unexpected auction deadline: %d", receipt.AuctionEndTS)
	}
	if receipt.PreviousWinner {
		t.Fatalf("opening bid reported a displaced winner")
	}

	acc := h.account(t, bob)
	expected := new(big.Int).Sub(before, big.NewInt(29_411_765))
	if acc.BalanceReserve.Cmp(expected) != 0 {
		t.Fatalf("bid not escrowed: %s", acc.BalanceReserve)
	}

	pos, ok, err := h.state.GetPosition("loan-1")
	if err != nil || !ok {
		t.Fatalf("position missing: %v", err)
	}
	if pos.Auction == nil || !pos.Auction.Winner.Equal(bob) {
		t.Fatalf("auction state not recorded")
	}
}

func TestSeizeOutbidRefundsDisplacedWinner(t *testing.T) {
	h, _, bob, charlie := seizableLoan(t)

	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(29_411_765)); err != nil {
		t.Fatalf("opening seize: %v", err)
	}

	// below ceil(previous x 1.01)
	if _, err := h.engine.Seize(charlie, "loan-1", big.NewInt(29_705_882)); !errors.Is(err, ErrOutbidTooLow) {
		t.Fatalf("expected ErrOutbidTooLow, got %v", err)
	}

	bobBefore := h.account(t, bob).BalanceReserve
	receipt, err := h.engine.Seize(charlie, "loan-1", big.NewInt(29_705_883))
	if err != nil {
		t.Fatalf("outbid: %v", err)
	}
	if !receipt.PreviousWinner || !receipt.RefundedBidder.Equal(bob) {
		t.Fatalf("displaced winner not reported")
	}
	// the displaced bid comes back minus the fixed fee
	if receipt.RefundedAmount.Cmp(big.NewInt(29_410_765)) != 0 {
		t.Fatalf("unexpected refund: %s", receipt.RefundedAmount)
	}

	acc := h.account(t, bob)
	expected := new(big.Int).Add(bobBefore, big.NewInt(29_410_765))
	if acc.BalanceReserve.Cmp(expected) != 0 {
		t.Fatalf("refund not credited: %s", acc.BalanceReserve)
	}

	pos, _, err := h.state.GetPosition("loan-1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.Auction.Winner.Equal(charlie) {
		t.Fatalf("winner not replaced")
	}
	if pos.Auction.EndTS != receipt.AuctionEndTS {
		t.Fatalf("outbid moved the deadline")
	}
}

func TestRepayAndTopUpBlockedDuringAuction(t *testing.T) {
	h, alice, bob, _ := seizableLoan(t)

	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(29_411_765)); err != nil {
		t.Fatalf("seize: %v", err)
	}
	if _, err := h.engine.Repay(alice, "loan-1", big.NewInt(2_000)); !errors.Is(err, ErrAuctionActive) {
		t.Fatalf("expected ErrAuctionActive on repay, got %v", err)
	}
	if _, err := h.engine.AddCollateral(alice, "loan-1", big.NewInt(1)); !errors.Is(err, ErrAuctionActive) {
		t.Fatalf("expected ErrAuctionActive on top-up, got %v", err)
	}
}

func TestEndAuctionTransfersLoan(t *testing.T) {
	h, alice, bob, charlie := seizableLoan(t)

	if _, err := h.engine.EndAuction(bob, "loan-1"); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning before any bid, got %v", err)
	}
	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(29_411_765)); err != nil {
		t.Fatalf("seize: %v", err)
	}
	if _, err := h.engine.Seize(charlie, "loan-1", big.NewInt(29_705_883)); err != nil {
		t.Fatalf("outbid: %v", err)
	}
	if _, err := h.engine.EndAuction(bob, "loan-1"); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning before the deadline, got %v", err)
	}

	h.clock.Advance(testAuctionTn)
	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(40_000_000)); !errors.Is(err, ErrAuctionExpired) {
		t.Fatalf("expected ErrAuctionExpired after the deadline, got %v", err)
	}

	receipt, err := h.engine.EndAuction(bob, "loan-1")
	if err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if !receipt.NewOwner.Equal(charlie) {
		t.Fatalf("loan not transferred to the winner")
	}
	if receipt.NewCollateral.Cmp(big.NewInt(29_705_883)) != 0 {
		t.Fatalf("unexpected post-auction collateral: %s", receipt.NewCollateral)
	}

	pos, ok, err := h.state.GetPosition("loan-1")
	if err != nil || !ok {
		t.Fatalf("position missing: %v", err)
	}
	if !pos.Owner.Equal(charlie) || pos.Auction != nil {
		t.Fatalf("auction state not cleared")
	}
	if pos.Collateral.Cmp(big.NewInt(29_705_883)) != 0 {
		t.Fatalf("collateral not replaced by the winning bid: %s", pos.Collateral)
	}
	if _, ok, err := h.state.Raw("loan-1_winner"); err != nil || ok {
		t.Fatalf("winner key survived settlement")
	}

	if _, err := h.engine.EndAuction(bob, "loan-1"); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected settled auction to report ErrStillRunning, got %v", err)
	}

	// The previous owner lost the position; the new owner can repay and
	// collect the remaining collateral.
	if _, err := h.engine.Repay(alice, "loan-1", big.NewInt(2_000)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for the seized owner, got %v", err)
	}
	if _, err := h.engine.Issue(charlie, "loan-2", big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("issue follow-up loan: %v", err)
	}
	repay, err := h.engine.Repay(charlie, "loan-1", big.NewInt(2_000))
	if err != nil {
		t.Fatalf("repay after settlement: %v", err)
	}
	if repay.Collateral.Cmp(big.NewInt(29_705_883)) != 0 {
		t.Fatalf("unexpected collateral release: %s", repay.Collateral)
	}
}

func TestSeizeGuards(t *testing.T) {
	h, alice, bob, _ := seizableLoan(t)

	if _, err := h.engine.Seize(bob, "missing", big.NewInt(1_000_000)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	h.publish(t, testMAFeed, 20)
	if _, err := h.engine.Repay(alice, "loan-1", big.NewInt(2_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := h.engine.Seize(bob, "loan-1", big.NewInt(1_000_000)); !errors.Is(err, ErrAlreadyRepaid) {
		t.Fatalf("expected ErrAlreadyRepaid, got %v", err)
	}
}
