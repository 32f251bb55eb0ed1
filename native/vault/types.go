package vault

import (
	"math/big"

	"pegvault/crypto"
)

// Position is a single collateralized debt record, keyed by the identifier of
// the trigger that created it. A position is never deleted; Repaid is its
// tombstone.
type Position struct {
	ID string
	// Owner receives the collateral at repayment. Reassigned only by auction
	// settlement.
	Owner crypto.Address
	// Collateral is the reserve-asset amount backing the loan, in base units.
	Collateral *big.Int
	// Principal is the pegged-token amount owed, fixed at issuance.
	Principal *big.Int
	// Repaid is set exactly once and terminal.
	Repaid bool
	// Auction holds the live auction sub-state, nil when no auction is
	// active.
	Auction *AuctionState
}

// AuctionState captures the standing bid while a seizure auction is open.
type AuctionState struct {
	Winner    crypto.Address
	WinnerBid *big.Int
	// EndTS is fixed when the auction opens and never extended by later bids.
	EndTS int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	}
	if p.Auction != nil {
		auction := *p.Auction
		if p.Auction.WinnerBid != nil {
			auction.WinnerBid = new(big.Int).Set(p.Auction.WinnerBid)
		}
		clone.Auction = &auction
	}
	return &clone
}

// IssueReceipt is returned to the caller after a successful loan issuance.
type IssueReceipt struct {
	ID     string
	Amount *big.Int
}

// RepayReceipt reports the collateral released and any excess pegged tokens
// returned after a repayment.
type RepayReceipt struct {
	Collateral *big.Int
	Refund     *big.Int
}

// BidReceipt reports the standing bid after a successful seize, along with
// the refund issued to a displaced bidder when one existed.
type BidReceipt struct {
	NewBid         *big.Int
	AuctionEndTS   int64
	RefundedBidder crypto.Address
	RefundedAmount *big.Int
	PreviousWinner bool
}

// SettleReceipt reports the outcome of a settled auction.
type SettleReceipt struct {
	NewOwner      crypto.Address
	NewCollateral *big.Int
}

// ExchangeReceipt reports the amount paid out by a mint or redeem exchange.
// Refund carries the unconverted remainder of a mint payment that was
// clamped against the supply cap; it is nil or zero otherwise.
type ExchangeReceipt struct {
	Amount *big.Int
	Refund *big.Int
}
