package vault

import (
	"math/big"
	"strings"

	"pegvault/crypto"
)

// Seize opens or raises the liquidation auction for an undercollateralized
// loan. The opening bid must cover the shortfall that would restore the
// position to the liquidation ratio; later bids must improve on the standing
// winner by the configured minimum increment. The deadline is fixed at the
// opening bid and never extended.
func (e *Engine) Seize(caller crypto.Address, id string, bid *big.Int) (*BidReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if bid == nil || bid.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	pos, exists, err := e.state.GetPosition(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if pos.Repaid {
		return nil, ErrAlreadyRepaid
	}

	rate, err := e.solvencyPrice()
	if err != nil {
		return nil, err
	}
	if e.sufficientlyCollateralized(pos, rate) {
		return nil, ErrSufficientlyCollateralized
	}

	now := e.now()
	if pos.Auction == nil {
		required := subClamped(e.restoreTarget(pos.Principal, rate), pos.Collateral)
		if bid.Cmp(required) < 0 {
			return nil, ErrOpeningBidTooLow
		}
		if err := e.transferReserve(caller, e.moduleAddress, bid); err != nil {
			return nil, err
		}
		pos.Auction = &AuctionState{
			Winner:    caller,
			WinnerBid: new(big.Int).Set(bid),
			EndTS:     now + e.params.AuctionPeriod,
		}
		if err := e.state.PutPosition(pos); err != nil {
			return nil, err
		}
		e.emit(auctionOpenedEvent{ID: pos.ID, Bidder: caller, Bid: bid, EndTS: pos.Auction.EndTS})
		return &BidReceipt{NewBid: new(big.Int).Set(bid), AuctionEndTS: pos.Auction.EndTS}, nil
	}

	if now >= pos.Auction.EndTS {
		return nil, ErrAuctionExpired
	}
	minimum := minNextBid(pos.Auction.WinnerBid, e.params.MinBidIncrementBps)
	if bid.Cmp(minimum) < 0 {
		return nil, ErrOutbidTooLow
	}

	displaced := pos.Auction.Winner
	refund := subClamped(pos.Auction.WinnerBid, e.params.FixedFee)
	if err := e.transferReserve(caller, e.moduleAddress, bid); err != nil {
		return nil, err
	}
	if err := e.transferReserve(e.moduleAddress, displaced, refund); err != nil {
		return nil, err
	}

	pos.Auction.Winner = caller
	pos.Auction.WinnerBid = new(big.Int).Set(bid)
	// EndTS deliberately untouched: no auction-sniping extension.
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	e.emit(auctionOutbidEvent{
		ID:        pos.ID,
		Bidder:    caller,
		Bid:       bid,
		Displaced: displaced,
		Refund:    refund,
	})
	return &BidReceipt{
		NewBid:         new(big.Int).Set(bid),
		AuctionEndTS:   pos.Auction.EndTS,
		RefundedBidder: displaced,
		RefundedAmount: refund,
		PreviousWinner: true,
	}, nil
}

// EndAuction settles an expired auction: ownership transfers to the standing
// winner and the winning bid becomes the loan's new collateral, fully
// replacing the old backing. Any party may settle.
func (e *Engine) EndAuction(caller crypto.Address, id string) (*SettleReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, exists, err := e.state.GetPosition(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if pos.Auction == nil {
		return nil, ErrStillRunning
	}
	if e.now() < pos.Auction.EndTS {
		return nil, ErrStillRunning
	}

	winner := pos.Auction.Winner
	newCollateral := new(big.Int).Set(pos.Auction.WinnerBid)
	// The displaced collateral stays with the vault's general accounting; the
	// escrowed winning bid is already held there and becomes the backing.
	pos.Owner = winner
	pos.Collateral = newCollateral
	pos.Auction = nil
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	e.emit(auctionSettledEvent{ID: pos.ID, Caller: caller, NewOwner: winner, NewCollateral: newCollateral})
	return &SettleReceipt{NewOwner: winner, NewCollateral: new(big.Int).Set(newCollateral)}, nil
}
