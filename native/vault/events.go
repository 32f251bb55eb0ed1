package vault

import (
	"math/big"
	"strconv"

	"pegvault/core/types"
	"pegvault/crypto"
)

const (
	EventTypeDefined         = "vault.defined"
	EventTypeIssued          = "loan.issued"
	EventTypeCollateralAdded = "loan.collateral_added"
	EventTypeRepaid          = "loan.repaid"
	EventTypeMinted          = "peg.minted"
	EventTypeRedeemed        = "peg.redeemed"
	EventTypeAuctionOpened   = "auction.opened"
	EventTypeAuctionOutbid   = "auction.outbid"
	EventTypeAuctionSettled  = "auction.settled"
	EventTypeExpired         = "vault.expired"
)

type definedEvent struct {
	Asset  string
	Caller crypto.Address
}

func (definedEvent) EventType() string { return EventTypeDefined }

func (e definedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeDefined,
		Attributes: map[string]string{
			"asset":  e.Asset,
			"caller": e.Caller.String(),
		},
	}
}

type issuedEvent struct {
	ID         string
	Owner      crypto.Address
	Collateral *big.Int
	Principal  *big.Int
}

func (issuedEvent) EventType() string { return EventTypeIssued }

func (e issuedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeIssued,
		Attributes: map[string]string{
			"id":         e.ID,
			"owner":      e.Owner.String(),
			"collateral": formatAmount(e.Collateral),
			"amount":     formatAmount(e.Principal),
		},
	}
}

type collateralAddedEvent struct {
	ID     string
	Caller crypto.Address
	Added  *big.Int
	Total  *big.Int
}

func (collateralAddedEvent) EventType() string { return EventTypeCollateralAdded }

func (e collateralAddedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeCollateralAdded,
		Attributes: map[string]string{
			"id":     e.ID,
			"caller": e.Caller.String(),
			"added":  formatAmount(e.Added),
			"total":  formatAmount(e.Total),
		},
	}
}

type repaidEvent struct {
	ID         string
	Owner      crypto.Address
	Collateral *big.Int
	Principal  *big.Int
}

func (repaidEvent) EventType() string { return EventTypeRepaid }

func (e repaidEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRepaid,
		Attributes: map[string]string{
			"id":         e.ID,
			"owner":      e.Owner.String(),
			"collateral": formatAmount(e.Collateral),
			"amount":     formatAmount(e.Principal),
		},
	}
}

type mintedEvent struct {
	Caller crypto.Address
	Paid   *big.Int
	Minted *big.Int
	Refund *big.Int
}

func (mintedEvent) EventType() string { return EventTypeMinted }

func (e mintedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"caller": e.Caller.String(),
			"paid":   formatAmount(e.Paid),
			"minted": formatAmount(e.Minted),
			"refund": formatAmount(e.Refund),
		},
	}
}

type redeemedEvent struct {
	Caller crypto.Address
	Burned *big.Int
	Paid   *big.Int
}

func (redeemedEvent) EventType() string { return EventTypeRedeemed }

func (e redeemedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeRedeemed,
		Attributes: map[string]string{
			"caller": e.Caller.String(),
			"burned": formatAmount(e.Burned),
			"paid":   formatAmount(e.Paid),
		},
	}
}

type auctionOpenedEvent struct {
	ID     string
	Bidder crypto.Address
	Bid    *big.Int
	EndTS  int64
}

func (auctionOpenedEvent) EventType() string { return EventTypeAuctionOpened }

func (e auctionOpenedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionOpened,
		Attributes: map[string]string{
			"id":           e.ID,
			"bidder":       e.Bidder.String(),
			"bid":          formatAmount(e.Bid),
			"auctionEndTs": strconv.FormatInt(e.EndTS, 10),
		},
	}
}

type auctionOutbidEvent struct {
	ID        string
	Bidder    crypto.Address
	Bid       *big.Int
	Displaced crypto.Address
	Refund    *big.Int
}

func (auctionOutbidEvent) EventType() string { return EventTypeAuctionOutbid }

func (e auctionOutbidEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionOutbid,
		Attributes: map[string]string{
			"id":        e.ID,
			"bidder":    e.Bidder.String(),
			"bid":       formatAmount(e.Bid),
			"displaced": e.Displaced.String(),
			"refund":    formatAmount(e.Refund),
		},
	}
}

type auctionSettledEvent struct {
	ID            string
	Caller        crypto.Address
	NewOwner      crypto.Address
	NewCollateral *big.Int
}

func (auctionSettledEvent) EventType() string { return EventTypeAuctionSettled }

func (e auctionSettledEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeAuctionSettled,
		Attributes: map[string]string{
			"id":            e.ID,
			"caller":        e.Caller.String(),
			"newOwner":      e.NewOwner.String(),
			"newCollateral": formatAmount(e.NewCollateral),
		},
	}
}

type expiredEvent struct {
	Caller crypto.Address
	Rate   *big.Rat
}

func (expiredEvent) EventType() string { return EventTypeExpired }

func (e expiredEvent) Event() *types.Event {
	rate := ""
	if e.Rate != nil {
		rate = e.Rate.RatString()
	}
	return &types.Event{
		Type: EventTypeExpired,
		Attributes: map[string]string{
			"caller":             e.Caller.String(),
			"expiryExchangeRate": rate,
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
