package vault

import "strings"

// Public state vars use the flat naming read by external tooling. Absence of a
// key means "not set / not applicable".
const (
	keyAsset             = "asset"
	keyCirculatingSupply = "circulating_supply"
	keyExpiryRate        = "expiry_exchange_rate"

	suffixOwner        = "_owner"
	suffixCollateral   = "_collateral"
	suffixAmount       = "_amount"
	suffixRepaid       = "_repaid"
	suffixWinner       = "_winner"
	suffixWinnerBid    = "_winner_bid"
	suffixAuctionEndTS = "_auction_end_ts"
)

// Internal records are namespaced away from the public vars.
const acctPrefix = "acct/"

func positionKey(id, suffix string) string {
	return strings.TrimSpace(id) + suffix
}

func accountKey(addr string) []byte {
	buf := make([]byte, len(acctPrefix)+len(addr))
	copy(buf, acctPrefix)
	copy(buf[len(acctPrefix):], addr)
	return buf
}
