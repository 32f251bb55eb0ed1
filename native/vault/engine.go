package vault

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"pegvault/core/events"
	"pegvault/core/types"
	"pegvault/crypto"
	"pegvault/native/oracle"
)

var (
	errNilState            = errors.New("vault engine: state not configured")
	errNilOracle           = errors.New("vault engine: price oracle not configured")
	errInvalidAmount       = errors.New("vault engine: amount must be positive")
	errInsufficientReserve = errors.New("vault engine: insufficient reserve liquidity")
	errDuplicateLoanID     = errors.New("vault engine: loan id already used")
)

// Domain failures surfaced to callers. The RPC boundary maps them onto the
// bounced-response error channel.
var (
	ErrAlreadyDefined             = errors.New("vault engine: asset already defined")
	ErrAssetNotDefined            = errors.New("vault engine: asset not yet defined")
	ErrNoPriceAvailable           = errors.New("vault engine: no price available for the feed")
	ErrBelowMinimum               = errors.New("vault engine: amount is too small to convert")
	ErrSupplyCapExceeded          = errors.New("vault engine: max loan value exceeded")
	ErrNotFound                   = errors.New("vault engine: no such loan")
	ErrNotOwner                   = errors.New("vault engine: you are not the owner")
	ErrAlreadyRepaid              = errors.New("vault engine: already repaid")
	ErrInsufficientPayment        = errors.New("vault engine: you sent less than the loan amount")
	ErrInsufficientBalance        = errors.New("vault engine: insufficient balance")
	ErrAuctionActive              = errors.New("vault engine: an auction is under way for this loan")
	ErrAuctionExpired             = errors.New("vault engine: auction already expired")
	ErrStillRunning               = errors.New("vault engine: auction still under way")
	ErrOpeningBidTooLow           = errors.New("vault engine: you sent less than the missing collateral")
	ErrOutbidTooLow               = errors.New("vault engine: your bid must be at least 1% better than the current winner")
	ErrSufficientlyCollateralized = errors.New("vault engine: the loan is sufficiently collateralized, you can't seize it")
	ErrTooEarly                   = errors.New("vault engine: expiry date not yet reached")
	ErrAlreadyRecorded            = errors.New("vault engine: expiry exchange rate already recorded")
	ErrExpired                    = errors.New("vault engine: contract expired, minting is closed")
)

type engineState interface {
	AssetID() (string, bool, error)
	SetAssetID(id string) error
	CirculatingSupply() (*big.Int, error)
	SetCirculatingSupply(supply *big.Int) error
	FrozenRate() (*big.Rat, bool, error)
	SetFrozenRate(rate *big.Rat) error
	GetPosition(id string) (*Position, bool, error)
	PutPosition(pos *Position) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, acc *types.Account) error
}

// Engine orchestrates the primary state transitions for the vault: loan
// issuance, collateral top-ups, repayment, oracle-priced exchange, expiry
// freezing and the seizure auction. Every operation reads its inputs once at
// entry and checks all preconditions before the first state write.
type Engine struct {
	state         engineState
	params        GlobalParams
	prices        oracle.PriceOracle
	emitter       events.Emitter
	moduleAddress crypto.Address
	nowFn         func() int64
}

// NewEngine constructs a vault engine bound to the module treasury address and
// immutable parameter set.
func NewEngine(moduleAddr crypto.Address, params GlobalParams) *Engine {
	params.Normalize()
	return &Engine{
		params:        params.Clone(),
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the engine to the price feed accessor.
func (e *Engine) SetOracle(prices oracle.PriceOracle) {
	if e == nil {
		return
	}
	e.prices = prices
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params returns a copy of the engine's immutable parameter set.
func (e *Engine) Params() GlobalParams {
	if e == nil {
		return GlobalParams{}
	}
	return e.params.Clone()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Define records the pegged asset identifier supplied by the encompassing
// ledger. A second call fails cleanly with no side effects.
func (e *Engine) Define(caller crypto.Address, assetID string) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" {
		return "", errInvalidAmount
	}
	if _, defined, err := e.state.AssetID(); err != nil {
		return "", err
	} else if defined {
		return "", ErrAlreadyDefined
	}
	if err := e.state.SetAssetID(trimmed); err != nil {
		return "", err
	}
	e.emit(definedEvent{Asset: trimmed, Caller: caller})
	return trimmed, nil
}

// Issue opens a loan: the attached reserve payment becomes collateral and the
// caller receives pegged tokens sized by the overcollateralization ratio at
// the effective price.
func (e *Engine) Issue(caller crypto.Address, loanID string, collateral *big.Int) (*IssueReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id := strings.TrimSpace(loanID)
	if id == "" {
		return nil, errInvalidAmount
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if _, defined, err := e.state.AssetID(); err != nil {
		return nil, err
	} else if !defined {
		return nil, ErrAssetNotDefined
	}
	if err := e.requireNotExpired(); err != nil {
		return nil, err
	}
	if _, exists, err := e.state.GetPosition(id); err != nil {
		return nil, err
	} else if exists {
		return nil, errDuplicateLoanID
	}

	rate, err := e.solvencyPrice()
	if err != nil {
		return nil, err
	}
	principal := e.principalForCollateral(collateral, rate)
	if principal.Sign() == 0 {
		return nil, ErrBelowMinimum
	}

	supply, err := e.state.CirculatingSupply()
	if err != nil {
		return nil, err
	}
	projected := new(big.Int).Add(supply, principal)
	if e.underlyingValueCeil(projected, rate).Cmp(e.params.MaxLoanUnderlying) > 0 {
		return nil, ErrSupplyCapExceeded
	}

	if err := e.transferReserve(caller, e.moduleAddress, collateral); err != nil {
		return nil, err
	}
	if err := e.mintPegged(caller, principal); err != nil {
		return nil, err
	}

	pos := &Position{
		ID:         id,
		Owner:      caller,
		Collateral: new(big.Int).Set(collateral),
		Principal:  principal,
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.SetCirculatingSupply(projected); err != nil {
		return nil, err
	}

	e.emit(issuedEvent{ID: id, Owner: caller, Collateral: pos.Collateral, Principal: principal})
	return &IssueReceipt{ID: id, Amount: principal}, nil
}

// AddCollateral tops up the backing of an existing loan. Blocked while an
// auction is active.
func (e *Engine) AddCollateral(caller crypto.Address, id string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	pos, exists, err := e.state.GetPosition(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !exists || pos.Repaid {
		return nil, ErrNotFound
	}
	if pos.Auction != nil {
		return nil, ErrAuctionActive
	}

	if err := e.transferReserve(caller, e.moduleAddress, amount); err != nil {
		return nil, err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}

	e.emit(collateralAddedEvent{ID: pos.ID, Caller: caller, Added: amount, Total: pos.Collateral})
	return new(big.Int).Set(pos.Collateral), nil
}

// Repay closes a loan: the principal is burned and the full collateral is
// released to the owner. Repayment is blocked once seizure has begun.
func (e *Engine) Repay(caller crypto.Address, id string, tendered *big.Int) (*RepayReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if tendered == nil || tendered.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	pos, exists, err := e.state.GetPosition(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if !pos.Owner.Equal(caller) {
		return nil, ErrNotOwner
	}
	if pos.Repaid {
		return nil, ErrAlreadyRepaid
	}
	if pos.Auction != nil {
		return nil, ErrAuctionActive
	}
	if tendered.Cmp(pos.Principal) < 0 {
		return nil, ErrInsufficientPayment
	}

	supply, err := e.state.CirculatingSupply()
	if err != nil {
		return nil, err
	}

	if err := e.burnPegged(caller, pos.Principal); err != nil {
		return nil, err
	}
	if err := e.transferReserve(e.moduleAddress, pos.Owner, pos.Collateral); err != nil {
		return nil, err
	}

	released := new(big.Int).Set(pos.Collateral)
	pos.Repaid = true
	pos.Auction = nil
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.SetCirculatingSupply(subClamped(supply, pos.Principal)); err != nil {
		return nil, err
	}

	refund := new(big.Int).Sub(tendered, pos.Principal)
	e.emit(repaidEvent{ID: pos.ID, Owner: pos.Owner, Collateral: released, Principal: pos.Principal})
	return &RepayReceipt{Collateral: released, Refund: refund}, nil
}

// Mint converts a bare reserve payment into pegged tokens at the spot price,
// minus the fixed processing fee, clamped to the remaining headroom under the
// supply cap.
func (e *Engine) Mint(caller crypto.Address, payment *big.Int) (*ExchangeReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if _, defined, err := e.state.AssetID(); err != nil {
		return nil, err
	} else if !defined {
		return nil, ErrAssetNotDefined
	}
	if err := e.requireNotExpired(); err != nil {
		return nil, err
	}

	rate, err := e.spotPrice()
	if err != nil {
		return nil, err
	}
	net := subClamped(payment, e.params.FixedFee)
	out := e.peggedFromReserve(net, rate)
	if out.Sign() == 0 {
		return nil, ErrBelowMinimum
	}

	supply, err := e.state.CirculatingSupply()
	if err != nil {
		return nil, err
	}
	headroom := subClamped(e.maxSupplyAt(rate), supply)
	if headroom.Sign() == 0 {
		return nil, ErrSupplyCapExceeded
	}
	refund := big.NewInt(0)
	if out.Cmp(headroom) > 0 {
		out = headroom
		// Only the portion of the payment actually converted is kept;
		// the unconverted remainder stays with the caller.
		cost := e.underlyingValueCeil(out, rate)
		refund = subClamped(net, cost)
	}

	charge := subClamped(payment, refund)
	if err := e.transferReserve(caller, e.moduleAddress, charge); err != nil {
		return nil, err
	}
	if err := e.mintPegged(caller, out); err != nil {
		return nil, err
	}
	if err := e.state.SetCirculatingSupply(new(big.Int).Add(supply, out)); err != nil {
		return nil, err
	}

	e.emit(mintedEvent{Caller: caller, Paid: charge, Minted: out, Refund: refund})
	return &ExchangeReceipt{Amount: out, Refund: refund}, nil
}

// Redeem converts a bare pegged payment back into reserve asset at the spot
// price, decreasing the circulating supply.
func (e *Engine) Redeem(caller crypto.Address, pegged *big.Int) (*ExchangeReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if pegged == nil || pegged.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if _, frozen, err := e.state.FrozenRate(); err != nil {
		return nil, err
	} else if frozen {
		return nil, ErrExpired
	}

	rate, err := e.spotPrice()
	if err != nil {
		return nil, err
	}
	out := e.reserveFromPegged(pegged, rate)
	if out.Sign() == 0 {
		return nil, ErrBelowMinimum
	}

	supply, err := e.state.CirculatingSupply()
	if err != nil {
		return nil, err
	}

	if err := e.burnPegged(caller, pegged); err != nil {
		return nil, err
	}
	if err := e.transferReserve(e.moduleAddress, caller, out); err != nil {
		return nil, err
	}
	if err := e.state.SetCirculatingSupply(subClamped(supply, pegged)); err != nil {
		return nil, err
	}

	e.emit(redeemedEvent{Caller: caller, Burned: pegged, Paid: out})
	return &ExchangeReceipt{Amount: out}, nil
}

// RecordExpiry freezes the moving-average price as the terminal exchange rate.
// One-shot, permitted only at or after the expiry date.
func (e *Engine) RecordExpiry(caller crypto.Address) (*big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.now() < e.params.ExpiryDate {
		return nil, ErrTooEarly
	}
	if _, frozen, err := e.state.FrozenRate(); err != nil {
		return nil, err
	} else if frozen {
		return nil, ErrAlreadyRecorded
	}
	quote, err := e.movingAverageQuote()
	if err != nil {
		return nil, err
	}
	if err := e.state.SetFrozenRate(quote); err != nil {
		return nil, err
	}
	e.emit(expiredEvent{Caller: caller, Rate: quote})
	return new(big.Rat).Set(quote), nil
}

// --- pricing -----------------------------------------------------------------

// solvencyPrice returns the rate authoritative for collateral-ratio and
// auction math: the frozen expiry rate once recorded, the moving-average feed
// before that.
func (e *Engine) solvencyPrice() (*big.Rat, error) {
	if rate, frozen, err := e.state.FrozenRate(); err != nil {
		return nil, err
	} else if frozen {
		return rate, nil
	}
	return e.movingAverageQuote()
}

// spotPrice returns the rate used for mint/redeem exchange. Expiry is checked
// by the callers before this point, so the live spot feed is always
// authoritative here.
func (e *Engine) spotPrice() (*big.Rat, error) {
	return e.feedQuote(e.params.FeedName)
}

func (e *Engine) movingAverageQuote() (*big.Rat, error) {
	return e.feedQuote(e.params.MAFeedName)
}

func (e *Engine) feedQuote(feed string) (*big.Rat, error) {
	if e.prices == nil {
		return nil, errNilOracle
	}
	quote, err := e.prices.GetRate(feed)
	if err != nil {
		if errors.Is(err, oracle.ErrNoPrice) {
			return nil, ErrNoPriceAvailable
		}
		return nil, err
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, ErrNoPriceAvailable
	}
	return quote.Rate, nil
}

func (e *Engine) requireNotExpired() error {
	if e.now() >= e.params.ExpiryDate {
		return ErrExpired
	}
	_, frozen, err := e.state.FrozenRate()
	if err != nil {
		return err
	}
	if frozen {
		return ErrExpired
	}
	return nil
}

// --- arithmetic --------------------------------------------------------------

func (e *Engine) pegScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(e.params.Decimals)), nil)
}

func (e *Engine) reserveUnit() *big.Int {
	return new(big.Int).SetUint64(e.params.ReserveUnit)
}

// principalForCollateral computes the pegged principal issued for a collateral
// deposit: floor(collateral x rate x 10^dec x 10^4 / (reserveUnit x openBps)).
func (e *Engine) principalForCollateral(collateral *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(collateral, rate.Num())
	num.Mul(num, e.pegScale())
	num.Mul(num, basisPoints)
	den := new(big.Int).Mul(rate.Denom(), e.reserveUnit())
	den.Mul(den, new(big.Int).SetUint64(e.params.OpenRatioBps))
	return floorDiv(num, den)
}

// underlyingValueCeil values a pegged amount in reserve base units, rounding
// up since the result bounds what the vault must be able to cover.
func (e *Engine) underlyingValueCeil(pegged *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(pegged, e.reserveUnit())
	num.Mul(num, rate.Denom())
	den := new(big.Int).Mul(e.pegScale(), rate.Num())
	return ceilDiv(num, den)
}

// restoreTarget is the collateral that would back the principal at exactly the
// liquidation ratio, rounded up since the vault must receive it.
func (e *Engine) restoreTarget(principal *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(principal, new(big.Int).SetUint64(e.params.LiquidationRatioBps))
	num.Mul(num, e.reserveUnit())
	num.Mul(num, rate.Denom())
	den := new(big.Int).Mul(e.pegScale(), rate.Num())
	den.Mul(den, basisPoints)
	return ceilDiv(num, den)
}

// sufficientlyCollateralized reports whether the position's collateral ratio
// is at or above the liquidation threshold at the given rate. Pure integer
// cross-multiplication, no rounding.
func (e *Engine) sufficientlyCollateralized(pos *Position, rate *big.Rat) bool {
	if pos.Principal == nil || pos.Principal.Sign() == 0 {
		return true
	}
	if pos.Collateral == nil || pos.Collateral.Sign() == 0 {
		return false
	}
	left := new(big.Int).Mul(pos.Collateral, rate.Num())
	left.Mul(left, e.pegScale())
	left.Mul(left, basisPoints)
	right := new(big.Int).Mul(pos.Principal, new(big.Int).SetUint64(e.params.LiquidationRatioBps))
	right.Mul(right, e.reserveUnit())
	right.Mul(right, rate.Denom())
	return left.Cmp(right) >= 0
}

// peggedFromReserve converts a reserve amount into pegged units at the given
// rate, rounding down.
func (e *Engine) peggedFromReserve(amount *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(amount, rate.Num())
	num.Mul(num, e.pegScale())
	den := new(big.Int).Mul(rate.Denom(), e.reserveUnit())
	return floorDiv(num, den)
}

// reserveFromPegged converts a pegged amount into reserve base units at the
// given rate, rounding down.
func (e *Engine) reserveFromPegged(pegged *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(pegged, e.reserveUnit())
	num.Mul(num, rate.Denom())
	den := new(big.Int).Mul(e.pegScale(), rate.Num())
	return floorDiv(num, den)
}

// maxSupplyAt is the largest circulating supply whose underlying value stays
// within the configured cap at the given rate.
func (e *Engine) maxSupplyAt(rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(e.params.MaxLoanUnderlying, e.pegScale())
	num.Mul(num, rate.Num())
	den := new(big.Int).Mul(e.reserveUnit(), rate.Denom())
	return floorDiv(num, den)
}

// --- balances ----------------------------------------------------------------

func (e *Engine) transferReserve(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceReserve.Cmp(amount) < 0 {
		if from.Equal(e.moduleAddress) {
			return errInsufficientReserve
		}
		return ErrInsufficientBalance
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceReserve = new(big.Int).Sub(fromAcc.BalanceReserve, amount)
	toAcc.BalanceReserve = new(big.Int).Add(toAcc.BalanceReserve, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) mintPegged(to crypto.Address, amount *big.Int) error {
	acc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	acc.BalancePegged = new(big.Int).Add(acc.BalancePegged, amount)
	return e.state.PutAccount(to, acc)
}

func (e *Engine) burnPegged(from crypto.Address, amount *big.Int) error {
	acc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	if acc.BalancePegged.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	acc.BalancePegged = new(big.Int).Sub(acc.BalancePegged, amount)
	return e.state.PutAccount(from, acc)
}
