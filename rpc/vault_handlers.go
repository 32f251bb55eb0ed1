package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pegvault/crypto"
	"pegvault/native/vault"
)

// bounceErrors are the domain rejections a caller can trigger. Anything else
// coming out of the engine is an internal failure.
var bounceErrors = []error{
	vault.ErrAlreadyDefined,
	vault.ErrAssetNotDefined,
	vault.ErrNoPriceAvailable,
	vault.ErrBelowMinimum,
	vault.ErrSupplyCapExceeded,
	vault.ErrNotFound,
	vault.ErrNotOwner,
	vault.ErrAlreadyRepaid,
	vault.ErrInsufficientPayment,
	vault.ErrInsufficientBalance,
	vault.ErrAuctionActive,
	vault.ErrAuctionExpired,
	vault.ErrStillRunning,
	vault.ErrOpeningBidTooLow,
	vault.ErrOutbidTooLow,
	vault.ErrSufficientlyCollateralized,
	vault.ErrTooEarly,
	vault.ErrAlreadyRecorded,
	vault.ErrExpired,
}

func bounceReason(err error) (string, bool) {
	for _, sentinel := range bounceErrors {
		if errors.Is(err, sentinel) {
			return strings.TrimPrefix(sentinel.Error(), "vault engine: "), true
		}
	}
	return "", false
}

// writeEngineError renders the engine failure and returns the bounce reason
// for metrics, empty when the failure was internal.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, op string, err error) string {
	if reason, ok := bounceReason(err); ok {
		s.log.Info("trigger bounced", "op", op, "reason", reason)
		writeError(w, http.StatusOK, id, codeBounce, reason, nil)
		return reason
	}
	s.log.Error("trigger failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", nil)
	return ""
}

func (s *Server) parseParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected exactly one params object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return false
	}
	return true
}

func (s *Server) parseCaller(w http.ResponseWriter, req *RPCRequest, raw string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) parseAmount(w http.ResponseWriter, req *RPCRequest, field, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("%s must be a positive integer", field), nil)
		return nil, false
	}
	return amount, true
}

// deliverPayment credits the reserve payment attached to a trigger into the
// caller's internal account before the engine runs. Pegged payments need no
// delivery step since pegged tokens only exist inside the ledger. A bounced
// trigger gets the delivery reversed via reversePayment so the caller keeps
// the funds.
func (s *Server) deliverPayment(w http.ResponseWriter, req *RPCRequest, caller crypto.Address, amount *big.Int) bool {
	if err := s.creditReserve(caller, amount); err != nil {
		s.log.Error("failed to deliver payment", "op", req.Method, "error", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return false
	}
	return true
}

func (s *Server) reversePayment(op string, caller crypto.Address, amount *big.Int) {
	if err := s.debitReserve(caller, amount); err != nil {
		s.log.Error("failed to reverse payment", "op", op, "error", err)
	}
}

func (s *Server) creditReserve(addr crypto.Address, amount *big.Int) error {
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.BalanceReserve = new(big.Int).Add(acc.BalanceReserve, amount)
	return s.state.PutAccount(addr, acc)
}

func (s *Server) debitReserve(addr crypto.Address, amount *big.Int) error {
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		return err
	}
	diff := new(big.Int).Sub(acc.BalanceReserve, amount)
	if diff.Sign() < 0 {
		diff.SetInt64(0)
	}
	acc.BalanceReserve = diff
	return s.state.PutAccount(addr, acc)
}

type defineParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

func (s *Server) handleDefine(w http.ResponseWriter, req *RPCRequest) string {
	var params defineParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	asset, err := s.engine.Define(caller, params.Asset)
	if err != nil {
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{"asset": asset})
	return ""
}

type issueParams struct {
	Caller     string `json:"caller"`
	ID         string `json:"id"`
	Collateral string `json:"collateral"`
}

func (s *Server) handleIssue(w http.ResponseWriter, req *RPCRequest) string {
	var params issueParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	collateral, ok := s.parseAmount(w, req, "collateral", params.Collateral)
	if !ok {
		return ""
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if !s.deliverPayment(w, req, caller, collateral) {
		return ""
	}
	receipt, err := s.engine.Issue(caller, id, collateral)
	if err != nil {
		s.reversePayment(req.Method, caller, collateral)
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{
		"id":     receipt.ID,
		"amount": receipt.Amount.String(),
	})
	return ""
}

type loanAmountParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, req *RPCRequest) string {
	var params loanAmountParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	amount, ok := s.parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return ""
	}
	if !s.deliverPayment(w, req, caller, amount) {
		return ""
	}
	total, err := s.engine.AddCollateral(caller, params.ID, amount)
	if err != nil {
		s.reversePayment(req.Method, caller, amount)
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{"collateral": total.String()})
	return ""
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) string {
	var params loanAmountParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	amount, ok := s.parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return ""
	}
	receipt, err := s.engine.Repay(caller, params.ID, amount)
	if err != nil {
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{
		"collateral": receipt.Collateral.String(),
		"refund":     receipt.Refund.String(),
	})
	return ""
}

type exchangeParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, req *RPCRequest) string {
	var params exchangeParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	amount, ok := s.parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return ""
	}
	if !s.deliverPayment(w, req, caller, amount) {
		return ""
	}
	receipt, err := s.engine.Mint(caller, amount)
	if err != nil {
		s.reversePayment(req.Method, caller, amount)
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	result := map[string]string{"amount": receipt.Amount.String()}
	if receipt.Refund != nil && receipt.Refund.Sign() > 0 {
		result["refund"] = receipt.Refund.String()
	}
	writeResult(w, req.ID, result)
	return ""
}

func (s *Server) handleRedeem(w http.ResponseWriter, req *RPCRequest) string {
	var params exchangeParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	amount, ok := s.parseAmount(w, req, "amount", params.Amount)
	if !ok {
		return ""
	}
	receipt, err := s.engine.Redeem(caller, amount)
	if err != nil {
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": receipt.Amount.String()})
	return ""
}

type seizeParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Bid    string `json:"bid"`
}

func (s *Server) handleSeize(w http.ResponseWriter, req *RPCRequest) string {
	var params seizeParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	bid, ok := s.parseAmount(w, req, "bid", params.Bid)
	if !ok {
		return ""
	}
	if !s.deliverPayment(w, req, caller, bid) {
		return ""
	}
	receipt, err := s.engine.Seize(caller, params.ID, bid)
	if err != nil {
		s.reversePayment(req.Method, caller, bid)
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	result := map[string]interface{}{
		"new_bid":        receipt.NewBid.String(),
		"auction_end_ts": receipt.AuctionEndTS,
	}
	if receipt.PreviousWinner {
		result["refunded_bidder"] = receipt.RefundedBidder.String()
		result["refunded_amount"] = receipt.RefundedAmount.String()
	}
	writeResult(w, req.ID, result)
	return ""
}

type endAuctionParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
}

func (s *Server) handleEndAuction(w http.ResponseWriter, req *RPCRequest) string {
	var params endAuctionParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	receipt, err := s.engine.EndAuction(caller, params.ID)
	if err != nil {
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{
		"new_owner":      receipt.NewOwner.String(),
		"new_collateral": receipt.NewCollateral.String(),
	})
	return ""
}

type recordExpiryParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleRecordExpiry(w http.ResponseWriter, req *RPCRequest) string {
	var params recordExpiryParams
	if !s.parseParams(w, req, &params) {
		return ""
	}
	caller, ok := s.parseCaller(w, req, params.Caller)
	if !ok {
		return ""
	}
	rate, err := s.engine.RecordExpiry(caller)
	if err != nil {
		return s.writeEngineError(w, req.ID, req.Method, err)
	}
	writeResult(w, req.ID, map[string]string{"expiry_exchange_rate": rate.RatString()})
	return ""
}

type positionParams struct {
	ID string `json:"id"`
}

// PositionResult mirrors the flat state vars a loan occupies.
type PositionResult struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Collateral   string `json:"collateral"`
	Amount       string `json:"amount"`
	Repaid       bool   `json:"repaid"`
	Winner       string `json:"winner,omitempty"`
	WinnerBid    string `json:"winner_bid,omitempty"`
	AuctionEndTS int64  `json:"auction_end_ts,omitempty"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var params positionParams
	if !s.parseParams(w, req, &params) {
		return
	}
	pos, exists, err := s.state.GetPosition(params.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	if !exists {
		writeError(w, http.StatusOK, req.ID, codeBounce, "no such loan", nil)
		return
	}
	result := PositionResult{
		ID:         pos.ID,
		Owner:      pos.Owner.String(),
		Collateral: pos.Collateral.String(),
		Amount:     pos.Principal.String(),
		Repaid:     pos.Repaid,
	}
	if pos.Auction != nil {
		result.Winner = pos.Auction.Winner.String()
		result.WinnerBid = pos.Auction.WinnerBid.String()
		result.AuctionEndTS = pos.Auction.EndTS
	}
	writeResult(w, req.ID, result)
}

// StateResult summarises the public vault vars.
type StateResult struct {
	Asset              string `json:"asset,omitempty"`
	CirculatingSupply  string `json:"circulating_supply"`
	ExpiryExchangeRate string `json:"expiry_exchange_rate,omitempty"`
	ExpiryDate         int64  `json:"expiry_date"`
}

func (s *Server) handleGetState(w http.ResponseWriter, req *RPCRequest) {
	asset, _, err := s.state.AssetID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	supply, err := s.state.CirculatingSupply()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	result := StateResult{
		Asset:             asset,
		CirculatingSupply: supply.String(),
		ExpiryDate:        s.engine.Params().ExpiryDate,
	}
	if rate, frozen, err := s.state.FrozenRate(); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	} else if frozen {
		result.ExpiryExchangeRate = rate.RatString()
	}
	writeResult(w, req.ID, result)
}

type balanceParams struct {
	Address string `json:"address"`
}

// BalanceResult reports the internal ledger balances for an address.
type BalanceResult struct {
	Address        string `json:"address"`
	BalanceReserve string `json:"balanceReserve"`
	BalancePegged  string `json:"balancePegged"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if !s.parseParams(w, req, &params) {
		return
	}
	addr, ok := s.parseCaller(w, req, params.Address)
	if !ok {
		return
	}
	acc, err := s.state.GetAccount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address:        addr.String(),
		BalanceReserve: acc.BalanceReserve.String(),
		BalancePegged:  acc.BalancePegged.String(),
	})
}
