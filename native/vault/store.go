package vault

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"pegvault/core/types"
	"pegvault/crypto"
	"pegvault/storage"
)

var (
	errAssetAlreadySet  = errors.New("vault state: asset already set")
	errRateAlreadySet   = errors.New("vault state: expiry exchange rate already set")
	errPositionRequired = errors.New("vault state: position must not be nil")
)

// State is the typed accessor layer over the flat key-value mapping described
// by the external interface. Public vars keep their exact external names so
// off-chain tooling can read the backing store directly; account balances are
// internal records stored under a separate prefix.
type State struct {
	db storage.Database
}

// NewState wraps the provided database.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

func (s *State) getString(key string) (string, bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

func (s *State) putString(key, value string) error {
	return s.db.Put([]byte(key), []byte(value))
}

func (s *State) deleteKey(key string) error {
	return s.db.Delete([]byte(key))
}

// Raw exposes a public state var to external tooling.
func (s *State) Raw(key string) (string, bool, error) {
	return s.getString(key)
}

// AssetID returns the pegged asset identifier if the asset has been defined.
func (s *State) AssetID() (string, bool, error) {
	return s.getString(keyAsset)
}

// SetAssetID records the asset identifier. The field is one-shot.
func (s *State) SetAssetID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("vault state: asset id required")
	}
	if _, ok, err := s.getString(keyAsset); err != nil {
		return err
	} else if ok {
		return errAssetAlreadySet
	}
	return s.putString(keyAsset, trimmed)
}

// CirculatingSupply returns the tracked pegged supply, zero when unset.
func (s *State) CirculatingSupply() (*big.Int, error) {
	raw, ok, err := s.getString(keyCirculatingSupply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	supply, parsed := new(big.Int).SetString(raw, 10)
	if !parsed {
		return nil, fmt.Errorf("vault state: corrupt circulating supply %q", raw)
	}
	return supply, nil
}

// SetCirculatingSupply overwrites the tracked pegged supply.
func (s *State) SetCirculatingSupply(supply *big.Int) error {
	if supply == nil || supply.Sign() < 0 {
		return fmt.Errorf("vault state: circulating supply must be non-negative")
	}
	return s.putString(keyCirculatingSupply, supply.String())
}

// FrozenRate returns the recorded expiry exchange rate if present.
func (s *State) FrozenRate() (*big.Rat, bool, error) {
	raw, ok, err := s.getString(keyExpiryRate)
	if err != nil || !ok {
		return nil, false, err
	}
	rate, parsed := new(big.Rat).SetString(raw)
	if !parsed || rate.Sign() <= 0 {
		return nil, false, fmt.Errorf("vault state: corrupt expiry exchange rate %q", raw)
	}
	return rate, true, nil
}

// SetFrozenRate records the expiry exchange rate. The field is one-shot.
func (s *State) SetFrozenRate(rate *big.Rat) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("vault state: expiry exchange rate must be positive")
	}
	if _, ok, err := s.FrozenRate(); err != nil {
		return err
	} else if ok {
		return errRateAlreadySet
	}
	return s.putString(keyExpiryRate, rate.RatString())
}

// GetPosition loads the position identified by id. The second return reports
// whether the position exists.
func (s *State) GetPosition(id string) (*Position, bool, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, false, nil
	}
	ownerRaw, ok, err := s.getString(positionKey(trimmed, suffixOwner))
	if err != nil || !ok {
		return nil, false, err
	}
	owner, err := crypto.DecodeAddress(ownerRaw)
	if err != nil {
		return nil, false, fmt.Errorf("vault state: corrupt owner for %s: %w", trimmed, err)
	}
	collateral, err := s.requireAmount(positionKey(trimmed, suffixCollateral))
	if err != nil {
		return nil, false, err
	}
	principal, err := s.requireAmount(positionKey(trimmed, suffixAmount))
	if err != nil {
		return nil, false, err
	}
	pos := &Position{
		ID:         trimmed,
		Owner:      owner,
		Collateral: collateral,
		Principal:  principal,
	}
	if raw, ok, err := s.getString(positionKey(trimmed, suffixRepaid)); err != nil {
		return nil, false, err
	} else if ok && raw == "1" {
		pos.Repaid = true
		return pos, true, nil
	}
	winnerRaw, hasWinner, err := s.getString(positionKey(trimmed, suffixWinner))
	if err != nil {
		return nil, false, err
	}
	if hasWinner {
		winner, err := crypto.DecodeAddress(winnerRaw)
		if err != nil {
			return nil, false, fmt.Errorf("vault state: corrupt winner for %s: %w", trimmed, err)
		}
		bid, err := s.requireAmount(positionKey(trimmed, suffixWinnerBid))
		if err != nil {
			return nil, false, err
		}
		endRaw, ok, err := s.getString(positionKey(trimmed, suffixAuctionEndTS))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fmt.Errorf("vault state: auction end missing for %s", trimmed)
		}
		endTS, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("vault state: corrupt auction end for %s: %w", trimmed, err)
		}
		pos.Auction = &AuctionState{Winner: winner, WinnerBid: bid, EndTS: endTS}
	}
	return pos, true, nil
}

// PutPosition persists the position, clearing auction vars when no auction is
// active.
func (s *State) PutPosition(pos *Position) error {
	if pos == nil {
		return errPositionRequired
	}
	id := strings.TrimSpace(pos.ID)
	if id == "" {
		return fmt.Errorf("vault state: position id required")
	}
	if pos.Collateral == nil || pos.Principal == nil {
		return fmt.Errorf("vault state: position amounts required")
	}
	if err := s.putString(positionKey(id, suffixOwner), pos.Owner.String()); err != nil {
		return err
	}
	if err := s.putString(positionKey(id, suffixCollateral), pos.Collateral.String()); err != nil {
		return err
	}
	if err := s.putString(positionKey(id, suffixAmount), pos.Principal.String()); err != nil {
		return err
	}
	if pos.Repaid {
		if err := s.putString(positionKey(id, suffixRepaid), "1"); err != nil {
			return err
		}
	}
	if pos.Auction != nil {
		if err := s.putString(positionKey(id, suffixWinner), pos.Auction.Winner.String()); err != nil {
			return err
		}
		if err := s.putString(positionKey(id, suffixWinnerBid), pos.Auction.WinnerBid.String()); err != nil {
			return err
		}
		return s.putString(positionKey(id, suffixAuctionEndTS), strconv.FormatInt(pos.Auction.EndTS, 10))
	}
	for _, suffix := range []string{suffixWinner, suffixWinnerBid, suffixAuctionEndTS} {
		if err := s.deleteKey(positionKey(id, suffix)); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) requireAmount(key string) (*big.Int, error) {
	raw, ok, err := s.getString(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("vault state: missing amount for %s", key)
	}
	amount, parsed := new(big.Int).SetString(raw, 10)
	if !parsed || amount.Sign() < 0 {
		return nil, fmt.Errorf("vault state: corrupt amount %q for %s", raw, key)
	}
	return amount, nil
}

type storedAccount struct {
	BalanceReserve string
	BalancePegged  string
}

// GetAccount loads the balance record for the address, returning a zeroed
// account when none exists.
func (s *State) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr.String()))
	if errors.Is(err, storage.ErrNotFound) {
		acc := &types.Account{}
		acc.Normalize()
		return acc, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("vault state: decode account %s: %w", addr, err)
	}
	acc := &types.Account{}
	if acc.BalanceReserve, err = parseStoredAmount(stored.BalanceReserve); err != nil {
		return nil, fmt.Errorf("vault state: account %s reserve: %w", addr, err)
	}
	if acc.BalancePegged, err = parseStoredAmount(stored.BalancePegged); err != nil {
		return nil, fmt.Errorf("vault state: account %s pegged: %w", addr, err)
	}
	return acc, nil
}

// PutAccount persists the balance record for the address.
func (s *State) PutAccount(addr crypto.Address, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("vault state: account must not be nil")
	}
	acc.Normalize()
	stored := storedAccount{
		BalanceReserve: acc.BalanceReserve.String(),
		BalancePegged:  acc.BalancePegged.String(),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return s.db.Put(accountKey(addr.String()), encoded)
}

func parseStoredAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("corrupt amount %q", raw)
	}
	return amount, nil
}
