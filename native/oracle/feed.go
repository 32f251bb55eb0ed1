package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// FeedStore is an in-process price store fed by the external oracle publisher.
// Each named feed holds only its latest observation; a feed that has never
// published reports ErrNoPrice.
type FeedStore struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	source string
	nowFn  func() time.Time
}

// NewFeedStore constructs an empty store attributed to the given source
// identifier.
func NewFeedStore(source string) *FeedStore {
	return &FeedStore{
		quotes: make(map[string]PriceQuote),
		source: strings.TrimSpace(source),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the timestamp source used when publishers omit one.
func (s *FeedStore) SetNowFunc(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = now
	s.mu.Unlock()
}

// Publish records the latest value for the named feed. A zero timestamp is
// replaced with the store's clock reading.
func (s *FeedStore) Publish(feed string, rate *big.Rat, at time.Time) error {
	if s == nil {
		return fmt.Errorf("feed store not initialised")
	}
	name := strings.TrimSpace(feed)
	if name == "" {
		return fmt.Errorf("oracle: feed name required")
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("oracle: rate must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.IsZero() {
		at = s.nowFn()
	}
	s.quotes[name] = PriceQuote{
		Rate:      new(big.Rat).Set(rate),
		Timestamp: at,
		Source:    s.source,
	}
	return nil
}

// GetRate returns the latest published quote for the named feed.
func (s *FeedStore) GetRate(feed string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, fmt.Errorf("feed store not initialised")
	}
	name := strings.TrimSpace(feed)
	s.mu.RLock()
	quote, ok := s.quotes[name]
	s.mu.RUnlock()
	if !ok {
		return PriceQuote{}, ErrNoPrice
	}
	return quote.Clone(), nil
}
