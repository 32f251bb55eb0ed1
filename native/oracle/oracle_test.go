package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

type staticOracle struct {
	quotes map[string]PriceQuote
	err    error
}

func (o *staticOracle) GetRate(feed string) (PriceQuote, error) {
	if o.err != nil {
		return PriceQuote{}, o.err
	}
	quote, ok := o.quotes[feed]
	if !ok {
		return PriceQuote{}, ErrNoPrice
	}
	return quote.Clone(), nil
}

func quoteAt(rate int64, at time.Time, source string) PriceQuote {
	return PriceQuote{Rate: new(big.Rat).SetInt64(rate), Timestamp: at, Source: source}
}

func TestAggregatorPriorityOrder(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	primary := &staticOracle{quotes: map[string]PriceQuote{
		"GBYTE_USD": quoteAt(20, now, "primary"),
	}}
	secondary := &staticOracle{quotes: map[string]PriceQuote{
		"GBYTE_USD": quoteAt(21, now, "secondary"),
	}}

	agg := NewAggregator([]string{"primary", "secondary"}, 0)
	agg.Register("primary", primary)
	agg.Register("secondary", secondary)

	quote, err := agg.GetRate("GBYTE_USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Source != "primary" {
		t.Fatalf("expected primary source, got %q", quote.Source)
	}
	if quote.Rate.Cmp(new(big.Rat).SetInt64(20)) != 0 {
		t.Fatalf("unexpected rate %s", quote.Rate.RatString())
	}
}

func TestAggregatorFallsBackOnError(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	broken := &staticOracle{err: errors.New("upstream unavailable")}
	backup := &staticOracle{quotes: map[string]PriceQuote{
		"GBYTE_USD": quoteAt(21, now, "backup"),
	}}

	agg := NewAggregator([]string{"broken", "backup"}, 0)
	agg.Register("broken", broken)
	agg.Register("backup", backup)

	quote, err := agg.GetRate("GBYTE_USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Source != "backup" {
		t.Fatalf("expected fallback to backup, got %q", quote.Source)
	}
}

func TestAggregatorRejectsStaleQuotes(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	stale := &staticOracle{quotes: map[string]PriceQuote{
		"GBYTE_USD": quoteAt(20, now.Add(-2*time.Hour), "stale"),
	}}

	agg := NewAggregator([]string{"stale"}, time.Hour)
	agg.Register("stale", stale)
	agg.SetNowFunc(func() time.Time { return now })

	if _, err := agg.GetRate("GBYTE_USD"); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote, got %v", err)
	}

	agg.SetMaxAge(3 * time.Hour)
	if _, err := agg.GetRate("GBYTE_USD"); err != nil {
		t.Fatalf("widened window must admit the quote: %v", err)
	}
}

func TestAggregatorNoOracles(t *testing.T) {
	agg := NewAggregator(nil, 0)
	if _, err := agg.GetRate("GBYTE_USD"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestFeedStorePublish(t *testing.T) {
	store := NewFeedStore("testfeed")
	now := time.Unix(1_800_000_000, 0)

	if _, err := store.GetRate("GBYTE_USD"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice before publish, got %v", err)
	}

	if err := store.Publish("GBYTE_USD", big.NewRat(37, 2), now); err != nil {
		t.Fatalf("publish: %v", err)
	}
	quote, err := store.GetRate("GBYTE_USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewRat(37, 2)) != 0 {
		t.Fatalf("unexpected rate %s", quote.Rate.RatString())
	}
	if quote.Source != "testfeed" || !quote.Timestamp.Equal(now) {
		t.Fatalf("quote metadata lost: %+v", quote)
	}

	// only the latest observation is retained
	if err := store.Publish("GBYTE_USD", big.NewRat(19, 1), now.Add(time.Minute)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	quote, err = store.GetRate("GBYTE_USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewRat(19, 1)) != 0 {
		t.Fatalf("latest quote not returned: %s", quote.Rate.RatString())
	}
}

func TestFeedStoreRejectsBadInput(t *testing.T) {
	store := NewFeedStore("testfeed")
	if err := store.Publish("", big.NewRat(1, 1), time.Time{}); err == nil {
		t.Fatalf("empty feed name must be rejected")
	}
	if err := store.Publish("GBYTE_USD", big.NewRat(-1, 1), time.Time{}); err == nil {
		t.Fatalf("negative rate must be rejected")
	}
	if err := store.Publish("GBYTE_USD", nil, time.Time{}); err == nil {
		t.Fatalf("nil rate must be rejected")
	}
}
