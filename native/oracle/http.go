package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle fetches feed values from an external publisher endpoint. The
// endpoint is expected to answer GET <endpoint>?feed=<name> with a JSON body
// of the form {"feed": "...", "value": "20.25", "timestamp": 1700000000}.
// Values are decoded as decimal strings so no float drift enters the quote.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPOracle constructs an HTTP oracle adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPOracle(client HTTPDoer, endpoint, apiKey string) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

func (o *HTTPOracle) GetRate(feed string) (PriceQuote, error) {
	if o == nil || o.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("http oracle not configured")
	}
	name := strings.TrimSpace(feed)
	if name == "" {
		return PriceQuote{}, fmt.Errorf("oracle: feed name required")
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("feed", name)
	req.URL.RawQuery = values.Encode()
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return PriceQuote{}, ErrNoPrice
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("http oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Feed      string `json:"feed"`
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("http oracle: decode: %w", err)
	}
	raw := strings.TrimSpace(payload.Value)
	if raw == "" {
		return PriceQuote{}, ErrNoPrice
	}
	dec, err := decimal.NewFromString(raw)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("http oracle: invalid value %q: %w", payload.Value, err)
	}
	if dec.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("http oracle: value must be positive, got %s", dec)
	}
	return PriceQuote{
		Rate:      decimalToRat(dec),
		Timestamp: time.Unix(payload.Timestamp, 0),
		Source:    "http",
	}, nil
}

// decimalToRat converts a decimal (coefficient x 10^exponent) into an exact
// rational so downstream arithmetic stays drift-free.
func decimalToRat(d decimal.Decimal) *big.Rat {
	coeff := d.Coefficient()
	exp := int64(d.Exponent())
	if exp >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
		return new(big.Rat).SetInt(new(big.Int).Mul(coeff, scale))
	}
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(-exp), nil)
	return new(big.Rat).SetFrac(coeff, den)
}
