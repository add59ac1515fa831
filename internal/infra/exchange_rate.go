package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solpay_relay/internal/domain"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultRateURL = "https://api.coingecko.com/api/v3/simple/price"

// simplePriceResponse is the CoinGecko /simple/price body: {"solana": {"usd": 20.5}}
type simplePriceResponse map[string]map[string]decimal.Decimal

// ExchangeRateClient fetches spot rates from the CoinGecko simple price API.
// It keeps no rate state; every call goes to the network.
type ExchangeRateClient struct {
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	retryBase  time.Duration
}

// rateBurst covers the two concurrent quote lookups of two back-to-back payments.
const rateBurst = 4

// NewExchangeRateClient creates a new exchange rate client
func NewExchangeRateClient() *ExchangeRateClient {
	return &ExchangeRateClient{
		apiURL: defaultRateURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Public tier allows roughly 30 calls per minute
		limiter:   rate.NewLimiter(rate.Limit(0.5), rateBurst),
		retries:   3,
		retryBase: 1 * time.Second,
	}
}

// NewExchangeRateClientWithConfig creates a client with custom configuration
func NewExchangeRateClientWithConfig(apiURL string, timeoutSec int, requestsPerSec float64, retries int) *ExchangeRateClient {
	client := NewExchangeRateClient()
	if apiURL != "" {
		client.apiURL = apiURL
	}
	if timeoutSec > 0 {
		client.httpClient.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if requestsPerSec > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(requestsPerSec), rateBurst)
	}
	if retries > 0 {
		client.retries = retries
	}
	return client
}

// GetRate returns the price of one baseAsset unit in quoteCurrency.
// Any failure is reported as domain.ErrRateUnavailable.
func (c *ExchangeRateClient) GetRate(ctx context.Context, baseAsset, quoteCurrency string) (decimal.Decimal, error) {
	r, err := c.fetchRate(ctx, strings.ToLower(baseAsset), strings.ToLower(quoteCurrency))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s/%s: %w: %w", baseAsset, quoteCurrency, domain.ErrRateUnavailable, err)
	}
	return r, nil
}

// fetchRate fetches the rate with retry logic
func (c *ExchangeRateClient) fetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var lastErr error
	for i := 0; i < c.retries; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			delay := CalculateBackoffFrom(c.retryBase, i-1)
			slog.Debug("Retrying exchange rate fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return decimal.Zero, err
		}

		r, err := c.doFetch(ctx, base, quote)
		if err == nil {
			return r, nil
		}
		lastErr = err
		slog.Warn("Exchange rate fetch attempt failed",
			slog.Int("attempt", i+1),
			slog.String("pair", base+"/"+quote),
			slog.Any("error", err),
		)
		if !domain.IsRetriable(err) {
			break
		}
	}
	return decimal.Zero, lastErr
}

func (c *ExchangeRateClient) doFetch(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", base)
	q.Set("vs_currencies", quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, domain.NewFatalNetworkError("fetch_rate", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, domain.NewNetworkError("fetch_rate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return decimal.Zero, domain.NewNetworkError("fetch_rate", statusErr)
		}
		return decimal.Zero, domain.NewFatalNetworkError("fetch_rate", statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, domain.NewNetworkError("fetch_rate", err)
	}

	var data simplePriceResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return decimal.Zero, domain.NewFatalNetworkError("decode_rate", err)
	}

	r, ok := data[base][quote]
	if !ok {
		return decimal.Zero, domain.NewFatalNetworkError("decode_rate", fmt.Errorf("no %s price for %s", quote, base))
	}
	if !r.IsPositive() {
		return decimal.Zero, domain.NewFatalNetworkError("decode_rate", fmt.Errorf("non-positive rate %s", r))
	}

	return r, nil
}
