// Package adapters binds external surfaces (data vendor, execution venue)
// to the interfaces the core consumes, plus simulated versions for paper
// runs and tests.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/observ"
)

// VendorConfig holds the HTTP OHLCV vendor settings.
type VendorConfig struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

func (c *VendorConfig) setDefaults() {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = 500
	}
}

// VendorEngine fetches minute bars over HTTP. Implements market.DataEngine.
type VendorEngine struct {
	cfg     VendorConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewVendorEngine(cfg VendorConfig) (*VendorEngine, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vendor base URL is required")
	}
	cfg.setDefaults()
	return &VendorEngine{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

// wireBar is the vendor's bar encoding: epoch seconds plus OHLCV.
type wireBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// GetOHLCV fetches the last minutes of 1-minute bars for symbol. Transient
// failures retry with exponential backoff inside ctx's budget.
func (v *VendorEngine) GetOHLCV(ctx context.Context, symbol string, minutes int) ([]market.Bar, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/ohlcv?%s", v.cfg.BaseURL, url.Values{
		"symbol":  {symbol},
		"minutes": {strconv.Itoa(minutes)},
		"apikey":  {v.cfg.APIKey},
	}.Encode())

	var lastErr error
	for attempt := 0; attempt <= v.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(v.cfg.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		bars, retryable, err := v.fetchOnce(ctx, endpoint)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		observ.IncCounter("vendor_fetch_errors_total", map[string]string{"symbol": symbol})
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("vendor fetch %s: %w", symbol, lastErr)
}

func (v *VendorEngine) fetchOnce(ctx context.Context, endpoint string) (bars []market.Bar, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("vendor status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("vendor status %d", resp.StatusCode)
	}

	var wire struct {
		Bars []wireBar `json:"bars"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, false, fmt.Errorf("decode vendor response: %w", err)
	}
	out := make([]market.Bar, 0, len(wire.Bars))
	for _, b := range wire.Bars {
		out = append(out, market.Bar{
			Time:   time.Unix(b.T, 0).UTC(),
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: b.V,
		})
	}
	return market.Normalize(out), false, nil
}
