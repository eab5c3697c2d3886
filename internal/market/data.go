package market

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/futurekit/tradecore/internal/observ"
)

// DataEngine is the abstract market-data collaborator. Implementations own
// vendor resolution and retries; callers only see normalized bars or nothing.
type DataEngine interface {
	// GetOHLCV returns up to `minutes` worth of minute bars for symbol.
	// An empty slice is a valid answer (no data), not an error.
	GetOHLCV(ctx context.Context, symbol string, minutes int) ([]Bar, error)
}

// FetchConfig bounds a single resolve attempt against the data engine.
type FetchConfig struct {
	Timeout time.Duration
	// FallbackMinutes is the ordered list of lookback windows tried in
	// sequence until one yields bars. Keeps total latency bounded while
	// tolerating vendors that lag on long windows.
	FallbackMinutes []int
	// RatePerSecond throttles upstream calls; zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// Fetcher wraps a DataEngine with timeouts, lookback fallbacks and a rate
// limiter. A timeout is surfaced via metrics with its own label so it is
// never mistaken for "no signal", even though both end in an empty series.
type Fetcher struct {
	engine  DataEngine
	cfg     FetchConfig
	limiter *rate.Limiter
}

func NewFetcher(engine DataEngine, cfg FetchConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.FallbackMinutes) == 0 {
		cfg.FallbackMinutes = []int{360}
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Fetcher{engine: engine, cfg: cfg, limiter: limiter}
}

// Resolve tries each configured lookback window in order and returns the
// first non-empty normalized series. All failure modes collapse to an empty
// slice; the caller treats that as "skip this cycle".
func (f *Fetcher) Resolve(ctx context.Context, symbol string) []Bar {
	for _, minutes := range f.cfg.FallbackMinutes {
		bars := f.fetchOne(ctx, symbol, minutes)
		if len(bars) > 0 {
			return bars
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// FetchWindow fetches exactly one lookback window, normalized.
func (f *Fetcher) FetchWindow(ctx context.Context, symbol string, minutes int) []Bar {
	return f.fetchOne(ctx, symbol, minutes)
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol string, minutes int) []Bar {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := f.engine.GetOHLCV(fetchCtx, symbol, minutes)
	observ.RecordDuration("market_fetch", time.Since(start), map[string]string{"symbol": symbol})

	if err != nil {
		outcome := "error"
		if fetchCtx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		observ.IncCounter("market_fetch_failures_total", map[string]string{
			"symbol": symbol, "outcome": outcome,
		})
		observ.Log("market_fetch_failed", map[string]any{
			"symbol": symbol, "minutes": minutes, "outcome": outcome, "error": err.Error(),
		})
		return nil
	}
	if len(raw) == 0 {
		observ.IncCounter("market_fetch_empty_total", map[string]string{"symbol": symbol})
		return nil
	}
	return Normalize(raw)
}
