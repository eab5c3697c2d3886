package adapters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/observ"
)

// CachedEngine wraps a market.DataEngine with a per-(symbol, window) TTL
// cache. Inside the TTL every caller gets the cached bars; past the TTL a
// fresh fetch is tried, and on failure the stale copy is served up to the
// ceiling rather than returning nothing mid-session.
type CachedEngine struct {
	inner        market.DataEngine
	ttl          time.Duration
	staleCeiling time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]barEntry
}

type barEntry struct {
	bars      []market.Bar
	fetchedAt time.Time
}

func NewCachedEngine(inner market.DataEngine, ttl, staleCeiling time.Duration) *CachedEngine {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	if staleCeiling < ttl {
		staleCeiling = 3 * time.Minute
	}
	return &CachedEngine{
		inner:        inner,
		ttl:          ttl,
		staleCeiling: staleCeiling,
		now:          func() time.Time { return time.Now().UTC() },
		entries:      map[string]barEntry{},
	}
}

func (c *CachedEngine) GetOHLCV(ctx context.Context, symbol string, minutes int) ([]market.Bar, error) {
	key := symbol + "|" + strconv.Itoa(minutes)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		observ.IncCounter("bar_cache_events_total", map[string]string{"event": "hit"})
		return entry.bars, nil
	}

	bars, err := c.inner.GetOHLCV(ctx, symbol, minutes)
	if err != nil {
		if ok && now.Sub(entry.fetchedAt) <= c.staleCeiling {
			observ.IncCounter("bar_cache_events_total", map[string]string{"event": "stale_served"})
			return entry.bars, nil
		}
		observ.IncCounter("bar_cache_events_total", map[string]string{"event": "miss_error"})
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = barEntry{bars: bars, fetchedAt: now}
	c.mu.Unlock()
	observ.IncCounter("bar_cache_events_total", map[string]string{"event": "refresh"})
	return bars, nil
}
