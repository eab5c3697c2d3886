package sched

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/observ"
)

const (
	basisTTL        = 5 * time.Minute
	basisMaxSamples = 50
)

// basisEstimator measures the futures-to-CFD price offset per instrument so
// levels computed on futures bars can be quoted in broker terms. The
// estimate is the median close difference over aligned minutes; median so a
// few misaligned bars cannot drag it.
type basisEstimator struct {
	brokerData *market.Fetcher
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]basisEntry
}

type basisEntry struct {
	value    float64
	computed time.Time
}

func newBasisEstimator(brokerData *market.Fetcher) *basisEstimator {
	return &basisEstimator{
		brokerData: brokerData,
		now:        func() time.Time { return time.Now().UTC() },
		cache:      map[string]basisEntry{},
	}
}

// Estimate returns the cached or freshly computed basis for brokerSymbol.
// Zero when no broker data source is wired or alignment fails.
func (b *basisEstimator) Estimate(ctx context.Context, brokerSymbol string, futuresBars []market.Bar) float64 {
	if b.brokerData == nil || len(futuresBars) == 0 {
		return 0
	}
	b.mu.Lock()
	if e, ok := b.cache[brokerSymbol]; ok && b.now().Sub(e.computed) < basisTTL {
		b.mu.Unlock()
		return e.value
	}
	b.mu.Unlock()

	brokerBars := b.brokerData.Resolve(ctx, brokerSymbol)
	value := medianBasis(futuresBars, brokerBars)

	b.mu.Lock()
	b.cache[brokerSymbol] = basisEntry{value: value, computed: b.now()}
	b.mu.Unlock()

	observ.SetGauge("basis_estimate", value, map[string]string{"symbol": brokerSymbol})
	return value
}

// medianBasis pairs bars by minute timestamp and takes the median close
// difference futures minus broker, capped at the newest samples.
func medianBasis(futures, broker []market.Bar) float64 {
	byMinute := make(map[int64]float64, len(broker))
	for _, bar := range broker {
		byMinute[bar.Time.Unix()/60] = bar.Close
	}
	var diffs []float64
	for i := len(futures) - 1; i >= 0 && len(diffs) < basisMaxSamples; i-- {
		if close, ok := byMinute[futures[i].Time.Unix()/60]; ok {
			diffs = append(diffs, futures[i].Close-close)
		}
	}
	if len(diffs) == 0 {
		return 0
	}
	sort.Float64s(diffs)
	mid := len(diffs) / 2
	if len(diffs)%2 == 1 {
		return diffs[mid]
	}
	return (diffs[mid-1] + diffs[mid]) / 2
}
