package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/features"
	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/signal"
)

// simProfile seeds the random walk per symbol.
type simProfile struct {
	basePrice  float64
	volatility float64
	volume     float64
}

func defaultSimProfiles() map[string]simProfile {
	return map[string]simProfile{
		"GC.FUT": {basePrice: 2650, volatility: 0.012, volume: 180000},
		"GCZ6":   {basePrice: 2662, volatility: 0.012, volume: 40000},
		"NQ.FUT": {basePrice: 21000, volatility: 0.018, volume: 450000},
		"YM.FUT": {basePrice: 42000, volatility: 0.011, volume: 90000},
		"CL.FUT": {basePrice: 74, volatility: 0.022, volume: 300000},
		"6E.FUT": {basePrice: 1.085, volatility: 0.006, volume: 210000},
		"6B.FUT": {basePrice: 1.27, volatility: 0.008, volume: 120000},
		"XAUUSD": {basePrice: 2640, volatility: 0.012, volume: 0},
		"NAS100": {basePrice: 20950, volatility: 0.018, volume: 0},
		"US30":   {basePrice: 41950, volatility: 0.011, volume: 0},
		"EURUSD": {basePrice: 1.0848, volatility: 0.006, volume: 0},
		"GBPUSD": {basePrice: 1.2698, volatility: 0.008, volume: 0},
		"USOIL":  {basePrice: 73.9, volatility: 0.022, volume: 0},
	}
}

// SimEngine generates deterministic-per-seed random-walk minute bars.
// Implements market.DataEngine; usable for both the futures and broker
// sides of a paper run.
type SimEngine struct {
	mu       sync.Mutex
	profiles map[string]simProfile
	random   *rand.Rand
	now      func() time.Time
}

func NewSimEngine(seed int64) *SimEngine {
	return &SimEngine{
		profiles: defaultSimProfiles(),
		random:   rand.New(rand.NewSource(seed)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SimEngine) GetOHLCV(_ context.Context, symbol string, minutes int) ([]market.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: unknown symbol %q", symbol)
	}
	if minutes <= 0 {
		minutes = 240
	}

	// Per-minute sigma from daily volatility over ~1440 minutes.
	sigma := p.basePrice * p.volatility / 38
	end := s.now().Truncate(time.Minute)
	price := p.basePrice

	bars := make([]market.Bar, 0, minutes)
	for i := minutes; i > 0; i-- {
		open := price
		price += s.random.NormFloat64() * sigma
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		high += s.random.Float64() * sigma / 2
		low -= s.random.Float64() * sigma / 2
		vol := p.volume / 1440 * (0.5 + s.random.Float64())
		bars = append(bars, market.Bar{
			Time:   end.Add(-time.Duration(i) * time.Minute),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: vol,
		})
	}
	return bars, nil
}

// SimFeedSource produces live-looking observations for the feed engine.
// Implements broker.FeedSource.
type SimFeedSource struct {
	mu          sync.Mutex
	engine      *SimEngine
	balance     float64
	equity      float64
	pageID      string
	halted      bool
	spread      float64
	probeSymbol string
	lastMid     float64
}

func NewSimFeedSource(engine *SimEngine, balance float64) *SimFeedSource {
	return &SimFeedSource{
		engine:      engine,
		balance:     balance,
		equity:      balance,
		pageID:      "sim://terminal",
		spread:      0.3,
		probeSymbol: "XAUUSD",
	}
}

// SetProbeSymbol picks the symbol the guardian probe reads.
func (s *SimFeedSource) SetProbeSymbol(symbol string) {
	if symbol == "" {
		return
	}
	s.mu.Lock()
	s.probeSymbol = symbol
	s.mu.Unlock()
}

// Halt freezes quotes so health transitions can be exercised.
func (s *SimFeedSource) Halt(halted bool) {
	s.mu.Lock()
	s.halted = halted
	s.mu.Unlock()
}

func (s *SimFeedSource) Observe(ctx context.Context, symbol string) (broker.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return broker.Observation{}, fmt.Errorf("sim feed halted")
	}
	bars, err := s.engine.GetOHLCV(ctx, symbol, 2)
	if err != nil || len(bars) == 0 {
		return broker.Observation{}, fmt.Errorf("sim feed: no bars for %s", symbol)
	}
	mid := bars[len(bars)-1].Close
	s.lastMid = mid
	return broker.Observation{
		Quote: broker.Quote{
			Symbol: symbol,
			Bid:    mid - s.spread/2,
			Ask:    mid + s.spread/2,
		},
		Account: broker.Account{Balance: s.balance, Equity: s.equity},
		PageID:  s.pageID,
	}, nil
}

// CurrentSpread implements the guardian's venue probe. A halted feed reads
// as unknown, which blocks.
func (s *SimFeedSource) CurrentSpread(context.Context) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return 0, false
	}
	return s.spread, true
}

// CurrentPrice implements the guardian's venue probe. It serves the mid of
// the last observation rather than drawing a fresh sim walk, so short-horizon
// reads stay coherent.
func (s *SimFeedSource) CurrentPrice(ctx context.Context) (float64, bool) {
	s.mu.Lock()
	last := s.lastMid
	symbol := s.probeSymbol
	s.mu.Unlock()
	if last != 0 {
		return last, true
	}
	obs, err := s.Observe(ctx, symbol)
	if err != nil {
		return 0, false
	}
	return (obs.Quote.Bid + obs.Quote.Ask) / 2, true
}

// SimNewsSource is a togglable all-clear news feed for paper runs.
// Implements broker.NewsSource.
type SimNewsSource struct {
	mu     sync.Mutex
	status broker.NewsStatus
}

func NewSimNewsSource() *SimNewsSource { return &SimNewsSource{} }

// SetStatus flips the reported status for every symbol.
func (n *SimNewsSource) SetStatus(status broker.NewsStatus) {
	n.mu.Lock()
	n.status = status
	n.mu.Unlock()
}

func (n *SimNewsSource) GetNewsStatus(context.Context, string) (broker.NewsStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status, nil
}

// SimBackend is a paper execution venue: orders always fill near the quote
// with a touch of slippage. Implements the gatekeeper's backend contract.
type SimBackend struct {
	mu        sync.Mutex
	feed      *SimFeedSource
	engine    *SimEngine
	random    *rand.Rand
	positions map[string]signal.Side
}

func NewSimBackend(engine *SimEngine, feed *SimFeedSource, seed int64) *SimBackend {
	return &SimBackend{
		feed:      feed,
		engine:    engine,
		random:    rand.New(rand.NewSource(seed)),
		positions: map[string]signal.Side{},
	}
}

func (b *SimBackend) ExecuteMarketOrder(ctx context.Context, symbol string, side signal.Side, lot, stop float64) (float64, error) {
	obs, err := b.feed.Observe(ctx, symbol)
	if err != nil {
		return 0, err
	}
	price := obs.Quote.Ask
	if side == signal.Sell {
		price = obs.Quote.Bid
	}
	price += (b.random.Float64() - 0.5) * 0.2 // paper slippage

	b.mu.Lock()
	b.positions[symbol] = side
	b.mu.Unlock()
	return price, nil
}

func (b *SimBackend) ClosePosition(_ context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[symbol]; !ok {
		return fmt.Errorf("sim: no open position on %s", symbol)
	}
	delete(b.positions, symbol)
	return nil
}

func (b *SimBackend) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[symbol]
	return ok, nil
}

// SimAnalyzer derives a plausible upstream read from the bars alone. It
// exists so paper runs exercise the full pipeline without the real
// analytics feed.
type SimAnalyzer struct{}

func (SimAnalyzer) Analyze(_ context.Context, _ string, bars []market.Bar) (features.Analysis, error) {
	if len(bars) < 2 {
		return features.Analysis{}, fmt.Errorf("sim analyzer: not enough bars")
	}
	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	direction := "SELL"
	if last.Close >= prev.Close {
		direction = "BUY"
	}
	momentum := last.Close - prev.Close
	confidence := 60 + minFloat(absFloat(momentum)/last.Close*1e4, 30)

	return features.Analysis{
		OrderflowDelta: momentum * last.Volume,
		StructureBreak: last.Close > prev.High || last.Close < prev.Low,
		Regime:         "EXPANSION",
		Confidence:     confidence,
		Direction:      direction,
	}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
