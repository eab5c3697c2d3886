package sched

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/decision"
	"github.com/futurekit/tradecore/internal/exec"
	"github.com/futurekit/tradecore/internal/features"
	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/notify"
	"github.com/futurekit/tradecore/internal/outbox"
	"github.com/futurekit/tradecore/internal/risk"
	"github.com/futurekit/tradecore/internal/rollover"
	"github.com/futurekit/tradecore/internal/signal"
	"github.com/futurekit/tradecore/internal/symbols"
)

func TestSessionKey(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour int
		want string
	}{
		{0, "2026-03-02:ASIA"},
		{7, "2026-03-02:ASIA"},
		{8, "2026-03-02:LONDON"},
		{15, "2026-03-02:LONDON"},
		{16, "2026-03-02:NY"},
		{23, "2026-03-02:NY"},
	}
	for _, c := range cases {
		if got := SessionKey(day.Add(time.Duration(c.hour) * time.Hour)); got != c.want {
			t.Fatalf("hour %d: want %s got %s", c.hour, c.want, got)
		}
	}
}

func TestSessionBookCaps(t *testing.T) {
	book := newSessionBook(nil)
	key := "2026-03-02:LONDON"

	// GANN caps at 1 per session.
	if !book.allowed(key, signal.ModelCycle) {
		t.Fatal("fresh session must allow")
	}
	book.record(key, signal.ModelCycle)
	if book.allowed(key, signal.ModelCycle) {
		t.Fatal("GANN second trade in session must be capped")
	}

	// A new session key starts a fresh budget.
	if !book.allowed("2026-03-02:NY", signal.ModelCycle) {
		t.Fatal("new session must reset the budget")
	}

	// Unknown models are uncapped.
	if !book.allowed(key, "CUSTOM") {
		t.Fatal("unknown model must not be capped")
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestApplyRolloverModifier(t *testing.T) {
	buy := decision.Ranked{Candidate: signal.Candidate{
		Side: signal.Buy, Entry: 2650, Stop: 2640, RiskPercent: 0.4,
	}}
	mod := applyRolloverModifier(buy)
	if !approx(mod.RiskPercent, 0.3) {
		t.Fatalf("risk should shrink to 0.3, got %v", mod.RiskPercent)
	}
	if !approx(mod.Stop, 2650-11.5) {
		t.Fatalf("buy stop should widen below entry, got %v", mod.Stop)
	}

	sell := buy
	sell.Side = signal.Sell
	sell.Stop = 2660
	mod = applyRolloverModifier(sell)
	if !approx(mod.Stop, 2650+11.5) {
		t.Fatalf("sell stop should widen above entry, got %v", mod.Stop)
	}
}

func TestMedianBasis(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var futures, brokerBars []market.Bar
	for i := 0; i < 5; i++ {
		futures = append(futures, market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Close: 10 + float64(i)})
		brokerBars = append(brokerBars, market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Close: 8})
	}
	// Diffs are {2,3,4,5,6}; median 4. A misaligned broker bar is ignored.
	brokerBars = append(brokerBars, market.Bar{Time: t0.Add(90 * time.Minute), Close: 100})

	if got := medianBasis(futures, brokerBars); got != 4 {
		t.Fatalf("want median basis 4, got %v", got)
	}
	if got := medianBasis(futures, nil); got != 0 {
		t.Fatalf("no aligned bars must yield 0, got %v", got)
	}
}

// Fakes shared by the trader-level tests.

type steadyFeed struct{ tick float64 }

func (s *steadyFeed) Observe(_ context.Context, symbol string) (broker.Observation, error) {
	s.tick += 0.01
	return broker.Observation{
		Quote:   broker.Quote{Symbol: symbol, Bid: 2649.9 + s.tick, Ask: 2650.1 + s.tick},
		Account: broker.Account{Balance: 50000, Equity: 50000},
		PageID:  "page-1",
	}, nil
}

type fillingBackend struct{ open map[string]bool }

func (b *fillingBackend) ExecuteMarketOrder(_ context.Context, symbol string, _ signal.Side, _, _ float64) (float64, error) {
	if b.open == nil {
		b.open = map[string]bool{}
	}
	b.open[symbol] = true
	return 2650.2, nil
}

func (b *fillingBackend) ClosePosition(_ context.Context, symbol string) error {
	delete(b.open, symbol)
	return nil
}

func (b *fillingBackend) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	return b.open[symbol], nil
}

type barEngine struct{ bars map[string][]market.Bar }

func (e *barEngine) GetOHLCV(_ context.Context, symbol string, _ int) ([]market.Bar, error) {
	return e.bars[symbol], nil
}

type recordingNotifier struct{ events []notify.Event }

func (n *recordingNotifier) Notify(ev notify.Event) { n.events = append(n.events, ev) }

func (n *recordingNotifier) byKind(kind string) []notify.Event {
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fixedAnalyzer returns the same upstream read for every symbol.
type fixedAnalyzer struct{ analysis features.Analysis }

func (f fixedAnalyzer) Analyze(context.Context, string, []market.Bar) (features.Analysis, error) {
	return f.analysis, nil
}

func recentBars(now time.Time, n int) []market.Bar {
	out := make([]market.Bar, 0, n)
	for i := n; i > 0; i-- {
		ts := now.Add(-time.Duration(i) * time.Minute)
		close := 2650 + float64(n-i)*0.1
		out = append(out, market.Bar{
			Time: ts, Open: close - 0.05, High: close + 0.2, Low: close - 0.2,
			Close: close, Volume: 100,
		})
	}
	return out
}

func newTestTrader(t *testing.T, analyzer Analyzer, engine *barEngine) (*Trader, *exec.Gatekeeper) {
	t.Helper()
	fetcher := market.NewFetcher(engine, market.FetchConfig{})
	perf := decision.NewPerformance()
	riskEngine := risk.NewEngine(50000)
	governance := risk.NewGovernance(10, 55)
	audit, err := outbox.OpenAuditLog(filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	feed := broker.NewFeedEngine(&steadyFeed{}, 8*time.Second)
	gk := exec.NewGatekeeper(exec.Deps{
		Backend:    &fillingBackend{},
		Feed:       feed,
		Adaptation: broker.NewAdaptation(broker.AdaptationLimits{}),
		Guardian:   broker.NewGuardian(nil, nil),
		RiskEngine: riskEngine,
		Governance: governance,
		Mapper:     symbols.NewMapper("XAUUSD"),
		Perf:       perf,
		Audit:      audit,
	}, exec.Options{})

	eventLog, err := rollover.OpenEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	trader := NewTrader(Deps{
		Universe: []symbols.TradeProfile{
			{BrokerSymbol: "XAUUSD", DataSymbol: "XAUUSD", Priority: "PRIMARY"},
		},
		Rules:      symbols.DefaultPriorityRules(),
		Fetcher:    fetcher,
		Rollover:   rollover.NewManager(fetcher, eventLog, 2),
		Staleness:  symbols.NewStalenessLimits(""),
		Mapper:     symbols.NewMapper("XAUUSD"),
		Registry:   signal.NewRegistry(),
		Decision:   decision.NewEngine(perf),
		RiskEngine: riskEngine,
		Admission:  risk.NewChain(governance),
		Gatekeeper: gk,
		Analyzer:   analyzer,
	}, Options{})
	return trader, gk
}

// absorptionAnalysis forces the ICEBERG model to fire in the given direction.
func absorptionAnalysis(direction string) features.Analysis {
	return features.Analysis{
		Absorption:         true,
		OrderflowDelta:     2000,
		OrderflowImbalance: 1,
		AbsorptionPrice:    2650,
		Direction:          direction,
		Confidence:         80,
	}
}

func TestScanCycleExecutesCandidate(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{
		"XAUUSD": recentBars(time.Now().UTC(), 30),
	}}
	trader, gk := newTestTrader(t, fixedAnalyzer{absorptionAnalysis("BUY")}, engine)

	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 1 {
		t.Fatalf("cycle should open 1 trade, got %d", gk.OpenCount())
	}
	side, active := gk.HasActive("XAUUSD")
	if !active || side != signal.Buy {
		t.Fatalf("active trade should be a buy, got active=%v side=%s", active, side)
	}
}

func TestScanCycleReversalClosesActive(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{
		"XAUUSD": recentBars(time.Now().UTC(), 30),
	}}
	trader, gk := newTestTrader(t, fixedAnalyzer{absorptionAnalysis("BUY")}, engine)

	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 1 {
		t.Fatal("setup: expected one open trade")
	}

	// Flip the upstream read; the opposing signal exits the position and
	// does not open a fresh one in the same cycle.
	rec := &recordingNotifier{}
	trader.deps.Notify = rec
	trader.deps.Analyzer = fixedAnalyzer{absorptionAnalysis("SELL")}
	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 0 {
		t.Fatalf("reversal should flatten, got %d open", gk.OpenCount())
	}
	if len(rec.byKind("reversal_exit")) != 1 {
		t.Fatalf("reversal should notify once, got %v", rec.events)
	}
}

func TestScanCycleSkipsStaleData(t *testing.T) {
	old := time.Now().UTC().Add(-time.Hour)
	engine := &barEngine{bars: map[string][]market.Bar{
		"XAUUSD": recentBars(old, 30),
	}}
	trader, gk := newTestTrader(t, fixedAnalyzer{absorptionAnalysis("BUY")}, engine)

	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 0 {
		t.Fatalf("stale bars must not trade, got %d open", gk.OpenCount())
	}
}

func TestScanCycleSkipsTradeHalt(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{
		"XAUUSD": recentBars(time.Now().UTC(), 30),
	}}
	analysis := absorptionAnalysis("BUY")
	analysis.TradeHalt = true
	trader, gk := newTestTrader(t, fixedAnalyzer{analysis}, engine)

	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 0 {
		t.Fatalf("trade halt must skip the symbol, got %d open", gk.OpenCount())
	}
}

func TestScanCycleAdmissionGateBlocks(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{
		"XAUUSD": recentBars(time.Now().UTC(), 30),
	}}
	trader, gk := newTestTrader(t, fixedAnalyzer{absorptionAnalysis("BUY")}, engine)
	rec := &recordingNotifier{}
	trader.deps.Notify = rec

	// Tighten the per-trade cap below the model's 0.4% ask; admission must
	// stop the candidate before it reaches the venue.
	trader.deps.RiskEngine.SetSizingCap(0.003)
	trader.ScanCycle(context.Background())
	if gk.OpenCount() != 0 {
		t.Fatalf("sizing-rejected candidate must not trade, got %d open", gk.OpenCount())
	}
	if len(rec.byKind("admission_rejected")) == 0 {
		t.Fatal("admission rejection should notify")
	}
}

func slotCandid(symbol string, score float64, side signal.Side) slotCandidate {
	return slotCandidate{
		profile: symbols.TradeProfile{BrokerSymbol: symbol, DataSymbol: symbol},
		ranked: decision.Ranked{
			Candidate: signal.Candidate{
				Model: signal.ModelAbsorption, Side: side, Confidence: 80,
				Entry: 2650.2, Stop: 2645.2, RiskPercent: 0.2,
			},
			AIScore: score,
		},
	}
}

func TestAllocateSlotsGapRatio(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{}}
	trader, gk := newTestTrader(t, fixedAnalyzer{}, engine)

	// 5% behind and same side: both trade, the runner-up inside the same
	// cycle bypasses the throttle.
	trader.allocateSlots(context.Background(), []slotCandidate{
		slotCandid("XAUUSD", 270, signal.Buy),
		slotCandid("NAS100", 256.5, signal.Buy),
	}, "2026-03-02:LONDON")
	if gk.OpenCount() != 2 {
		t.Fatalf("5%% gap same side should fill both slots, got %d", gk.OpenCount())
	}
}

func TestAllocateSlotsRejectsWideGap(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{}}
	trader, gk := newTestTrader(t, fixedAnalyzer{}, engine)

	// 15% behind: only the leader trades.
	trader.allocateSlots(context.Background(), []slotCandidate{
		slotCandid("XAUUSD", 270, signal.Buy),
		slotCandid("NAS100", 229.5, signal.Buy),
	}, "2026-03-02:LONDON")
	if gk.OpenCount() != 1 {
		t.Fatalf("15%% gap should fill one slot, got %d", gk.OpenCount())
	}
}

func TestAllocateSlotsThrottlesAfterLeaderRejected(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{}}
	trader, gk := newTestTrader(t, fixedAnalyzer{}, engine)
	ctx := context.Background()

	// An earlier execution arms the global throttle and leaves XAUUSD active.
	lead := slotCandid("XAUUSD", 270, signal.Buy)
	if res := gk.Execute(ctx, exec.Request{Signal: lead.ranked, Symbol: "XAUUSD"}); !res.Executed {
		t.Fatalf("setup: %q", res.Reason)
	}

	// The leader is rejected (already active), so the runner-up is this
	// cycle's first execution and must respect the throttle.
	trader.allocateSlots(ctx, []slotCandidate{
		slotCandid("XAUUSD", 270, signal.Buy),
		slotCandid("NAS100", 256.5, signal.Buy),
	}, "2026-03-02:LONDON")
	if gk.OpenCount() != 1 {
		t.Fatalf("runner-up must not inherit the concurrency bypass, got %d open", gk.OpenCount())
	}
}

func TestAllocateSlotsRejectsOpposingRunnerUp(t *testing.T) {
	engine := &barEngine{bars: map[string][]market.Bar{}}
	trader, gk := newTestTrader(t, fixedAnalyzer{}, engine)

	// Close second, but opposing side: never joins, however close the score.
	trader.allocateSlots(context.Background(), []slotCandidate{
		slotCandid("US30", 270, signal.Buy),
		slotCandid("EURUSD", 269, signal.Sell),
	}, "2026-03-02:NY")
	if gk.OpenCount() != 1 {
		t.Fatalf("opposing runner-up must not trade, got %d", gk.OpenCount())
	}
}
