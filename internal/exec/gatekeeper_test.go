package exec

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/decision"
	"github.com/futurekit/tradecore/internal/notify"
	"github.com/futurekit/tradecore/internal/outbox"
	"github.com/futurekit/tradecore/internal/risk"
	"github.com/futurekit/tradecore/internal/signal"
	"github.com/futurekit/tradecore/internal/symbols"
)

// steadyFeed always serves the same complete observation.
type steadyFeed struct {
	bid, ask float64
	tick     float64 // added per poll so the price never freezes
}

func (s *steadyFeed) Observe(_ context.Context, symbol string) (broker.Observation, error) {
	s.tick += 0.01
	return broker.Observation{
		Quote:   broker.Quote{Symbol: symbol, Bid: s.bid + s.tick, Ask: s.ask + s.tick},
		Account: broker.Account{Balance: 50000, Equity: 50000},
		PageID:  "page-1",
	}, nil
}

// recordingBackend fills everything and remembers the orders.
type recordingBackend struct {
	orders []string
	open   map[string]bool
}

func (b *recordingBackend) ExecuteMarketOrder(_ context.Context, symbol string, side signal.Side, lot, stop float64) (float64, error) {
	if b.open == nil {
		b.open = map[string]bool{}
	}
	b.orders = append(b.orders, symbol)
	b.open[symbol] = true
	return 2650.2, nil
}

func (b *recordingBackend) ClosePosition(_ context.Context, symbol string) error {
	delete(b.open, symbol)
	return nil
}

func (b *recordingBackend) HasOpenPosition(_ context.Context, symbol string) (bool, error) {
	return b.open[symbol], nil
}

// failingFeed simulates a dead terminal.
type failingFeed struct{}

func (failingFeed) Observe(context.Context, string) (broker.Observation, error) {
	return broker.Observation{}, errors.New("terminal gone")
}

// aliasFeed reports a fixed vendor symbol regardless of what was requested.
type aliasFeed struct {
	steadyFeed
	symbol string
}

func (a *aliasFeed) Observe(ctx context.Context, _ string) (broker.Observation, error) {
	return a.steadyFeed.Observe(ctx, a.symbol)
}

type recordingNotifier struct{ events []notify.Event }

func (n *recordingNotifier) Notify(ev notify.Event) { n.events = append(n.events, ev) }

func (n *recordingNotifier) last() notify.Event {
	if len(n.events) == 0 {
		return notify.Event{}
	}
	return n.events[len(n.events)-1]
}

func testGatekeeper(t *testing.T) (*Gatekeeper, *recordingBackend) {
	t.Helper()
	return testGatekeeperWithFeed(t, &steadyFeed{bid: 2649.9, ask: 2650.1})
}

func testGatekeeperWithFeed(t *testing.T, source broker.FeedSource) (*Gatekeeper, *recordingBackend) {
	t.Helper()
	backend := &recordingBackend{}
	feed := broker.NewFeedEngine(source, 8*time.Second)
	audit, err := outbox.OpenAuditLog(filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	gk := NewGatekeeper(Deps{
		Backend:    backend,
		Feed:       feed,
		Adaptation: broker.NewAdaptation(broker.AdaptationLimits{}),
		Guardian:   broker.NewGuardian(nil, nil),
		RiskEngine: risk.NewEngine(50000),
		Governance: risk.NewGovernance(5, 55),
		Mapper:     symbols.NewMapper("XAUUSD"),
		Perf:       decision.NewPerformance(),
		Audit:      audit,
	}, Options{})
	return gk, backend
}

func buySignal(confidence float64) decision.Ranked {
	return decision.Ranked{
		Candidate: signal.Candidate{
			Model:       signal.ModelLiquidity,
			Side:        signal.Buy,
			Confidence:  confidence,
			Entry:       2650.2,
			Stop:        2645.2,
			RiskPercent: 0.5,
		},
		AIScore: 270,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	gk, backend := testGatekeeper(t)

	res := gk.Execute(context.Background(), Request{
		Signal: buySignal(80), Symbol: "GC.FUT", SessionKey: "2026-03-02:LONDON",
	})
	if !res.Executed {
		t.Fatalf("expected execution, got %q", res.Reason)
	}
	if len(backend.orders) != 1 || backend.orders[0] != "XAUUSD" {
		t.Fatalf("order should go to the execution symbol, got %v", backend.orders)
	}
	if res.Lot < 0.01 {
		t.Fatalf("lot below venue minimum: %v", res.Lot)
	}
	if gk.OpenCount() != 1 {
		t.Fatalf("book should hold 1 trade, got %d", gk.OpenCount())
	}
	if res.AuditID == "" {
		t.Fatal("executed trade must be journaled")
	}
}

func TestExecuteRejectsLowConfidence(t *testing.T) {
	gk, backend := testGatekeeper(t)
	res := gk.Execute(context.Background(), Request{Signal: buySignal(69), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "confidence") {
		t.Fatalf("confidence under 70 must reject, got %+v", res)
	}
	if len(backend.orders) != 0 {
		t.Fatal("no order may reach the venue on rejection")
	}
}

func TestExecuteGlobalThrottle(t *testing.T) {
	gk, _ := testGatekeeper(t)
	ctx := context.Background()

	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("first trade should execute, got %q", res.Reason)
	}
	gk.MarkTradeClosed(signal.ModelLiquidity, "GC.FUT", "win", "", 0)

	res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "throttle") {
		t.Fatalf("second trade inside 300s must throttle, got %+v", res)
	}

	// The throttle spans symbols, not just the one that traded.
	res = gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "NQ.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "throttle") {
		t.Fatalf("another symbol inside 300s must throttle too, got %+v", res)
	}

	// allow_concurrent bypasses the throttle.
	res = gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT", AllowConcurrent: true})
	if !res.Executed {
		t.Fatalf("allow_concurrent should bypass the throttle, got %q", res.Reason)
	}
}

func TestExecuteCapsConcurrency(t *testing.T) {
	gk, _ := testGatekeeper(t)
	ctx := context.Background()

	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("first: %q", res.Reason)
	}
	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "NQ.FUT", AllowConcurrent: true}); !res.Executed {
		t.Fatalf("second: %q", res.Reason)
	}
	res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "YM.FUT", AllowConcurrent: true})
	if res.Executed || !strings.Contains(res.Reason, "concurrent") {
		t.Fatalf("third trade must hit the concurrency cap, got %+v", res)
	}
}

func TestExecuteRejectsDuplicateSymbol(t *testing.T) {
	gk, _ := testGatekeeper(t)
	ctx := context.Background()

	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("first: %q", res.Reason)
	}
	res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT", AllowConcurrent: true})
	if res.Executed || !strings.Contains(res.Reason, "already active") {
		t.Fatalf("same symbol must reject while active, got %+v", res)
	}
}

func TestFeedKillLatchesEmergencyStop(t *testing.T) {
	gk, _ := testGatekeeperWithFeed(t, failingFeed{})
	res := gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "feed killed") {
		t.Fatalf("killed feed must reject, got %+v", res)
	}
	if !gk.EmergencyStopped() {
		t.Fatal("a feed kill must latch the emergency stop")
	}
}

func TestDailyLossBreachLatchesEmergencyStop(t *testing.T) {
	gk, _ := testGatekeeper(t)
	ctx := context.Background()

	// 4% down on the day against the 3% phase-1 limit.
	gk.riskEngine.UpdateLosses(-2000, -2000)
	res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "daily loss") {
		t.Fatalf("daily loss breach must reject, got %+v", res)
	}
	if !gk.EmergencyStopped() {
		t.Fatal("a daily loss breach must latch the emergency stop")
	}

	// The latch blocks every symbol until manually cleared.
	res = gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "NQ.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "emergency") {
		t.Fatalf("latched stop must block other symbols, got %+v", res)
	}
}

func TestFeedAliasMapsToExecutionSymbol(t *testing.T) {
	src := &aliasFeed{steadyFeed: steadyFeed{bid: 2649.9, ask: 2650.1}, symbol: "GC-F"}
	gk, backend := testGatekeeperWithFeed(t, src)

	res := gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if !res.Executed {
		t.Fatalf("feed alias resolves to the same execution symbol, got %q", res.Reason)
	}
	if len(backend.orders) != 1 || backend.orders[0] != "XAUUSD" {
		t.Fatalf("order should go to the execution symbol, got %v", backend.orders)
	}

	// A symbol resolving elsewhere still rejects.
	src2 := &aliasFeed{steadyFeed: steadyFeed{bid: 2649.9, ask: 2650.1}, symbol: "EURUSD"}
	gk, _ = testGatekeeperWithFeed(t, src2)
	res = gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "mismatch") {
		t.Fatalf("foreign feed symbol must reject, got %+v", res)
	}
}

func TestNotifierSeesDecisions(t *testing.T) {
	gk, _ := testGatekeeper(t)
	rec := &recordingNotifier{}
	gk.notifier = rec
	ctx := context.Background()

	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("setup: %q", res.Reason)
	}
	if ev := rec.last(); ev.Kind != "trade_executed" || ev.Severity != notify.Info {
		t.Fatalf("execution should notify, got %+v", ev)
	}

	res := gk.Execute(ctx, Request{Signal: buySignal(69), Symbol: "NQ.FUT", AllowConcurrent: true})
	if res.Executed {
		t.Fatal("setup: low confidence should reject")
	}
	if ev := rec.last(); ev.Kind != "trade_rejected" || !strings.Contains(ev.Text, "confidence") {
		t.Fatalf("rejection should notify with the reason, got %+v", ev)
	}

	gk.EmergencyStop()
	if ev := rec.last(); ev.Kind != "emergency_stop" || ev.Severity != notify.Critical {
		t.Fatalf("emergency stop should notify critically, got %+v", ev)
	}
}

func TestEmergencyStopBlocksExecution(t *testing.T) {
	gk, _ := testGatekeeper(t)
	gk.EmergencyStop()
	res := gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "emergency") {
		t.Fatalf("emergency stop must block, got %+v", res)
	}
	gk.Resume()
	if res := gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("resume should unblock, got %q", res.Reason)
	}
}

func TestLossStreakTripsAnomaly(t *testing.T) {
	gk, _ := testGatekeeper(t)
	for i := 0; i < 3; i++ {
		gk.MarkTradeClosed(signal.ModelLiquidity, "GC.FUT", "loss", "", 0)
	}
	res := gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if res.Executed || !strings.Contains(res.Reason, "loss streak") {
		t.Fatalf("3 straight losses must trip the anomaly check, got %+v", res)
	}

	// A win resets the streak.
	gk.MarkTradeClosed(signal.ModelLiquidity, "GC.FUT", "win", "", 0)
	res = gk.Execute(context.Background(), Request{Signal: buySignal(80), Symbol: "GC.FUT"})
	if !res.Executed {
		t.Fatalf("streak reset should allow trading, got %q", res.Reason)
	}
}

func TestLotSizing(t *testing.T) {
	gk, _ := testGatekeeper(t)
	// Balance 50000, phase 1 risk 0.3%, signal risk 0.5% -> tighter is 0.3%.
	// Stop distance 5 points: 50000*0.003/(5*10) = 3.0 lots.
	lot := gk.lotSize(buySignal(80))
	if lot != 3.0 {
		t.Fatalf("want 3.0 lots, got %v", lot)
	}

	sig := buySignal(80)
	sig.Stop = sig.Entry // degenerate stop
	if lot := gk.lotSize(sig); lot != 0.01 {
		t.Fatalf("degenerate stop must fall back to minimum lot, got %v", lot)
	}
}

func TestSyncPositionsDropsVanished(t *testing.T) {
	gk, backend := testGatekeeper(t)
	ctx := context.Background()

	if res := gk.Execute(ctx, Request{Signal: buySignal(80), Symbol: "GC.FUT"}); !res.Executed {
		t.Fatalf("setup: %q", res.Reason)
	}
	delete(backend.open, "XAUUSD") // venue closed it out-of-band
	gk.SyncPositions(ctx)
	if gk.OpenCount() != 0 {
		t.Fatalf("vanished position must leave the book, got %d open", gk.OpenCount())
	}
}
