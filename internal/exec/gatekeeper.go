// Package exec is the final admission layer between a ranked signal and a
// live order. The gatekeeper re-validates everything the upper layers
// already believe, because the venue state they saw may be seconds old.
package exec

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/decision"
	"github.com/futurekit/tradecore/internal/notify"
	"github.com/futurekit/tradecore/internal/observ"
	"github.com/futurekit/tradecore/internal/outbox"
	"github.com/futurekit/tradecore/internal/portfolio"
	"github.com/futurekit/tradecore/internal/risk"
	"github.com/futurekit/tradecore/internal/signal"
	"github.com/futurekit/tradecore/internal/symbols"
)

// ExecutionBackend places orders and answers position probes on the venue.
type ExecutionBackend interface {
	// ExecuteMarketOrder fills at market and returns the fill price.
	ExecuteMarketOrder(ctx context.Context, symbol string, side signal.Side, lot, stop float64) (float64, error)
	// ClosePosition flattens the open position on symbol.
	ClosePosition(ctx context.Context, symbol string) error
	// HasOpenPosition reports whether the venue shows a position on symbol.
	HasOpenPosition(ctx context.Context, symbol string) (bool, error)
}

const (
	defaultTradeThrottle = 300 * time.Second
	minConfidenceFloor   = 70.0
	maxConcurrentTrades  = 2
	minLot               = 0.01
	pointValue           = 10.0
)

// Options tunes the gatekeeper. Zero values take defaults.
type Options struct {
	TradeThrottle time.Duration
	MinConfidence float64
}

// Gatekeeper owns the order path: every trade request passes its ordered
// checks or is rejected with a reason. It is safe for concurrent use.
type Gatekeeper struct {
	backend    ExecutionBackend
	feed       *broker.FeedEngine
	adaptation *broker.Adaptation
	guardian   *broker.Guardian
	riskEngine *risk.Engine
	governance *risk.Governance
	mapper     *symbols.Mapper
	learning   *decision.LearningStore
	perf       *decision.Performance
	audit      *outbox.AuditLog
	ledger     *portfolio.Ledger
	notifier   notify.Notifier

	throttle      time.Duration
	minConfidence float64
	now           func() time.Time

	book *activeBook

	mu         sync.Mutex
	emergency  bool
	lossStreak int
}

// Deps bundles the collaborators a Gatekeeper needs.
type Deps struct {
	Backend    ExecutionBackend
	Feed       *broker.FeedEngine
	Adaptation *broker.Adaptation
	Guardian   *broker.Guardian
	RiskEngine *risk.Engine
	Governance *risk.Governance
	Mapper     *symbols.Mapper
	Learning   *decision.LearningStore
	Perf       *decision.Performance
	Audit      *outbox.AuditLog
	Ledger     *portfolio.Ledger
	Notify     notify.Notifier
}

func NewGatekeeper(d Deps, opts Options) *Gatekeeper {
	if opts.TradeThrottle <= 0 {
		opts.TradeThrottle = defaultTradeThrottle
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = minConfidenceFloor
	}
	if d.Notify == nil {
		d.Notify = notify.LogNotifier{}
	}
	return &Gatekeeper{
		backend:       d.Backend,
		feed:          d.Feed,
		adaptation:    d.Adaptation,
		guardian:      d.Guardian,
		riskEngine:    d.RiskEngine,
		governance:    d.Governance,
		mapper:        d.Mapper,
		learning:      d.Learning,
		perf:          d.Perf,
		audit:         d.Audit,
		ledger:        d.Ledger,
		notifier:      d.Notify,
		throttle:      opts.TradeThrottle,
		minConfidence: opts.MinConfidence,
		now:           time.Now,
		book:          newActiveBook(),
	}
}

// Request is one admission attempt for a ranked signal on a symbol.
type Request struct {
	Signal          decision.Ranked
	Symbol          string
	SessionKey      string
	AllowConcurrent bool
}

// Result reports what the gatekeeper did with a request.
type Result struct {
	Executed  bool
	Reason    string
	Lot       float64
	FillPrice float64
	AuditID   string
}

// Execute runs the full ordered check chain and, if every check passes,
// places the market order. The first failing check rejects the request;
// later checks do not run.
func (g *Gatekeeper) Execute(ctx context.Context, req Request) Result {
	res := g.admitAndPlace(ctx, req)

	rec := outbox.TradeRecord{
		Symbol:     req.Symbol,
		ExecSymbol: g.mapper.ToExecution(req.Symbol),
		Model:      req.Signal.Model,
		Side:       string(req.Signal.Side),
		Entry:      req.Signal.Entry,
		Stop:       req.Signal.Stop,
		Lot:        res.Lot,
		Confidence: req.Signal.Confidence,
		AIScore:    req.Signal.AIScore,
		SessionKey: req.SessionKey,
		Executed:   res.Executed,
		Reason:     res.Reason,
	}
	if g.audit != nil {
		if id, err := g.audit.Append(rec); err != nil {
			observ.Log("audit_append_error", map[string]any{"error": err.Error()})
		} else {
			res.AuditID = id
		}
	}
	observ.IncCounter("gatekeeper_decisions_total", map[string]string{
		"executed": fmt.Sprintf("%t", res.Executed),
		"model":    req.Signal.Model,
	})
	if res.Executed {
		g.notifier.Notify(notify.Event{
			Kind: "trade_executed", Symbol: req.Symbol, Severity: notify.Info,
			Text: fmt.Sprintf("%s %s lot %.2f filled at %.2f", req.Signal.Model, req.Signal.Side, res.Lot, res.FillPrice),
		})
	} else {
		g.notifier.Notify(notify.Event{
			Kind: "trade_rejected", Symbol: req.Symbol, Severity: notify.Warning,
			Text: res.Reason,
		})
	}
	return res
}

func (g *Gatekeeper) admitAndPlace(ctx context.Context, req Request) Result {
	sig := req.Signal
	execSymbol := g.mapper.ToExecution(req.Symbol)

	// Feed health first. A KILLED feed invalidates every later read and
	// latches the process-wide stop until an operator clears it.
	state := g.feed.Refresh(ctx, execSymbol)
	if state.Health.State == broker.Killed {
		g.EmergencyStop()
		return reject("feed killed: " + strings.Join(state.Health.Reasons, "; "))
	}
	// The feed may report a vendor alias; compare through the mapper.
	if state.Quote.Symbol != "" && g.mapper.ToExecution(state.Quote.Symbol) != execSymbol {
		return reject(fmt.Sprintf("feed symbol mismatch: want %s got %s", execSymbol, state.Quote.Symbol))
	}
	if !g.mapper.IsExecutionSupported(req.Symbol) {
		return reject("symbol not supported for execution: " + req.Symbol)
	}

	maxSpread := g.mapper.SpreadLimit(execSymbol)
	adapted, ok, reason := g.adaptation.Assess(execSymbol, sig.Side, sig.Entry, state, maxSpread)
	if !ok {
		return reject("adaptation: " + reason)
	}

	if sig.Side != signal.Buy && sig.Side != signal.Sell {
		return reject("invalid trade side: " + string(sig.Side))
	}

	stats := g.adaptation.Status().Symbols[execSymbol]
	if msg := broker.CheckAnomaly(g.currentLossStreak(), state.Quote.Spread, stats.AvgSlippage); msg != "" {
		return reject(msg)
	}

	if g.EmergencyStopped() {
		return reject("emergency stop engaged")
	}

	if _, active := g.book.get(req.Symbol); active {
		return reject("trade already active on " + req.Symbol)
	}
	if g.book.count() >= maxConcurrentTrades {
		return reject("max concurrent trades reached")
	}

	// The throttle is global: any execution, any symbol, inside the window
	// blocks the next one unless the caller is filling a second slot.
	if !req.AllowConcurrent {
		if last, ok := g.book.lastTradeAt(); ok {
			if since := g.now().Sub(last); since < g.throttle {
				return reject(fmt.Sprintf("trade throttle: %s since last trade", since.Truncate(time.Second)))
			}
		}
	}

	if ok, why := g.riskEngine.Allowed(); !ok {
		if g.riskEngine.DailyLossExceeded() {
			g.EmergencyStop()
		}
		return reject("risk: " + why)
	}

	if sig.Confidence < g.minConfidence {
		return reject(fmt.Sprintf("confidence %.1f below floor %.1f", sig.Confidence, g.minConfidence))
	}

	if ok, why := g.governance.TradeAllowed(sig.Confidence); !ok {
		return reject("governance: " + why)
	}

	if !g.guardian.SpreadAllowed(ctx, maxSpread) {
		return reject("guardian: spread check failed")
	}
	if !g.guardian.NewsClear(ctx, execSymbol) {
		return reject("guardian: news halt active")
	}
	if !g.guardian.VolatilityCalm(ctx) {
		return reject("guardian: volatility spike")
	}

	lot := g.lotSize(sig)
	fill, err := g.backend.ExecuteMarketOrder(ctx, execSymbol, sig.Side, lot, sig.Stop)
	if err != nil {
		return reject("order placement failed: " + err.Error())
	}

	opened := g.now()
	g.book.add(ActiveTrade{
		Symbol:     req.Symbol,
		ExecSymbol: execSymbol,
		Model:      sig.Model,
		Side:       sig.Side,
		Lot:        lot,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		OpenedAt:   opened,
	})
	g.governance.RegisterTrade()
	g.adaptation.RegisterFill(execSymbol, adapted.ExecutionPrice, fill)

	observ.Log("trade_executed", map[string]any{
		"symbol": req.Symbol, "exec_symbol": execSymbol, "model": sig.Model,
		"side": string(sig.Side), "lot": lot, "fill": fill,
	})
	return Result{Executed: true, Lot: lot, FillPrice: fill}
}

// lotSize sizes the position from the current balance, the tighter of the
// phase risk cap and the signal's own risk fraction, and the stop distance
// in points. Never below the venue minimum.
func (g *Gatekeeper) lotSize(sig decision.Ranked) float64 {
	balance := g.riskEngine.Balance()
	riskFrac := g.riskEngine.Rules().RiskPerTrade
	if sigFrac := sig.RiskPercent / 100; sigFrac > 0 && sigFrac < riskFrac {
		riskFrac = sigFrac
	}
	stopPoints := math.Abs(sig.Entry - sig.Stop)
	if stopPoints <= 0 {
		return minLot
	}
	lot := balance * riskFrac / (stopPoints * pointValue)
	lot = math.Floor(lot*100) / 100
	if lot < minLot {
		lot = minLot
	}
	return lot
}

// CloseTrade flattens the active trade on symbol and books the outcome into
// the learning state. result is "win" or "loss"; pnl is the realized amount
// when known, zero otherwise.
func (g *Gatekeeper) CloseTrade(ctx context.Context, symbol, result, sessionKey string, pnl float64) error {
	t, ok := g.book.remove(symbol)
	if !ok {
		return fmt.Errorf("no active trade on %s", symbol)
	}
	if err := g.backend.ClosePosition(ctx, t.ExecSymbol); err != nil {
		// Book the outcome anyway; the venue sync loop reconciles later.
		observ.Log("close_position_error", map[string]any{"symbol": symbol, "error": err.Error()})
	}
	g.MarkTradeClosed(t.Model, symbol, result, sessionKey, pnl)
	return nil
}

// MarkTradeClosed records an outcome without touching the venue. Used when
// the position was closed externally (stop hit, manual intervention).
func (g *Gatekeeper) MarkTradeClosed(model, symbol, result, sessionKey string, pnl float64) {
	g.book.remove(symbol)
	g.perf.Record(model, result)
	if g.learning != nil {
		if err := g.learning.Record(decision.Outcome{
			Model: model, Symbol: symbol, SessionKey: sessionKey, Result: result,
		}); err != nil {
			observ.Log("learning_record_error", map[string]any{"error": err.Error()})
		}
	}
	g.bookPnL(pnl)
	g.mu.Lock()
	if result == "win" || result == "WIN" {
		g.lossStreak = 0
	} else {
		g.lossStreak++
	}
	g.mu.Unlock()
	observ.IncCounter("trades_closed_total", map[string]string{"model": model, "result": result})
}

// bookPnL updates the ledger and pushes the fresh loss totals into the risk
// engine. A new UTC day resets the governance trade counter.
func (g *Gatekeeper) bookPnL(pnl float64) {
	if g.ledger == nil {
		return
	}
	newDay, err := g.ledger.RecordPnL(pnl)
	if err != nil {
		observ.Log("ledger_record_error", map[string]any{"error": err.Error()})
		return
	}
	if newDay {
		g.governance.ResetDay()
	}
	daily, total, _ := g.ledger.Losses()
	g.riskEngine.UpdateLosses(daily, total)
}

// SyncPositions drops book entries the venue no longer shows. Trades that
// vanished are counted as losses for the anomaly streak but not attributed
// to the model, since the exit price is unknown.
func (g *Gatekeeper) SyncPositions(ctx context.Context) {
	for _, t := range g.book.snapshot() {
		open, err := g.backend.HasOpenPosition(ctx, t.ExecSymbol)
		if err != nil {
			continue
		}
		if !open {
			g.book.remove(t.Symbol)
			observ.Log("position_vanished", map[string]any{"symbol": t.Symbol, "model": t.Model})
		}
	}
}

// EmergencyStop blocks all further executions until Resume. Re-engaging an
// already-engaged stop does not re-alert.
func (g *Gatekeeper) EmergencyStop() {
	g.mu.Lock()
	already := g.emergency
	g.emergency = true
	g.mu.Unlock()
	if already {
		return
	}
	observ.Log("emergency_stop", map[string]any{"engaged": true})
	g.notifier.Notify(notify.Event{
		Kind: "emergency_stop", Severity: notify.Critical,
		Text: "emergency stop engaged, all executions blocked",
	})
}

// Resume clears an emergency stop.
func (g *Gatekeeper) Resume() {
	g.mu.Lock()
	g.emergency = false
	g.mu.Unlock()
	observ.Log("emergency_stop", map[string]any{"engaged": false})
	g.notifier.Notify(notify.Event{
		Kind: "emergency_stop", Severity: notify.Info,
		Text: "emergency stop cleared",
	})
}

func (g *Gatekeeper) EmergencyStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergency
}

func (g *Gatekeeper) currentLossStreak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lossStreak
}

// ActiveTrades returns a copy of the open book.
func (g *Gatekeeper) ActiveTrades() []ActiveTrade { return g.book.snapshot() }

// HasActive reports whether symbol has an open trade, and its side.
func (g *Gatekeeper) HasActive(symbol string) (signal.Side, bool) {
	t, ok := g.book.get(symbol)
	return t.Side, ok
}

// OpenCount is the number of trades currently on the book.
func (g *Gatekeeper) OpenCount() int { return g.book.count() }

func reject(reason string) Result { return Result{Reason: reason} }
