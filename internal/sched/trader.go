// Package sched runs the periodic multi-instrument scan: fetch bars, build
// features, rank candidates across the whole universe and hand the winners
// to the execution gatekeeper.
package sched

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/decision"
	"github.com/futurekit/tradecore/internal/exec"
	"github.com/futurekit/tradecore/internal/features"
	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/notify"
	"github.com/futurekit/tradecore/internal/observ"
	"github.com/futurekit/tradecore/internal/risk"
	"github.com/futurekit/tradecore/internal/rollover"
	"github.com/futurekit/tradecore/internal/signal"
	"github.com/futurekit/tradecore/internal/symbols"
)

const (
	defaultScanInterval = 30 * time.Second

	// rolloverRiskFactor shrinks position risk and rolloverStopFactor
	// widens stops while a contract roll is in progress or imminent.
	rolloverRiskFactor = 0.75
	rolloverStopFactor = 1.15

	// maxScoreGapRatio bounds how far behind the cycle leader a second
	// candidate may score and still take the remaining slot.
	maxScoreGapRatio = 0.08

	// futuresWindowMinutes is the continuous-series window for futures
	// roots; plain symbols use the fetcher's own fallback ladder.
	futuresWindowMinutes = 240
)

// Analyzer supplies the upstream market-structure read for one symbol.
// Implementations wrap whatever analytics feed is available; the trader
// only needs the fused view.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string, bars []market.Bar) (features.Analysis, error)
}

// Deps bundles the trader's collaborators.
type Deps struct {
	Universe   []symbols.TradeProfile
	Rules      map[string]symbols.PriorityRule
	Fetcher    *market.Fetcher
	BrokerData *market.Fetcher // optional; enables basis estimation
	Rollover   *rollover.Manager
	Staleness  *symbols.StalenessLimits
	Mapper     *symbols.Mapper
	Registry   *signal.Registry
	Decision   *decision.Engine
	RiskEngine *risk.Engine
	Admission  *risk.Chain
	Gatekeeper *exec.Gatekeeper
	Analyzer   Analyzer
	Notify     notify.Notifier
}

// Options tunes loop behavior. Zero values take defaults.
type Options struct {
	ScanInterval time.Duration
	SessionCaps  map[string]int
}

// Trader is the scan loop. Start and Stop are idempotent.
type Trader struct {
	deps     Deps
	interval time.Duration
	sessions *sessionBook
	basis    *basisEstimator
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewTrader(deps Deps, opts Options) *Trader {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if deps.Notify == nil {
		deps.Notify = notify.LogNotifier{}
	}
	return &Trader{
		deps:     deps,
		interval: opts.ScanInterval,
		sessions: newSessionBook(opts.SessionCaps),
		basis:    newBasisEstimator(deps.BrokerData),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the scan loop. A second Start while running is a no-op.
func (t *Trader) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		t.ScanCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.ScanCycle(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()
	cancel()
	<-done
}

// slotCandidate is one symbol's best ranked signal for this cycle.
type slotCandidate struct {
	profile symbols.TradeProfile
	ranked  decision.Ranked
}

// ScanCycle evaluates every profile once and executes the winners. Exported
// so tests and the replay tool can drive cycles directly.
func (t *Trader) ScanCycle(ctx context.Context) {
	start := t.now()
	sessionKey := SessionKey(start)

	var eligible []slotCandidate
	for _, profile := range t.deps.Universe {
		cand, ok := t.evaluateProfile(ctx, profile, sessionKey)
		if ok {
			eligible = append(eligible, slotCandidate{profile: profile, ranked: cand})
		}
	}

	t.allocateSlots(ctx, eligible, sessionKey)

	observ.RecordDuration("scan_cycle", t.now().Sub(start), nil)
}

// evaluateProfile runs one symbol through the pipeline. A panic in any
// collaborator is contained to this profile so one bad symbol cannot stall
// the universe.
func (t *Trader) evaluateProfile(ctx context.Context, profile symbols.TradeProfile, sessionKey string) (ranked decision.Ranked, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			observ.Log("scan_panic", map[string]any{"symbol": profile.DataSymbol, "panic": r})
			observ.IncCounter("scan_panics_total", map[string]string{"symbol": profile.DataSymbol})
			ok = false
		}
	}()

	dataSymbol := profile.DataSymbol

	var bars []market.Bar
	var status rollover.Status
	if symbols.IsFutures(dataSymbol) {
		status = t.deps.Rollover.GetStatus(ctx, dataSymbol)
		series := t.deps.Rollover.ContinuousOHLCV(ctx, dataSymbol, futuresWindowMinutes)
		bars = series.Bars
	} else {
		bars = t.deps.Fetcher.Resolve(ctx, dataSymbol)
	}
	if len(bars) == 0 {
		observ.IncCounter("scan_skips_total", map[string]string{"symbol": dataSymbol, "reason": "no_data"})
		return decision.Ranked{}, false
	}
	if market.IsStale(bars, t.now(), t.deps.Staleness.LimitFor(dataSymbol)) {
		observ.IncCounter("scan_skips_total", map[string]string{"symbol": dataSymbol, "reason": "stale"})
		return decision.Ranked{}, false
	}

	analysis, err := t.deps.Analyzer.Analyze(ctx, dataSymbol, bars)
	if err != nil {
		observ.Log("analyzer_error", map[string]any{"symbol": dataSymbol, "error": err.Error()})
		return decision.Ranked{}, false
	}
	if analysis.TradeHalt {
		observ.IncCounter("scan_skips_total", map[string]string{"symbol": dataSymbol, "reason": "news_halt"})
		return decision.Ranked{}, false
	}

	maxSpread := t.deps.Mapper.SpreadLimit(profile.BrokerSymbol)
	payload, ok := features.Build(bars, analysis, maxSpread)
	if !ok {
		return decision.Ranked{}, false
	}

	candidates := t.deps.Registry.Evaluate(payload)
	if len(candidates) == 0 {
		return decision.Ranked{}, false
	}

	// Reversal beats entry: an opposing fresh signal closes the active
	// trade and the cycle moves on. The loss is booked against the model
	// holding the position, not the one calling the reversal.
	if activeSide, active := t.deps.Gatekeeper.HasActive(profile.BrokerSymbol); active {
		if exit, should := signal.EvaluateExit(candidates, activeSide); should {
			observ.Log("reversal_exit", map[string]any{
				"symbol": profile.BrokerSymbol, "trigger_model": exit.Model, "reason": exit.Reason,
			})
			if err := t.deps.Gatekeeper.CloseTrade(ctx, profile.BrokerSymbol, "loss", sessionKey, 0); err != nil {
				observ.Log("reversal_close_error", map[string]any{"symbol": profile.BrokerSymbol, "error": err.Error()})
			}
			t.deps.Notify.Notify(notify.Event{
				Kind: "reversal_exit", Symbol: profile.BrokerSymbol, Severity: notify.Warning,
				Text: fmt.Sprintf("%s reversal closed the open %s position", exit.Model, activeSide),
			})
		}
		return decision.Ranked{}, false
	}

	best, ok := t.deps.Decision.Evaluate(candidates)
	if !ok {
		return decision.Ranked{}, false
	}

	rule, hasRule := t.deps.Rules[profile.Priority]
	if hasRule && best.Confidence < rule.MinConfidence {
		observ.IncCounter("scan_skips_total", map[string]string{"symbol": dataSymbol, "reason": "priority_floor"})
		return decision.Ranked{}, false
	}

	if !t.sessions.allowed(sessionKey, best.Model) {
		observ.IncCounter("scan_skips_total", map[string]string{"symbol": dataSymbol, "reason": "session_cap"})
		return decision.Ranked{}, false
	}

	if status.Risky() {
		if status.RolloverDetected {
			t.deps.Notify.Notify(notify.Event{
				Kind: "rollover_detected", Symbol: dataSymbol, Severity: notify.Warning,
				Text: fmt.Sprintf("front %s rolling to %s", status.FrontContract, status.NextContract),
			})
		}
		best = applyRolloverModifier(best)
	}

	if basis := t.basis.Estimate(ctx, profile.BrokerSymbol, bars); basis != 0 {
		best.Entry -= basis
		best.Stop -= basis
	}

	// Admission closes the per-profile pipeline: anything that reaches slot
	// allocation has already cleared the account-level gates.
	acct := t.deps.RiskEngine.Snapshot(t.deps.Gatekeeper.OpenCount())
	if ok, reason := t.deps.Admission.Admit(best, acct); !ok {
		observ.Log("admission_rejected", map[string]any{
			"symbol": profile.BrokerSymbol, "model": best.Model, "reason": reason,
		})
		t.deps.Notify.Notify(notify.Event{
			Kind: "admission_rejected", Symbol: profile.BrokerSymbol,
			Severity: notify.Warning, Text: reason,
		})
		return decision.Ranked{}, false
	}

	return best, true
}

// applyRolloverModifier shrinks risk and widens the stop while the front
// contract is rolling. The stop moves away from entry along the trade side.
func applyRolloverModifier(r decision.Ranked) decision.Ranked {
	r.RiskPercent *= rolloverRiskFactor
	dist := math.Abs(r.Entry-r.Stop) * rolloverStopFactor
	if r.Side == signal.Buy {
		r.Stop = r.Entry - dist
	} else {
		r.Stop = r.Entry + dist
	}
	return r
}

// allocateSlots picks which eligible candidates trade this cycle. The top
// scorer always gets a slot if capacity remains; the runner-up only joins
// when it agrees on direction and scores within the gap ratio of the top.
func (t *Trader) allocateSlots(ctx context.Context, eligible []slotCandidate, sessionKey string) {
	if len(eligible) == 0 {
		return
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].ranked.AIScore > eligible[j].ranked.AIScore
	})

	var chosen []slotCandidate
	chosen = append(chosen, eligible[0])
	if len(eligible) > 1 {
		top, second := eligible[0].ranked, eligible[1].ranked
		if top.AIScore > 0 && second.Side == top.Side {
			gap := (top.AIScore - second.AIScore) / top.AIScore
			if gap <= maxScoreGapRatio {
				chosen = append(chosen, eligible[1])
			}
		}
	}

	// Only a candidate following an actual fill bypasses the global trade
	// throttle; if the leader is rejected, the runner-up is the cycle's
	// first execution and the throttle applies in full.
	executed := 0
	for _, c := range chosen {
		res := t.deps.Gatekeeper.Execute(ctx, exec.Request{
			Signal:          c.ranked,
			Symbol:          c.profile.BrokerSymbol,
			SessionKey:      sessionKey,
			AllowConcurrent: executed > 0,
		})
		if res.Executed {
			executed++
			t.sessions.record(sessionKey, c.ranked.Model)
		} else {
			observ.Log("execution_rejected", map[string]any{
				"symbol": c.profile.BrokerSymbol, "model": c.ranked.Model, "reason": res.Reason,
			})
		}
	}
}
