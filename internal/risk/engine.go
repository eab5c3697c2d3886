package risk

import (
	"fmt"
	"sync"
)

// Phase is a prop-firm account stage; each stage carries its own loss and
// sizing percentages.
type Phase string

const (
	Phase1 Phase = "PHASE_1"
	Phase2 Phase = "PHASE_2"
	Funded Phase = "FUNDED"
)

// PhaseRules are the percentage limits for one phase, as fractions of the
// starting balance.
type PhaseRules struct {
	Target       float64 `yaml:"target"`
	DailyLoss    float64 `yaml:"daily_loss"`
	MaxLoss      float64 `yaml:"max_loss"`
	RiskPerTrade float64 `yaml:"risk_per_trade"`
}

func defaultPhaseRules() map[Phase]PhaseRules {
	return map[Phase]PhaseRules{
		Phase1: {Target: 0.08, DailyLoss: 0.03, MaxLoss: 0.08, RiskPerTrade: 0.003},
		Phase2: {Target: 0.05, DailyLoss: 0.03, MaxLoss: 0.08, RiskPerTrade: 0.0025},
		Funded: {Target: 0, DailyLoss: 0.02, MaxLoss: 0.06, RiskPerTrade: 0.002},
	}
}

// defaultSizingCap is the admission ceiling on a single signal's risk as a
// fraction of balance. Looser than the phase risk-per-trade, which only
// shrinks the lot; a signal asking for more than this is rejected outright.
const defaultSizingCap = 0.005

// Engine tracks account balance and losses against the phase rules. It is
// read from the scheduler and the gatekeeper concurrently.
type Engine struct {
	mu             sync.RWMutex
	phase          Phase
	rules          map[Phase]PhaseRules
	startBalance   float64
	currentBalance float64
	sizingCap      float64
	dailyLoss      float64 // negative when losing, matching broker daily P&L
}

func NewEngine(startBalance float64) *Engine {
	if startBalance <= 0 {
		startBalance = 50000
	}
	return &Engine{
		phase:          Phase1,
		rules:          defaultPhaseRules(),
		startBalance:   startBalance,
		currentBalance: startBalance,
		sizingCap:      defaultSizingCap,
	}
}

// SetSizingCap overrides the per-trade risk ceiling; non-positive values are
// ignored.
func (e *Engine) SetSizingCap(fraction float64) {
	if fraction <= 0 {
		return
	}
	e.mu.Lock()
	e.sizingCap = fraction
	e.mu.Unlock()
}

// SetPhase switches the active phase; unknown phases are rejected.
func (e *Engine) SetPhase(phase Phase) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[phase]; !ok {
		return fmt.Errorf("unknown phase %q", phase)
	}
	e.phase = phase
	return nil
}

// Rules returns the limits for the active phase.
func (e *Engine) Rules() PhaseRules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules[e.phase]
}

// Phase returns the active phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// UpdateLosses records the broker-reported daily and total P&L. totalLoss
// is negative when the account is under water.
func (e *Engine) UpdateLosses(dailyLoss, totalLoss float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyLoss = dailyLoss
	e.currentBalance = e.startBalance + totalLoss
}

// Allowed checks the phase loss limits; the reason names the first limit
// that tripped.
func (e *Engine) Allowed() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule := e.rules[e.phase]

	if e.dailyLoss <= -(e.startBalance * rule.DailyLoss) {
		return false, "daily loss limit hit"
	}
	if (e.startBalance - e.currentBalance) >= e.startBalance*rule.MaxLoss {
		return false, "max loss limit hit"
	}
	return true, ""
}

// DailyLossExceeded reports whether the daily loss limit is breached; the
// gatekeeper escalates this to an emergency stop.
func (e *Engine) DailyLossExceeded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule := e.rules[e.phase]
	return e.dailyLoss <= -(e.startBalance * rule.DailyLoss)
}

// Balance returns the current balance.
func (e *Engine) Balance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentBalance
}

// Snapshot assembles the read-only account view for admission, given the
// number of currently committed symbols.
func (e *Engine) Snapshot(openTrades int) AccountSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule := e.rules[e.phase]

	dailyLossAbs := 0.0
	if e.dailyLoss < 0 {
		dailyLossAbs = -e.dailyLoss
	}
	overallLossAbs := e.startBalance - e.currentBalance
	if overallLossAbs < 0 {
		overallLossAbs = 0
	}

	return AccountSnapshot{
		Balance:     e.currentBalance,
		DailyLoss:   dailyLossAbs,
		DailyLimit:  e.startBalance * rule.DailyLoss,
		OverallLoss: overallLossAbs,
		MaxLimit:    e.startBalance * rule.MaxLoss,
		MaxPerTrade: e.currentBalance * e.sizingCap,
		OpenTrades:  openTrades,
	}
}
