// Package risk holds the layered admission chain, the governance counters
// and the prop-phase account limits. Admission is a pure predicate chain:
// the only state it ever mutates is the governance trade counter, and only
// after an execution actually happened.
package risk

import (
	"fmt"

	"github.com/futurekit/tradecore/internal/decision"
)

// AccountSnapshot is a read-only view of account state, built fresh for
// every admission check.
type AccountSnapshot struct {
	Balance     float64
	DailyLoss   float64
	DailyLimit  float64
	OverallLoss float64
	MaxLimit    float64
	MaxPerTrade float64
	OpenTrades  int
}

// MaxConcurrentTrades caps simultaneously committed symbols.
const MaxConcurrentTrades = 2

// Gate is one independent admission predicate. Gates are evaluated in order
// and the chain short-circuits on the first rejection.
type Gate interface {
	Name() string
	Check(sig decision.Ranked, acct AccountSnapshot) (bool, string)
}

// CapacityGate rejects when the concurrent-trade capacity is exhausted.
type CapacityGate struct{}

func (CapacityGate) Name() string { return "capacity" }

func (CapacityGate) Check(_ decision.Ranked, acct AccountSnapshot) (bool, string) {
	if acct.OpenTrades >= MaxConcurrentTrades {
		return false, fmt.Sprintf("open trades at capacity (%d)", acct.OpenTrades)
	}
	return true, ""
}

// DailyLossGate rejects once the daily loss limit is reached.
type DailyLossGate struct{}

func (DailyLossGate) Name() string { return "daily_loss" }

func (DailyLossGate) Check(_ decision.Ranked, acct AccountSnapshot) (bool, string) {
	if acct.DailyLoss >= acct.DailyLimit {
		return false, fmt.Sprintf("daily loss %.2f at limit %.2f", acct.DailyLoss, acct.DailyLimit)
	}
	return true, ""
}

// OverallLossGate rejects once the max-loss limit is reached.
type OverallLossGate struct{}

func (OverallLossGate) Name() string { return "overall_loss" }

func (OverallLossGate) Check(_ decision.Ranked, acct AccountSnapshot) (bool, string) {
	if acct.OverallLoss >= acct.MaxLimit {
		return false, fmt.Sprintf("overall loss %.2f at limit %.2f", acct.OverallLoss, acct.MaxLimit)
	}
	return true, ""
}

// SizingGate rejects when the signal's risk fraction of balance exceeds the
// per-trade cap.
type SizingGate struct{}

func (SizingGate) Name() string { return "sizing" }

func (SizingGate) Check(sig decision.Ranked, acct AccountSnapshot) (bool, string) {
	riskAmount := acct.Balance * (sig.RiskPercent / 100)
	if riskAmount > acct.MaxPerTrade {
		return false, fmt.Sprintf("risk amount %.2f exceeds per-trade cap %.2f", riskAmount, acct.MaxPerTrade)
	}
	return true, ""
}

// GovernanceGate defers to the governance engine's daily cap and confidence
// floor.
type GovernanceGate struct {
	Governance *Governance
}

func (GovernanceGate) Name() string { return "governance" }

func (g GovernanceGate) Check(sig decision.Ranked, _ AccountSnapshot) (bool, string) {
	return g.Governance.TradeAllowed(sig.Confidence)
}

// Chain is the ordered admission pipeline.
type Chain struct {
	gates []Gate
}

// NewChain builds the standard admission order: capacity, loss limits,
// sizing, governance.
func NewChain(gov *Governance) *Chain {
	return &Chain{gates: []Gate{
		CapacityGate{},
		DailyLossGate{},
		OverallLossGate{},
		SizingGate{},
		GovernanceGate{Governance: gov},
	}}
}

// Admit runs the chain, short-circuiting on the first failing gate. The
// returned reason is "gate: detail" for rejections and empty on approval.
func (c *Chain) Admit(sig decision.Ranked, acct AccountSnapshot) (bool, string) {
	for _, gate := range c.gates {
		ok, detail := gate.Check(sig, acct)
		if !ok {
			return false, fmt.Sprintf("%s: %s", gate.Name(), detail)
		}
	}
	return true, ""
}
