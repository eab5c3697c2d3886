package risk

import (
	"fmt"
	"sync"
)

// Governance enforces the daily trade cap and the global confidence floor.
// The counter is incremented only for trades that actually executed.
type Governance struct {
	mu            sync.Mutex
	maxTradesDay  int
	minConfidence float64
	tradesToday   int
}

func NewGovernance(maxTradesPerDay int, minConfidence float64) *Governance {
	if maxTradesPerDay <= 0 {
		maxTradesPerDay = 5
	}
	if minConfidence <= 0 {
		minConfidence = 55
	}
	return &Governance{maxTradesDay: maxTradesPerDay, minConfidence: minConfidence}
}

// TradeAllowed checks the daily cap and confidence floor.
func (g *Governance) TradeAllowed(confidence float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tradesToday >= g.maxTradesDay {
		return false, fmt.Sprintf("max daily trades reached (%d)", g.maxTradesDay)
	}
	if confidence < g.minConfidence {
		return false, fmt.Sprintf("confidence %.1f below floor %.1f", confidence, g.minConfidence)
	}
	return true, ""
}

// RegisterTrade records one executed trade against the daily cap.
func (g *Governance) RegisterTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradesToday++
}

// ResetDay clears the daily counter at the day boundary.
func (g *Governance) ResetDay() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradesToday = 0
}

// TradesToday reports the current count for status snapshots.
func (g *Governance) TradesToday() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tradesToday
}
