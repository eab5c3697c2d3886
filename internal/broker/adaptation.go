package broker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/signal"
)

const emaAlpha = 0.25

// AdaptationLimits configure the instantaneous gates. Zero values take the
// production defaults.
type AdaptationLimits struct {
	MaxDivergencePct    float64 `yaml:"max_divergence_pct"`     // entry vs quote-implied price
	MaxDailyDrawdownPct float64 `yaml:"max_daily_drawdown_pct"` // 1 - equity/balance, in percent
	MaxSlippage         float64 `yaml:"max_slippage"`
}

func (l *AdaptationLimits) setDefaults() {
	if l.MaxDivergencePct <= 0 {
		l.MaxDivergencePct = 0.20
	}
	if l.MaxDailyDrawdownPct <= 0 {
		l.MaxDailyDrawdownPct = 3.0
	}
	if l.MaxSlippage <= 0 {
		l.MaxSlippage = 2.0
	}
}

// SymbolStats are the exponentially smoothed per-symbol observations. They
// exist for observability; only instantaneous values gate admission.
type SymbolStats struct {
	Symbol       string    `json:"symbol"`
	AvgSpread    float64   `json:"avg_spread"`
	AvgSlippage  float64   `json:"avg_slippage"`
	Samples      int       `json:"samples"`
	LastDecision string    `json:"last_decision"`
	LastReason   string    `json:"last_reason"`
	LastUpdate   time.Time `json:"last_update"`
}

// Adapted is the approved execution view of a signal.
type Adapted struct {
	ExecutionPrice float64 `json:"execution_price"`
	BrokerSpread   float64 `json:"broker_spread"`
	DivergencePct  float64 `json:"divergence_pct"`
}

// Adaptation tracks per-symbol venue behavior and gates each attempt on
// quote availability, spread, account drawdown and price divergence.
type Adaptation struct {
	mu      sync.Mutex
	limits  AdaptationLimits
	symbols map[string]*SymbolStats
	now     func() time.Time
}

func NewAdaptation(limits AdaptationLimits) *Adaptation {
	limits.setDefaults()
	return &Adaptation{
		limits:  limits,
		symbols: map[string]*SymbolStats{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adaptation) statsFor(symbol string) *SymbolStats {
	st, ok := a.symbols[symbol]
	if !ok {
		st = &SymbolStats{Symbol: symbol, LastDecision: "INIT", LastReason: "--"}
		a.symbols[symbol] = st
	}
	return st
}

func ema(previous, current float64, seeded bool) float64 {
	if !seeded {
		return current
	}
	return emaAlpha*current + (1-emaAlpha)*previous
}

// Assess gates one execution attempt. On approval it returns the adapted
// execution price (ask for BUY, bid for SELL) with the measured spread and
// divergence.
func (a *Adaptation) Assess(symbol string, side signal.Side, entry float64, feed FeedState, maxSpread float64) (Adapted, bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.statsFor(symbol)
	st.LastUpdate = a.now()

	block := func(reason string) (Adapted, bool, string) {
		st.LastDecision = "BLOCK"
		st.LastReason = reason
		return Adapted{}, false, reason
	}

	quote := feed.Quote
	if !quote.Complete() {
		return block("broker quote unavailable")
	}

	spread := math.Max(0, quote.Ask-quote.Bid)
	st.AvgSpread = ema(st.AvgSpread, spread, st.Samples > 0)

	if maxSpread > 0 && spread > maxSpread {
		return block(fmt.Sprintf("spread anomaly (%.3f > %.3f)", spread, maxSpread))
	}

	acct := feed.Account
	if acct.Balance > 0 && acct.Equity > 0 {
		drawdownPct := math.Max(0, (acct.Balance-acct.Equity)/acct.Balance*100)
		if drawdownPct > a.limits.MaxDailyDrawdownPct {
			return block(fmt.Sprintf("account drawdown high (%.2f%%)", drawdownPct))
		}
	}

	executionPrice := quote.Mid
	switch side {
	case signal.Buy:
		executionPrice = quote.Ask
	case signal.Sell:
		executionPrice = quote.Bid
	}

	divergencePct := 0.0
	if entry > 0 && executionPrice > 0 {
		divergencePct = math.Abs(entry-executionPrice) / executionPrice * 100
		if divergencePct > a.limits.MaxDivergencePct {
			return block(fmt.Sprintf("divergence high (%.3f%%)", divergencePct))
		}
	}

	st.Samples++
	st.LastDecision = "ALLOW"
	st.LastReason = "OK"

	return Adapted{
		ExecutionPrice: executionPrice,
		BrokerSpread:   spread,
		DivergencePct:  divergencePct,
	}, true, ""
}

// RegisterFill feeds the realized slippage of an executed order back into
// the smoothed per-symbol average.
func (a *Adaptation) RegisterFill(symbol string, intended, actual float64) {
	if intended <= 0 || actual <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.statsFor(symbol)
	slippage := math.Abs(actual - intended)
	st.AvgSlippage = ema(st.AvgSlippage, slippage, st.Samples > 1)
	st.LastUpdate = a.now()
}

// Status bundles the per-symbol stats with the configured limits.
type Status struct {
	Limits  AdaptationLimits       `json:"limits"`
	Symbols map[string]SymbolStats `json:"symbols"`
}

// Status returns a copy of the adaptation state for introspection.
func (a *Adaptation) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := Status{Limits: a.limits, Symbols: map[string]SymbolStats{}}
	for sym, st := range a.symbols {
		out.Symbols[sym] = *st
	}
	return out
}
