// Package broker tracks the execution venue: quote feed health, per-symbol
// spread/slippage adaptation, and the guardian checks that run right before
// an order is placed.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/observ"
)

// HealthState classifies the feed. KILLED blocks all admission.
type HealthState string

const (
	Healthy  HealthState = "HEALTHY"
	Degraded HealthState = "DEGRADED"
	Killed   HealthState = "KILLED"
)

// Quote is one observed top-of-book pair. Zero bid or ask means the side
// was not readable this poll.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Mid    float64 `json:"mid"`
	Spread float64 `json:"spread"`
}

// Complete reports whether both sides of the book were observed.
func (q Quote) Complete() bool { return q.Bid > 0 && q.Ask > 0 }

// Account is the venue-reported account snapshot.
type Account struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"free_margin"`
	DailyPnL   float64 `json:"daily_pnl"`
	OpenRisk   float64 `json:"open_risk"`
}

// Positions summarizes the venue's open-position view.
type Positions struct {
	OpenCount  int  `json:"open_count"`
	EmptyState bool `json:"empty_state"`
}

// Observation is one raw poll from the execution backend: quote, account,
// positions and the backend's page identity (session URL).
type Observation struct {
	Quote     Quote
	Account   Account
	Positions Positions
	PageID    string
}

// Health is the recomputed feed verdict. Transitions are not debounced: a
// single good read restores HEALTHY.
type Health struct {
	State       HealthState `json:"state"`
	QuoteOK     bool        `json:"quote_ok"`
	PriceFrozen bool        `json:"price_frozen"`
	PageChanged bool        `json:"page_changed"`
	KillSwitch  bool        `json:"kill_switch"`
	Reasons     []string    `json:"reasons"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// FeedState is the full published feed snapshot.
type FeedState struct {
	Quote     Quote     `json:"price"`
	Account   Account   `json:"account"`
	Positions Positions `json:"positions"`
	Health    Health    `json:"health"`
}

// FeedSource is the backend's raw observation surface.
type FeedSource interface {
	Observe(ctx context.Context, symbol string) (Observation, error)
}

// FeedEngine turns raw observations into health verdicts. It remembers the
// last quote pair and page identity across polls to detect freezes and
// session drift.
type FeedEngine struct {
	mu            sync.Mutex
	source        FeedSource
	freezeWindow  time.Duration
	lastBid       float64
	lastAsk       float64
	lastChangeAt  time.Time
	lastPageID    string
	state         FeedState
	now           func() time.Time
	observeBudget time.Duration
}

func NewFeedEngine(source FeedSource, freezeWindow time.Duration) *FeedEngine {
	if freezeWindow < 2*time.Second {
		freezeWindow = 8 * time.Second
	}
	return &FeedEngine{
		source:       source,
		freezeWindow: freezeWindow,
		now:          func() time.Time { return time.Now().UTC() },
		state: FeedState{
			Health: Health{
				State:      Killed,
				KillSwitch: true,
				Reasons:    []string{"feed not initialized"},
			},
		},
		observeBudget: 5 * time.Second,
	}
}

// Refresh polls the source once and recomputes health. It is called from
// the poll loop and synchronously before every execution attempt.
func (e *FeedEngine) Refresh(ctx context.Context, symbol string) FeedState {
	obsCtx, cancel := context.WithTimeout(ctx, e.observeBudget)
	defer cancel()

	obs, err := e.source.Observe(obsCtx, symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	if err != nil {
		e.state.Health = Health{
			State:      Killed,
			KillSwitch: true,
			Reasons:    []string{"feed unavailable: " + err.Error()},
			UpdatedAt:  now,
		}
		observ.IncCounter("broker_feed_errors_total", nil)
		return e.state
	}

	var reasons []string
	quoteOK := obs.Quote.Complete()
	if !quoteOK {
		reasons = append(reasons, "missing bid/ask")
	}

	pageChanged := false
	if e.lastPageID != "" && obs.PageID != "" && obs.PageID != e.lastPageID {
		pageChanged = true
		reasons = append(reasons, "page identity changed")
	}
	if obs.PageID != "" {
		e.lastPageID = obs.PageID
	}

	if obs.Quote.Bid != e.lastBid || obs.Quote.Ask != e.lastAsk {
		e.lastBid = obs.Quote.Bid
		e.lastAsk = obs.Quote.Ask
		e.lastChangeAt = now
	}
	anchor := e.lastChangeAt
	if anchor.IsZero() {
		anchor = now
	}
	priceFrozen := now.Sub(anchor) >= e.freezeWindow
	if priceFrozen {
		reasons = append(reasons, "price feed frozen")
	}

	kill := !quoteOK || priceFrozen || pageChanged
	state := Healthy
	switch {
	case kill:
		state = Killed
	case obs.Account.Balance <= 0:
		// quote is fine but the account panel was unreadable
		state = Degraded
		reasons = append(reasons, "account data unavailable")
	}
	if len(reasons) == 0 {
		reasons = []string{"OK"}
	}

	quote := obs.Quote
	if quote.Complete() {
		quote.Mid = (quote.Bid + quote.Ask) / 2
		quote.Spread = quote.Ask - quote.Bid
		if quote.Spread < 0 {
			quote.Spread = 0
		}
	}

	e.state = FeedState{
		Quote:     quote,
		Account:   obs.Account,
		Positions: obs.Positions,
		Health: Health{
			State:       state,
			QuoteOK:     quoteOK,
			PriceFrozen: priceFrozen,
			PageChanged: pageChanged,
			KillSwitch:  kill,
			Reasons:     reasons,
			UpdatedAt:   now,
		},
	}

	observ.SetGauge("broker_feed_killed", boolGauge(kill), nil)
	return e.state
}

// State returns the last published snapshot without polling.
func (e *FeedEngine) State() FeedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
