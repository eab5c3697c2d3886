package exec

import (
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/signal"
)

// ActiveTrade is one position the gatekeeper opened and still believes is
// live on the venue.
type ActiveTrade struct {
	Symbol     string      `json:"symbol"`
	ExecSymbol string      `json:"exec_symbol"`
	Model      string      `json:"model"`
	Side       signal.Side `json:"side"`
	Lot        float64     `json:"lot"`
	Entry      float64     `json:"entry"`
	Stop       float64     `json:"stop"`
	OpenedAt   time.Time   `json:"opened_at"`
}

// activeBook tracks open trades and the global throttle clock. All state
// shares one mutex so count checks and inserts cannot race.
type activeBook struct {
	mu        sync.Mutex
	trades    map[string]ActiveTrade
	lastTrade time.Time
}

func newActiveBook() *activeBook {
	return &activeBook{
		trades: map[string]ActiveTrade{},
	}
}

func (b *activeBook) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.trades)
}

func (b *activeBook) get(symbol string) (ActiveTrade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trades[symbol]
	return t, ok
}

// lastTradeAt is the time of the most recent execution on any symbol.
func (b *activeBook) lastTradeAt() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTrade, !b.lastTrade.IsZero()
}

// add inserts the trade and stamps the throttle clock.
func (b *activeBook) add(t ActiveTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades[t.Symbol] = t
	b.lastTrade = t.OpenedAt
}

func (b *activeBook) remove(symbol string) (ActiveTrade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trades[symbol]
	if ok {
		delete(b.trades, symbol)
	}
	return t, ok
}

func (b *activeBook) snapshot() []ActiveTrade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ActiveTrade, 0, len(b.trades))
	for _, t := range b.trades {
		out = append(out, t)
	}
	return out
}
