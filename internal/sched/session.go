package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/signal"
)

// SessionKey buckets a UTC instant into one trading session per day.
// Asia runs to 08:00, London to 16:00, New York the rest.
func SessionKey(now time.Time) string {
	now = now.UTC()
	var name string
	switch {
	case now.Hour() < 8:
		name = "ASIA"
	case now.Hour() < 16:
		name = "LONDON"
	default:
		name = "NY"
	}
	return fmt.Sprintf("%s:%s", now.Format("2006-01-02"), name)
}

// defaultSessionCaps limit how many trades each model may open within one
// session. Models with wider stops get fewer slots.
func defaultSessionCaps() map[string]int {
	return map[string]int{
		signal.ModelLiquidity:  2,
		signal.ModelAbsorption: 2,
		signal.ModelCycle:      1,
		signal.ModelNews:       1,
		signal.ModelExpansion:  2,
	}
}

// sessionBook counts executed trades per session key and model. Old
// sessions are pruned lazily on rollover to a new key.
type sessionBook struct {
	mu     sync.Mutex
	caps   map[string]int
	counts map[string]map[string]int // session key -> model -> executed
}

func newSessionBook(caps map[string]int) *sessionBook {
	if len(caps) == 0 {
		caps = defaultSessionCaps()
	}
	return &sessionBook{caps: caps, counts: map[string]map[string]int{}}
}

// allowed reports whether model still has a slot in the session.
func (b *sessionBook) allowed(sessionKey, model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cap, ok := b.caps[model]
	if !ok {
		return true
	}
	return b.counts[sessionKey][model] < cap
}

// record books one executed trade against the session.
func (b *sessionBook) record(sessionKey, model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.counts) > 8 {
		for k := range b.counts {
			if k != sessionKey {
				delete(b.counts, k)
			}
		}
	}
	m, ok := b.counts[sessionKey]
	if !ok {
		m = map[string]int{}
		b.counts[sessionKey] = m
	}
	m[model]++
}

func (b *sessionBook) used(sessionKey, model string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[sessionKey][model]
}
