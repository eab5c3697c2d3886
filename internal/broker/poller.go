package broker

import (
	"context"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/observ"
)

// Snapshot is one retained feed state with its capture source, kept in a
// bounded ring for introspection.
type Snapshot struct {
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
	State      FeedState `json:"state"`
}

// Poller refreshes the feed engine on a fixed interval and keeps the recent
// snapshot ring. Start/Stop are idempotent; an in-flight refresh completes
// after Stop.
type Poller struct {
	engine   *FeedEngine
	interval time.Duration
	symbolFn func() string // preferred symbol to observe, usually the active one

	mu      sync.Mutex
	recent  []Snapshot
	maxKeep int
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(engine *FeedEngine, interval time.Duration, symbolFn func() string) *Poller {
	if interval < 300*time.Millisecond {
		interval = time.Second
	}
	if symbolFn == nil {
		symbolFn = func() string { return "XAUUSD" }
	}
	return &Poller{
		engine:   engine,
		interval: interval,
		symbolFn: symbolFn,
		maxKeep:  80,
	}
}

// Start launches the poll loop; calling it twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				state := p.engine.Refresh(loopCtx, p.symbolFn())
				p.Record("loop", state)
				observ.IncCounter("broker_feed_polls_total", nil)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Record appends a snapshot to the bounded ring.
func (p *Poller) Record(source string, state FeedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, Snapshot{
		Source:     source,
		CapturedAt: time.Now().UTC(),
		State:      state,
	})
	if len(p.recent) > p.maxKeep {
		p.recent = p.recent[len(p.recent)-p.maxKeep:]
	}
}

// Recent returns up to limit newest snapshots, oldest first.
func (p *Poller) Recent(limit int) []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.recent) {
		limit = len(p.recent)
	}
	out := make([]Snapshot, limit)
	copy(out, p.recent[len(p.recent)-limit:])
	return out
}
