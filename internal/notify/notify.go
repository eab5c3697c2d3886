// Package notify delivers operational events (executions, feed kills,
// emergency stops, contract rolls) to a webhook. Delivery is best effort:
// a full queue drops, a dead endpoint retries with backoff, and nothing in
// the trade path ever blocks on it.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/observ"
)

// Severity orders events for queue-pressure decisions. Critical events are
// never dropped in favor of info ones.
type Severity string

const (
	Info     Severity = "INFO"
	Warning  Severity = "WARNING"
	Critical Severity = "CRITICAL"
)

// Event is one notification.
type Event struct {
	Kind     string         `json:"kind"`
	Symbol   string         `json:"symbol,omitempty"`
	Severity Severity       `json:"severity"`
	Text     string         `json:"text"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Notifier is the surface the rest of the system sees.
type Notifier interface {
	Notify(ev Event)
}

// LogNotifier writes events to the structured log. The default when no
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ev Event) {
	observ.Log("notification", map[string]any{
		"kind": ev.Kind, "symbol": ev.Symbol, "severity": string(ev.Severity), "text": ev.Text,
	})
}

const (
	dedupeWindow = 60 * time.Second
	queueDepth   = 1000
	maxAttempts  = 5
)

type queued struct {
	ev        Event
	attempts  int
	nextRetry time.Time
}

// WebhookNotifier posts JSON events to an HTTP endpoint from a background
// worker. Duplicate events inside the dedupe window are skipped.
type WebhookNotifier struct {
	url    string
	client *http.Client
	queue  chan queued
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	dedupe map[string]time.Time
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan queued, queueDepth),
		cancel: cancel,
		done:   make(chan struct{}),
		dedupe: map[string]time.Time{},
	}
	go n.worker(ctx)
	return n
}

func (n *WebhookNotifier) Notify(ev Event) {
	if ev.Severity == "" {
		ev.Severity = Info
	}

	hash := eventHash(ev)
	n.mu.Lock()
	if last, ok := n.dedupe[hash]; ok && time.Since(last) < dedupeWindow {
		n.mu.Unlock()
		return
	}
	n.dedupe[hash] = time.Now()
	if len(n.dedupe) > 4096 {
		cutoff := time.Now().Add(-dedupeWindow)
		for k, t := range n.dedupe {
			if t.Before(cutoff) {
				delete(n.dedupe, k)
			}
		}
	}
	n.mu.Unlock()

	select {
	case n.queue <- queued{ev: ev, nextRetry: time.Now()}:
	default:
		n.dropForRoom(queued{ev: ev, nextRetry: time.Now()})
	}
}

// dropForRoom drains one queued event to make room. A critical event in
// the queue wins over an incoming non-critical one.
func (n *WebhookNotifier) dropForRoom(incoming queued) {
	select {
	case old := <-n.queue:
		keep := incoming
		if old.ev.Severity == Critical && incoming.ev.Severity != Critical {
			keep = old
		}
		select {
		case n.queue <- keep:
		default:
		}
		observ.IncCounter("notify_dropped_total", map[string]string{})
	default:
		observ.IncCounter("notify_dropped_total", map[string]string{})
	}
}

func (n *WebhookNotifier) worker(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-n.queue:
			if wait := time.Until(q.nextRetry); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			if err := n.post(ctx, q.ev); err != nil {
				observ.IncCounter("notify_errors_total", map[string]string{})
				q.attempts++
				if q.attempts < maxAttempts {
					backoff := time.Duration(math.Pow(2, float64(q.attempts))) * time.Second
					q.nextRetry = time.Now().Add(backoff)
					select {
					case n.queue <- q:
					default:
					}
				}
				continue
			}
			observ.IncCounter("notify_sent_total", map[string]string{"kind": q.ev.Kind})
		}
	}
}

func (n *WebhookNotifier) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the worker. Queued events are abandoned.
func (n *WebhookNotifier) Close() {
	n.cancel()
	<-n.done
}

func eventHash(ev Event) string {
	sum := sha256.Sum256([]byte(ev.Kind + ":" + ev.Symbol + ":" + ev.Text))
	return fmt.Sprintf("%x", sum)[:16]
}
