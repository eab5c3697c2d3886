package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookDeliversAndDedupes(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	defer n.Close()

	ev := Event{Kind: "feed_killed", Symbol: "XAUUSD", Severity: Critical, Text: "price frozen"}
	n.Notify(ev)
	n.Notify(ev) // inside the dedupe window, must not post again
	n.Notify(Event{Kind: "rollover", Symbol: "GC", Text: "GCZ6 active"})

	deadline := time.Now().Add(3 * time.Second)
	for hits.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("want 2 deliveries (duplicate suppressed), got %d", got)
	}
}

func TestWebhookDefaultsSeverity(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	defer n.Close()
	n.Notify(Event{Kind: "startup", Text: "trader started"})

	select {
	case body := <-received:
		if !strings.Contains(string(body), `"severity":"INFO"`) {
			t.Fatalf("unset severity must default to INFO, got %s", body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}
