// Package transport exposes the read-only admin HTTP surface: feed health,
// rollover state, adaptation stats, open trades and metrics. It never
// mutates trading state except for the explicit emergency-stop endpoints.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/exec"
	"github.com/futurekit/tradecore/internal/observ"
	"github.com/futurekit/tradecore/internal/rollover"
	"github.com/futurekit/tradecore/internal/symbols"
)

// AdminServer serves operational introspection endpoints.
type AdminServer struct {
	feed       *broker.FeedEngine
	poller     *broker.Poller
	adaptation *broker.Adaptation
	rollover   *rollover.Manager
	gatekeeper *exec.Gatekeeper
	universe   []symbols.TradeProfile

	srv *http.Server
}

func NewAdminServer(addr string, feed *broker.FeedEngine, poller *broker.Poller, adaptation *broker.Adaptation, roll *rollover.Manager, gk *exec.Gatekeeper, universe []symbols.TradeProfile) *AdminServer {
	a := &AdminServer{
		feed:       feed,
		poller:     poller,
		adaptation: adaptation,
		rollover:   roll,
		gatekeeper: gk,
		universe:   universe,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/feed/status", a.handleFeedStatus)
	mux.HandleFunc("/feed/snapshots", a.handleFeedSnapshots)
	mux.HandleFunc("/rollover/status", a.handleRolloverStatus)
	mux.HandleFunc("/rollover/history", a.handleRolloverHistory)
	mux.HandleFunc("/adaptation/status", a.handleAdaptation)
	mux.HandleFunc("/trades/active", a.handleActiveTrades)
	mux.HandleFunc("/emergency/stop", a.handleEmergencyStop)
	mux.HandleFunc("/emergency/resume", a.handleEmergencyResume)
	mux.Handle("/metrics", observ.Handler())

	a.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return a
}

// Start serves until the listener fails or Shutdown is called.
func (a *AdminServer) Start() error {
	observ.Log("admin_listening", map[string]any{"addr": a.srv.Addr})
	err := a.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state := a.feed.State()
	status := http.StatusOK
	if state.Health.State == broker.Killed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"feed":           state.Health.State,
		"open_trades":    a.gatekeeper.OpenCount(),
		"emergency_stop": a.gatekeeper.EmergencyStopped(),
	})
}

func (a *AdminServer) handleFeedStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.feed.State())
}

func (a *AdminServer) handleFeedSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.poller.Recent(20))
}

// handleRolloverStatus answers for one ?symbol= or the whole futures
// universe when none is given.
func (a *AdminServer) handleRolloverStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		writeJSON(w, http.StatusOK, a.rollover.GetStatus(ctx, sym))
		return
	}
	out := map[string]rollover.Status{}
	for _, p := range a.universe {
		if symbols.IsFutures(p.DataSymbol) {
			out[p.DataSymbol] = a.rollover.GetStatus(ctx, p.DataSymbol)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminServer) handleRolloverHistory(w http.ResponseWriter, r *http.Request) {
	sym := r.URL.Query().Get("symbol")
	if sym == "" {
		http.Error(w, "symbol query parameter required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, a.rollover.History(sym))
}

func (a *AdminServer) handleAdaptation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.adaptation.Status())
}

func (a *AdminServer) handleActiveTrades(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.gatekeeper.ActiveTrades())
}

func (a *AdminServer) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	a.gatekeeper.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]any{"emergency_stop": true})
}

func (a *AdminServer) handleEmergencyResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	a.gatekeeper.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"emergency_stop": false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
