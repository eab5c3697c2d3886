package main

import (
	"context"
	"flag"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/futurekit/tradecore/internal/adapters"
	"github.com/futurekit/tradecore/internal/broker"
	"github.com/futurekit/tradecore/internal/config"
	"github.com/futurekit/tradecore/internal/decision"
	"github.com/futurekit/tradecore/internal/exec"
	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/notify"
	"github.com/futurekit/tradecore/internal/observ"
	"github.com/futurekit/tradecore/internal/outbox"
	"github.com/futurekit/tradecore/internal/portfolio"
	"github.com/futurekit/tradecore/internal/risk"
	"github.com/futurekit/tradecore/internal/rollover"
	"github.com/futurekit/tradecore/internal/sched"
	"github.com/futurekit/tradecore/internal/signal"
	"github.com/futurekit/tradecore/internal/symbols"
	"github.com/futurekit/tradecore/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to YAML config")
		paper      = flag.Bool("paper", true, "use simulated data and execution")
		vendorURL  = flag.String("vendor-url", "", "OHLCV vendor base URL (live mode)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	observ.Log("starting", map[string]any{"paper": *paper, "phase": cfg.Risk.Phase})

	// Data side. Paper mode runs entirely against the simulator.
	sim := adapters.NewSimEngine(time.Now().UnixNano())
	var dataEngine market.DataEngine = sim
	if !*paper {
		base := *vendorURL
		if base == "" {
			base = os.Getenv("TRADECORE_VENDOR_URL")
		}
		vendor, err := adapters.NewVendorEngine(adapters.VendorConfig{
			BaseURL:        base,
			APIKey:         os.Getenv("TRADECORE_VENDOR_KEY"),
			TimeoutSeconds: cfg.Data.TimeoutSecs,
		})
		if err != nil {
			log.Fatalf("vendor: %v", err)
		}
		dataEngine = adapters.NewCachedEngine(vendor, 20*time.Second, 3*time.Minute)
	}
	fetcher := market.NewFetcher(dataEngine, market.FetchConfig{
		Timeout:         cfg.Data.Timeout(),
		FallbackMinutes: cfg.Data.FallbackMinutes,
		RatePerSecond:   cfg.Data.RatePerSecond,
		Burst:           cfg.Data.Burst,
	})

	// Symbol universe and overrides.
	mapper := symbols.NewMapper(cfg.Feed.DefaultSymbol)
	mapper.ApplyExecMapOverride(cfg.Symbols.ExecMapOverride)
	mapper.ApplySpreadOverride(cfg.Symbols.SpreadOverride)
	staleness := symbols.NewStalenessLimits(cfg.Scheduler.StalenessOverride)

	// Rollover tracking.
	eventLog, err := rollover.OpenEventLog(cfg.Rollover.EventLogPath)
	if err != nil {
		log.Fatalf("rollover event log: %v", err)
	}
	rolloverMgr := rollover.NewManager(fetcher, eventLog, cfg.Rollover.ConfirmDays)
	rolloverMgr.ApplyChainOverride(cfg.Rollover.ChainOverride)

	// Risk state.
	riskEngine := risk.NewEngine(cfg.Risk.StartBalance)
	if err := riskEngine.SetPhase(risk.Phase(cfg.Risk.Phase)); err != nil {
		log.Fatalf("risk phase: %v", err)
	}
	riskEngine.SetSizingCap(cfg.Risk.MaxRiskPerTrade)
	governance := risk.NewGovernance(cfg.Risk.MaxTradesPerDay, cfg.Risk.MinConfidence)
	admission := risk.NewChain(governance)

	ledger, err := portfolio.OpenLedger("data/pnl.json")
	if err != nil {
		log.Fatalf("pnl ledger: %v", err)
	}
	daily, total, _ := ledger.Losses()
	riskEngine.UpdateLosses(daily, total)

	// Decision stack with persisted learning.
	perf := decision.NewPerformance()
	learning, err := decision.OpenLearningStore(cfg.Paths.LearningStore)
	if err != nil {
		log.Fatalf("learning store: %v", err)
	}
	learning.Seed(perf)
	engine := decision.NewEngine(perf)

	// Broker side.
	feedSource := adapters.NewSimFeedSource(sim, cfg.Risk.StartBalance)
	feedSource.SetProbeSymbol(cfg.Feed.DefaultSymbol)
	feed := broker.NewFeedEngine(feedSource, cfg.Feed.FreezeWindow())
	poller := broker.NewPoller(feed, cfg.Feed.PollInterval(), func() string { return cfg.Feed.DefaultSymbol })
	adaptation := broker.NewAdaptation(broker.AdaptationLimits{
		MaxDivergencePct:    cfg.Adaptation.MaxDivergencePct,
		MaxDailyDrawdownPct: cfg.Adaptation.MaxDailyDrawdownPct,
		MaxSlippage:         cfg.Adaptation.MaxSlippage,
	})
	guardian := broker.NewGuardian(feedSource, adapters.NewSimNewsSource())
	backend := adapters.NewSimBackend(sim, feedSource, time.Now().UnixNano()+1)

	audit, err := outbox.OpenAuditLog(cfg.Paths.AuditLog)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	defer audit.Close()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		wh := notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
		defer wh.Close()
		notifier = wh
	}

	gk := exec.NewGatekeeper(exec.Deps{
		Backend:    backend,
		Feed:       feed,
		Adaptation: adaptation,
		Guardian:   guardian,
		RiskEngine: riskEngine,
		Governance: governance,
		Mapper:     mapper,
		Learning:   learning,
		Perf:       perf,
		Audit:      audit,
		Ledger:     ledger,
		Notify:     notifier,
	}, exec.Options{
		TradeThrottle: cfg.Gatekeeper.TradeThrottle(),
		MinConfidence: cfg.Gatekeeper.MinConfidence,
	})

	trader := sched.NewTrader(sched.Deps{
		Universe:   cfg.Symbols.Universe,
		Rules:      symbols.DefaultPriorityRules(),
		Fetcher:    fetcher,
		BrokerData: fetcher,
		Rollover:   rolloverMgr,
		Staleness:  staleness,
		Mapper:     mapper,
		Registry:   signal.NewRegistry(),
		Decision:   engine,
		RiskEngine: riskEngine,
		Admission:  admission,
		Gatekeeper: gk,
		Analyzer:   adapters.SimAnalyzer{},
		Notify:     notifier,
	}, sched.Options{
		ScanInterval: cfg.Scheduler.ScanInterval(),
		SessionCaps:  cfg.Scheduler.SessionCaps,
	})

	admin := transport.NewAdminServer(cfg.Admin.Addr, feed, poller, adaptation, rolloverMgr, gk, cfg.Symbols.Universe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	trader.Start(ctx)
	go func() {
		if err := admin.Start(); err != nil {
			observ.Log("admin_server_error", map[string]any{"error": err.Error()})
		}
	}()
	notifier.Notify(notify.Event{Kind: "startup", Severity: notify.Info, Text: "trader started"})

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	observ.Log("shutdown", map[string]any{"signal": sig.String()})

	trader.Stop()
	poller.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		observ.Log("admin_shutdown_error", map[string]any{"error": err.Error()})
	}
	notifier.Notify(notify.Event{Kind: "shutdown", Severity: notify.Info, Text: "trader stopped"})
}
