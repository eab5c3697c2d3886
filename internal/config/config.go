// Package config loads the YAML runtime configuration, layers .env
// overrides on top and validates the result before anything starts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/futurekit/tradecore/internal/symbols"
)

type Risk struct {
	Phase           string  `yaml:"phase" default:"PHASE_1" validate:"oneof=PHASE_1 PHASE_2 FUNDED"`
	StartBalance    float64 `yaml:"start_balance" default:"50000" validate:"gt=0"`
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade" default:"0.005" validate:"gt=0,lte=0.05"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day" default:"5" validate:"gte=1"`
	MinConfidence   float64 `yaml:"min_confidence" default:"55" validate:"gte=0,lte=100"`
}

type Gatekeeper struct {
	TradeThrottleSecs int     `yaml:"trade_throttle_seconds" default:"300" validate:"gte=0"`
	MinConfidence     float64 `yaml:"min_confidence" default:"70" validate:"gte=0,lte=100"`
}

type Feed struct {
	FreezeWindowSecs int    `yaml:"freeze_window_seconds" default:"8" validate:"gte=2"`
	PollIntervalMs   int    `yaml:"poll_interval_ms" default:"1000" validate:"gte=300"`
	DefaultSymbol    string `yaml:"default_symbol" default:"XAUUSD"`
}

type Adaptation struct {
	MaxDivergencePct    float64 `yaml:"max_divergence_pct" default:"0.2"`
	MaxDailyDrawdownPct float64 `yaml:"max_daily_drawdown_pct" default:"3"`
	MaxSlippage         float64 `yaml:"max_slippage" default:"2"`
}

type Data struct {
	TimeoutSecs     int     `yaml:"timeout_seconds" default:"10" validate:"gte=1"`
	FallbackMinutes []int   `yaml:"fallback_minutes"`
	RatePerSecond   float64 `yaml:"rate_per_second" default:"4"`
	Burst           int     `yaml:"burst" default:"8"`
}

type Rollover struct {
	ConfirmDays   int    `yaml:"confirm_days" default:"2" validate:"gte=1"`
	ChainOverride string `yaml:"chain_override"` // "GC:GC.FUT,GCZ6;NQ:..."
	EventLogPath  string `yaml:"event_log_path" default:"data/rollover_events.jsonl"`
}

type Scheduler struct {
	ScanIntervalSecs  int            `yaml:"scan_interval_seconds" default:"30" validate:"gte=5"`
	SessionCaps       map[string]int `yaml:"session_caps"`
	StalenessOverride string         `yaml:"staleness_override"` // "GC:240,DEFAULT:300"
}

type Symbols struct {
	ExecMapOverride string                 `yaml:"exec_map_override"` // "GC.FUT:XAUUSD,..."
	SpreadOverride  string                 `yaml:"spread_override"`   // "XAUUSD:30,..."
	Universe        []symbols.TradeProfile `yaml:"universe" validate:"dive"`
}

type Paths struct {
	AuditLog      string `yaml:"audit_log" default:"data/trades.jsonl"`
	LearningStore string `yaml:"learning_store" default:"data/learning.json"`
}

type Admin struct {
	Addr string `yaml:"addr" default:":8090"`
}

type Notify struct {
	WebhookURL string `yaml:"webhook_url"` // empty means log-only
}

type Root struct {
	Risk       Risk       `yaml:"risk"`
	Gatekeeper Gatekeeper `yaml:"gatekeeper"`
	Feed       Feed       `yaml:"feed"`
	Adaptation Adaptation `yaml:"adaptation"`
	Data       Data       `yaml:"data"`
	Rollover   Rollover   `yaml:"rollover"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Symbols    Symbols    `yaml:"symbols"`
	Paths      Paths      `yaml:"paths"`
	Admin      Admin      `yaml:"admin"`
	Notify     Notify     `yaml:"notify"`
}

// Load reads path, fills defaults and validates. A missing file yields the
// pure-default config. Environment overrides from .env (if present) are
// loaded first so ${VAR} expansion in callers sees them.
func Load(path string) (Root, error) {
	_ = godotenv.Load()

	var c Root
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&c)

	if len(c.Data.FallbackMinutes) == 0 {
		c.Data.FallbackMinutes = []int{240, 480, 1440}
	}
	if len(c.Symbols.Universe) == 0 {
		c.Symbols.Universe = symbols.DefaultUniverse()
	}

	if err := validator.New().Struct(&c); err != nil {
		return c, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// applyEnv maps a small set of operational env vars onto the config, so
// deployments can retune without editing YAML.
func applyEnv(c *Root) {
	if v := os.Getenv("TRADECORE_PHASE"); v != "" {
		c.Risk.Phase = v
	}
	if v := os.Getenv("TRADECORE_STALENESS"); v != "" {
		c.Scheduler.StalenessOverride = v
	}
	if v := os.Getenv("TRADECORE_CHAINS"); v != "" {
		c.Rollover.ChainOverride = v
	}
	if v := os.Getenv("TRADECORE_EXEC_MAP"); v != "" {
		c.Symbols.ExecMapOverride = v
	}
	if v := os.Getenv("TRADECORE_SPREADS"); v != "" {
		c.Symbols.SpreadOverride = v
	}
	if v := os.Getenv("TRADECORE_WEBHOOK"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("TRADECORE_ADMIN_ADDR"); v != "" {
		c.Admin.Addr = v
	}
}

// ScanInterval converts the configured seconds to a duration.
func (s Scheduler) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalSecs) * time.Second
}

// TradeThrottle converts the configured seconds to a duration.
func (g Gatekeeper) TradeThrottle() time.Duration {
	return time.Duration(g.TradeThrottleSecs) * time.Second
}

// FreezeWindow converts the configured seconds to a duration.
func (f Feed) FreezeWindow() time.Duration {
	return time.Duration(f.FreezeWindowSecs) * time.Second
}

// PollInterval converts the configured milliseconds to a duration.
func (f Feed) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

// Timeout converts the configured seconds to a duration.
func (d Data) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}
