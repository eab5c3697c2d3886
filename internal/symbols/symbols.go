// Package symbols holds the static instrument tables: root normalization,
// data-symbol to execution-symbol mapping, per-symbol spread limits and
// staleness ceilings. Everything here is configuration, not invariants;
// the tables are hand-tuned and overridable via config or environment.
package symbols

import (
	"strconv"
	"strings"
	"time"
)

// TradeProfile is one tradable instrument: the symbol the broker executes,
// the symbol the data vendor serves, and a priority tier driving confidence
// floors. Immutable at runtime.
type TradeProfile struct {
	BrokerSymbol string `yaml:"broker_symbol" validate:"required"`
	DataSymbol   string `yaml:"data_symbol" validate:"required"`
	Priority     string `yaml:"priority"`
}

// PriorityRule gates a profile on fusion confidence and model agreement.
type PriorityRule struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MinModelVotes int     `yaml:"min_model_votes"`
}

// DefaultUniverse mirrors the production instrument set: futures data feeds
// mapped onto CFD execution symbols.
func DefaultUniverse() []TradeProfile {
	return []TradeProfile{
		{BrokerSymbol: "XAUUSD", DataSymbol: "GC.FUT", Priority: "PRIMARY"},
		{BrokerSymbol: "NAS100", DataSymbol: "NQ.FUT", Priority: "HIGH"},
		{BrokerSymbol: "US30", DataSymbol: "YM.FUT", Priority: "MEDIUM"},
		{BrokerSymbol: "EURUSD", DataSymbol: "6E.FUT", Priority: "STABLE"},
		{BrokerSymbol: "GBPUSD", DataSymbol: "6B.FUT", Priority: "VOLATILE"},
		{BrokerSymbol: "USOIL", DataSymbol: "CL.FUT", Priority: "NEWS-BASED"},
	}
}

// DefaultPriorityRules carries the hand-tuned confidence floors per tier.
func DefaultPriorityRules() map[string]PriorityRule {
	return map[string]PriorityRule{
		"PRIMARY":    {MinConfidence: 72, MinModelVotes: 3},
		"HIGH":       {MinConfidence: 75, MinModelVotes: 3},
		"MEDIUM":     {MinConfidence: 78, MinModelVotes: 4},
		"STABLE":     {MinConfidence: 74, MinModelVotes: 3},
		"VOLATILE":   {MinConfidence: 82, MinModelVotes: 4},
		"NEWS-BASED": {MinConfidence: 84, MinModelVotes: 4},
	}
}

// Mapper resolves symbols between the data universe and the execution
// universe and carries the per-symbol spread limits.
type Mapper struct {
	execMap      map[string]string
	spreadLimits map[string]float64
	defaultSym   string
}

func NewMapper(defaultSymbol string) *Mapper {
	m := &Mapper{
		execMap: map[string]string{
			"GC-F": "XAUUSD", "GC.FUT": "XAUUSD", "GC": "XAUUSD", "GCZ6": "XAUUSD",
			"NQ.FUT": "NAS100", "ESZ6": "NAS100",
			"YM.FUT": "US30",
			"CLZ6":   "USOIL", "CL.FUT": "USOIL",
			"6E.FUT": "EURUSD",
			"6B.FUT": "GBPUSD",
			"XAUUSD": "XAUUSD", "NAS100": "NAS100", "US30": "US30",
			"EURUSD": "EURUSD", "GBPUSD": "GBPUSD", "USOIL": "USOIL",
		},
		spreadLimits: map[string]float64{
			"XAUUSD": 30,
			"EURUSD": 10,
			"GBPUSD": 12,
			"NAS100": 50,
			"US30":   70,
			"USOIL":  80,
		},
		defaultSym: Normalize(defaultSymbol),
	}
	if m.defaultSym == "" {
		m.defaultSym = "XAUUSD"
	}
	return m
}

// Normalize uppercases and trims a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ToExecution maps any data or broker symbol onto the execution symbol the
// backend actually trades. Unknown symbols map to themselves.
func (m *Mapper) ToExecution(symbol string) string {
	normalized := Normalize(symbol)
	if normalized == "" {
		return m.defaultSym
	}
	if mapped, ok := m.execMap[normalized]; ok {
		return mapped
	}
	return normalized
}

// IsExecutionSupported reports whether the mapped symbol has a configured
// spread limit, which doubles as the supported-instrument whitelist.
func (m *Mapper) IsExecutionSupported(symbol string) bool {
	_, ok := m.spreadLimits[m.ToExecution(symbol)]
	return ok
}

// SpreadLimit returns the max allowed spread for an execution symbol.
func (m *Mapper) SpreadLimit(executionSymbol string) float64 {
	if limit, ok := m.spreadLimits[Normalize(executionSymbol)]; ok {
		return limit
	}
	return 30
}

// ApplyExecMapOverride merges "GC.FUT:XAUUSD,NQ.FUT:NAS100" style pairs.
func (m *Mapper) ApplyExecMapOverride(raw string) {
	for key, value := range parseKVMap(raw) {
		m.execMap[key] = value
	}
}

// ApplySpreadOverride merges "XAUUSD:25,NAS100:40" style pairs.
func (m *Mapper) ApplySpreadOverride(raw string) {
	for key, value := range parseKVMap(raw) {
		if limit, err := strconv.ParseFloat(value, 64); err == nil && limit > 0 {
			m.spreadLimits[key] = limit
		}
	}
}

func parseKVMap(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range strings.Split(raw, ",") {
		pair := strings.TrimSpace(item)
		if pair == "" || !strings.Contains(pair, ":") {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		key := Normalize(parts[0])
		value := Normalize(parts[1])
		if key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

// RootOf collapses contract months, continuous suffixes and CFD aliases onto
// the underlying futures root.
func RootOf(symbol string) string {
	normalized := Normalize(symbol)
	switch {
	case normalized == "":
		return ""
	case strings.HasPrefix(normalized, "GC") || normalized == "XAUUSD":
		return "GC"
	case strings.HasPrefix(normalized, "NQ") || normalized == "NAS100":
		return "NQ"
	case strings.HasPrefix(normalized, "YM") || normalized == "US30":
		return "YM"
	case strings.HasPrefix(normalized, "CL") || normalized == "USOIL":
		return "CL"
	case strings.HasPrefix(normalized, "6E") || normalized == "EURUSD":
		return "6E"
	case strings.HasPrefix(normalized, "6B") || normalized == "GBPUSD":
		return "6B"
	}
	if idx := strings.Index(normalized, "."); idx >= 0 {
		return normalized[:idx]
	}
	return normalized
}

// IsFutures reports whether the data symbol names a continuous futures feed.
func IsFutures(symbol string) bool {
	return strings.HasSuffix(Normalize(symbol), ".FUT")
}

const DefaultStalenessSeconds = 300

var defaultStaleness = map[string]int{
	"GC": 300,
	"NQ": 180,
	"ES": 180,
	"YM": 180,
	"CL": 360,
	"6E": 480,
	"6B": 480,
}

// StalenessLimits resolves per-root bar-age ceilings, with an optional
// override string of the form "GC:240,DEFAULT:300".
type StalenessLimits struct {
	limits         map[string]int
	defaultSeconds int
}

func NewStalenessLimits(override string) *StalenessLimits {
	s := &StalenessLimits{
		limits:         map[string]int{},
		defaultSeconds: DefaultStalenessSeconds,
	}
	for root, seconds := range defaultStaleness {
		s.limits[root] = seconds
	}
	for key, value := range parseKVMap(override) {
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			continue
		}
		if key == "DEFAULT" {
			s.defaultSeconds = seconds
			continue
		}
		s.limits[RootOf(key)] = seconds
	}
	return s
}

// LimitFor returns the staleness ceiling for a symbol's root.
func (s *StalenessLimits) LimitFor(symbol string) time.Duration {
	root := RootOf(symbol)
	if seconds, ok := s.limits[root]; ok {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(s.defaultSeconds) * time.Second
}
