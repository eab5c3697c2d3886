package symbols

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapperToExecution(t *testing.T) {
	m := NewMapper("XAUUSD")

	assert.Equal(t, "XAUUSD", m.ToExecution("GC.FUT"))
	assert.Equal(t, "XAUUSD", m.ToExecution("gcz6"))
	assert.Equal(t, "NAS100", m.ToExecution("NQ.FUT"))
	assert.Equal(t, "EURUSD", m.ToExecution("EURUSD"))
	// Unknown symbols map to themselves, empty falls to the default.
	assert.Equal(t, "ZB.FUT", m.ToExecution("ZB.FUT"))
	assert.Equal(t, "XAUUSD", m.ToExecution(""))
}

func TestMapperSupportAndSpread(t *testing.T) {
	m := NewMapper("XAUUSD")

	assert.True(t, m.IsExecutionSupported("GC.FUT"))
	assert.False(t, m.IsExecutionSupported("ZB.FUT"))
	assert.Equal(t, 30.0, m.SpreadLimit("XAUUSD"))
	assert.Equal(t, 70.0, m.SpreadLimit("US30"))
	assert.Equal(t, 30.0, m.SpreadLimit("UNKNOWN"), "unknown symbols get the conservative default")

	m.ApplySpreadOverride("XAUUSD:25,NAS100:bad,US30:0")
	assert.Equal(t, 25.0, m.SpreadLimit("XAUUSD"))
	assert.Equal(t, 50.0, m.SpreadLimit("NAS100"), "unparseable override is ignored")
	assert.Equal(t, 70.0, m.SpreadLimit("US30"), "non-positive override is ignored")

	m.ApplyExecMapOverride("ZB.FUT:US30, , broken")
	assert.Equal(t, "US30", m.ToExecution("ZB.FUT"))
	assert.True(t, m.IsExecutionSupported("ZB.FUT"))
}

func TestRootOf(t *testing.T) {
	cases := map[string]string{
		"GC.FUT": "GC", "GCZ6": "GC", "XAUUSD": "GC",
		"NQ.FUT": "NQ", "NAS100": "NQ",
		"YM.FUT": "YM", "US30": "YM",
		"CLZ6": "CL", "USOIL": "CL",
		"6E.FUT": "6E", "eurusd": "6E",
		"6B.FUT": "6B", "GBPUSD": "6B",
		"ZB.FUT": "ZB", "PLAIN": "PLAIN", "": "",
	}
	for symbol, want := range cases {
		assert.Equal(t, want, RootOf(symbol), "RootOf(%q)", symbol)
	}
}

func TestIsFutures(t *testing.T) {
	assert.True(t, IsFutures("GC.FUT"))
	assert.True(t, IsFutures("nq.fut"))
	assert.False(t, IsFutures("GCZ6"))
	assert.False(t, IsFutures("XAUUSD"))
}

func TestStalenessLimits(t *testing.T) {
	s := NewStalenessLimits("")
	assert.Equal(t, 300*time.Second, s.LimitFor("GC.FUT"))
	assert.Equal(t, 180*time.Second, s.LimitFor("NQ.FUT"))
	assert.Equal(t, 300*time.Second, s.LimitFor("ZB.FUT"), "unknown roots use the default")

	s = NewStalenessLimits("GC:240,DEFAULT:120,CL:bad,YM:-5")
	assert.Equal(t, 240*time.Second, s.LimitFor("GCZ6"), "override keys resolve through RootOf")
	assert.Equal(t, 120*time.Second, s.LimitFor("ZB.FUT"))
	assert.Equal(t, 360*time.Second, s.LimitFor("CL.FUT"), "bad values keep the table entry")
	assert.Equal(t, 180*time.Second, s.LimitFor("YM.FUT"), "negative values keep the table entry")
}
