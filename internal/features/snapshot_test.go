package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/marketdata"
)

func TestPipeline_NotReadyUntilMacroEMAsWarmAndRTHStarted(t *testing.T) {
	session := calendar.DefaultSession()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, calendar.Eastern)
	prev := marketdata.DailyBar{High: 11, Low: 9, Close: 10}
	p := NewPipeline(session, day, prev, Config{PivotWindow: 2, LevelClusterTolerance: 0.002, MaxExtensionForEntry: 0.05})

	premarketBar := marketdata.Bar{Ts: session.PremarketStartOn(day), Open: 10, High: 10.2, Low: 9.8, Close: 10, Volume: 1000}
	snap := p.Update(premarketBar)
	assert.False(t, snap.Ready, "premarket bars must never be reported Ready")
}

func TestPipeline_TracksPMHAndPMLFromPremarketOnly(t *testing.T) {
	session := calendar.DefaultSession()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, calendar.Eastern)
	prev := marketdata.DailyBar{High: 11, Low: 9, Close: 10}
	p := NewPipeline(session, day, prev, Config{PivotWindow: 2, LevelClusterTolerance: 0.002})

	p.Update(marketdata.Bar{Ts: session.PremarketStartOn(day), Open: 10, High: 10.5, Low: 9.9, Close: 10.1, Volume: 1000})
	snap := p.Update(marketdata.Bar{Ts: session.PremarketStartOn(day).Add(time.Minute), Open: 10.1, High: 10.3, Low: 9.5, Close: 10.0, Volume: 1000})

	assert.InDelta(t, 10.5, snap.PMH, 1e-9)
	assert.InDelta(t, 9.5, snap.PML, 1e-9)
	// RTH open/HOD/LOD must not be set yet.
	assert.Equal(t, 0.0, snap.OpenPx)
}

func TestPipeline_OpenPxSetOnlyOnFirstRTHBar(t *testing.T) {
	session := calendar.DefaultSession()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, calendar.Eastern)
	prev := marketdata.DailyBar{High: 11, Low: 9, Close: 10}
	p := NewPipeline(session, day, prev, Config{PivotWindow: 2, LevelClusterTolerance: 0.002})

	rthOpen := session.RTHOpenOn(day)
	snap := p.Update(marketdata.Bar{Ts: rthOpen, Open: 10.2, High: 10.4, Low: 10.1, Close: 10.3, Volume: 2000})
	require.InDelta(t, 10.2, snap.OpenPx, 1e-9)

	snap2 := p.Update(marketdata.Bar{Ts: rthOpen.Add(time.Minute), Open: 10.5, High: 10.6, Low: 10.4, Close: 10.5, Volume: 2000})
	assert.InDelta(t, 10.2, snap2.OpenPx, 1e-9, "open_px must not change after the first RTH bar")
	assert.InDelta(t, 10.6, snap2.HODSoFar, 1e-9)
}

func TestPipeline_VWAPOnlyAccumulatesRTHBars(t *testing.T) {
	session := calendar.DefaultSession()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, calendar.Eastern)
	prev := marketdata.DailyBar{}
	p := NewPipeline(session, day, prev, Config{PivotWindow: 2, LevelClusterTolerance: 0.002})

	p.Update(marketdata.Bar{Ts: session.PremarketStartOn(day), Open: 100, High: 100, Low: 100, Close: 100, Volume: 9999})
	snap := p.Update(marketdata.Bar{Ts: session.RTHOpenOn(day), Open: 10, High: 10, Low: 10, Close: 10, Volume: 100})
	assert.InDelta(t, 10.0, snap.VWAPRth, 1e-9, "premarket volume must not leak into RTH VWAP")
}

func TestPipeline_PDHPDLComeFromPriorDailyBarOnly(t *testing.T) {
	session := calendar.DefaultSession()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, calendar.Eastern)
	prev := marketdata.DailyBar{High: 12.34, Low: 11.00, Close: 11.50}
	p := NewPipeline(session, day, prev, Config{PivotWindow: 2, LevelClusterTolerance: 0.002})

	snap := p.Update(marketdata.Bar{Ts: session.RTHOpenOn(day), Open: 11.5, High: 11.6, Low: 11.4, Close: 11.5, Volume: 500})
	assert.InDelta(t, 12.34, snap.PDH, 1e-9)
	assert.InDelta(t, 11.00, snap.PDL, 1e-9)
}
