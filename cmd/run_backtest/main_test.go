package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/backtest/internal/backtest"
	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/marketdata"
	"github.com/ybi-research/backtest/internal/money"
	"github.com/ybi-research/backtest/internal/universe"
)

func testConfig() config.Root {
	return config.Root{
		Account:   config.Account{StartingCash: 25000},
		Session:   config.Session{EntryWindowStart: "09:30", EntryWindowEnd: "11:00", ForceFlatTime: "16:00"},
		Universe:  config.Universe{PriceMin: 1, PriceMax: 20, MaxCandidatesScan: 50},
		Watchlist: config.Watchlist{Method: "gap_open", TopN: 10},
		Features:  config.Features{EMAPeriods: []int{8, 21, 34, 55}, Baseline200: "sma", PivotWindow: 5},
		Strategy: config.Strategy{
			Setups:          map[string]config.SetupToggle{"a": {Enabled: true}},
			StarterFraction: 0.25, ScaleFraction: 0.5, CooldownMinutes: 15,
		},
		Risk:      config.Risk{RiskPerTradePct: 0.01, MaxPositionNotionalPct: 0.25, MaxTradesPerDay: 6, MaxDailyLossDollars: 500},
		Inference: config.Inference{BootstrapBlockLen: 5, NBootstrap: 100, RandomSeed: 1, MinSampleThreshold: 30},
	}
}

func TestSimulateOneDay_NoWatchlistIsNotAnError(t *testing.T) {
	cfg := testConfig()
	session := calendar.DefaultSession()
	cal := calendar.NewCalendar(session, 2025, 2027)
	mock := marketdata.NewMock()
	builder := universe.NewBuilder(mock, cal, cfg)
	sim := backtest.NewSimulator(cfg, session)
	ledger := backtest.NewLedger(money.FromFloat(cfg.Account.StartingCash))

	day := time.Date(2026, 1, 5, 0, 0, 0, 0, calendar.Eastern)

	var watchlist []universe.WatchlistItem
	var fills []backtest.FillRecord
	var trades []backtest.TradeRecord

	audit, errKind := simulateOneDay(context.Background(), sim, builder, mock, cal, day, ledger, &watchlist, &fills, &trades)
	assert.Equal(t, "", errKind)
	assert.Equal(t, "no_watchlist", audit.Status)
	assert.Empty(t, watchlist)
}

func TestSimulateOneDay_FetchErrorClassifiesAsDataError(t *testing.T) {
	cfg := testConfig()
	session := calendar.DefaultSession()
	cal := calendar.NewCalendar(session, 2025, 2027)
	mock := marketdata.NewMock()
	builder := universe.NewBuilder(mock, cal, cfg)
	sim := backtest.NewSimulator(cfg, session)
	ledger := backtest.NewLedger(money.FromFloat(cfg.Account.StartingCash))

	day := time.Date(2026, 1, 5, 0, 0, 0, 0, calendar.Eastern)
	prevDay := cal.PrevTradingDay(day)

	mock.SetGroupedDaily(prevDay, map[string]marketdata.DailyBar{
		"AAA": {Date: prevDay, Close: 5.0, Volume: 1_000_000},
	})
	mock.SetGroupedDaily(day, map[string]marketdata.DailyBar{
		"AAA": {Date: day, Open: 6.0, Close: 6.2, Volume: 900_000},
	})
	mock.Errors["minute:AAA:"+day.Format("2006-01-02")] = assert.AnError

	var watchlist []universe.WatchlistItem
	var fills []backtest.FillRecord
	var trades []backtest.TradeRecord

	audit, errKind := simulateOneDay(context.Background(), sim, builder, mock, cal, day, ledger, &watchlist, &fills, &trades)
	assert.Equal(t, "data", errKind)
	assert.Equal(t, "error", audit.Status)
	require.Len(t, watchlist, 1)
	assert.Equal(t, "AAA", watchlist[0].Ticker)
}

func TestSimulateOneDay_CleanDayWithNoBarsAtEntryProducesNoTrades(t *testing.T) {
	cfg := testConfig()
	session := calendar.DefaultSession()
	cal := calendar.NewCalendar(session, 2025, 2027)
	mock := marketdata.NewMock()
	builder := universe.NewBuilder(mock, cal, cfg)
	sim := backtest.NewSimulator(cfg, session)
	ledger := backtest.NewLedger(money.FromFloat(cfg.Account.StartingCash))

	day := time.Date(2026, 1, 5, 0, 0, 0, 0, calendar.Eastern)
	prevDay := cal.PrevTradingDay(day)

	mock.SetGroupedDaily(prevDay, map[string]marketdata.DailyBar{
		"AAA": {Date: prevDay, Close: 5.0, Volume: 1_000_000},
	})
	mock.SetGroupedDaily(day, map[string]marketdata.DailyBar{
		"AAA": {Date: day, Open: 6.0, Close: 6.2, Volume: 900_000},
	})
	mock.SetMinuteBars("AAA", day, nil)

	var watchlist []universe.WatchlistItem
	var fills []backtest.FillRecord
	var trades []backtest.TradeRecord

	audit, errKind := simulateOneDay(context.Background(), sim, builder, mock, cal, day, ledger, &watchlist, &fills, &trades)
	assert.Equal(t, "", errKind)
	assert.Equal(t, "no_trades", audit.Status)
	assert.Empty(t, trades)
	assert.Empty(t, fills)
}

func TestWriteArtifacts_NoTradesIsReconciledAndValid(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	days := []backtest.DayAuditRecord{
		{Date: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Status: "no_watchlist"},
	}
	rng := rand.New(rand.NewSource(1))
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := start

	reconOK, err := writeArtifacts(dir, cfg, nil, nil, nil, days, []string{"2026-01-05"}, rng, start, end)
	require.NoError(t, err)
	assert.True(t, reconOK)
}

func TestDailyPnLSeriesFor_AggregatesByEntryDate(t *testing.T) {
	ts1, _ := time.Parse("2006-01-02 15:04", "2026-01-02 10:00")
	ts2, _ := time.Parse("2006-01-02 15:04", "2026-01-02 10:05")
	trades := []backtest.TradeRecord{
		{TradeID: "t1", EntryTs: ts1, PnLTotal: money.FromFloat(10)},
		{TradeID: "t2", EntryTs: ts2, PnLTotal: money.FromFloat(-4)},
	}
	dates, series := dailyPnLSeriesFor(trades, []string{"2026-01-02", "2026-01-05"})
	require.Equal(t, []string{"2026-01-02", "2026-01-05"}, dates)
	assert.InDelta(t, 6.0, series[0], 1e-9)
	assert.InDelta(t, 0.0, series[1], 1e-9)
}
