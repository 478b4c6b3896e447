package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ybi-research/backtest/internal/audit"
	"github.com/ybi-research/backtest/internal/backtest"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/money"
	"github.com/ybi-research/backtest/internal/strategy"
	"github.com/ybi-research/backtest/internal/universe"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteWatchlistCSV_WritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	items := []universe.WatchlistItem{
		{Date: day, Ticker: "AAA", Rank: 1, SelectionMethod: "gap_open", PrevClose: 5.0, GapOpenPct: 0.3},
		{Date: day, Ticker: "BBB", Rank: 2, SelectionMethod: "gap_open", PrevClose: 3.0, GapOpenPct: 0.2},
	}
	require.NoError(t, WriteWatchlistCSV(dir, items))

	rows := readCSV(t, filepath.Join(dir, "watchlist.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "ticker", rows[0][1])
	assert.Equal(t, "AAA", rows[1][1])
	assert.Equal(t, "2", rows[2][2])
}

func TestWriteWatchlistCSV_EmptyStillWritesHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteWatchlistCSV(dir, nil))
	rows := readCSV(t, filepath.Join(dir, "watchlist.csv"))
	assert.Len(t, rows, 1)
}

func TestWriteTradesCSV_RoundTripsPnLAndTTMState(t *testing.T) {
	dir := t.TempDir()
	entryTs := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	trades := []backtest.TradeRecord{
		{
			TradeID: "t1", Ticker: "AAA", Setup: strategy.SetupA, EntryTTMState: "weak_bull",
			EntryTs: entryTs, ExitTs: entryTs.Add(5 * time.Minute), SignalTs: entryTs.Add(-time.Minute),
			EntryPx: money.FromFloat(5.0), ExitPx: money.FromFloat(5.5), Qty: 100,
			FeesPaid: money.FromFloat(1.0), PnLTotal: money.FromFloat(49.0), ExitReason: "ema8_close_below",
		},
	}
	require.NoError(t, WriteTradesCSV(dir, trades))
	rows := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, rows, 2)
	header, row := rows[0], rows[1]

	idx := map[string]int{}
	for i, h := range header {
		idx[h] = i
	}
	assert.Equal(t, "weak_bull", row[idx["entry_ttm_state"]])
	assert.Equal(t, "49", row[idx["pnl_total"]])
	assert.Equal(t, "a", row[idx["setup"]])
}

func TestWriteDayAuditCSV_IncludesErrorReason(t *testing.T) {
	dir := t.TempDir()
	days := []backtest.DayAuditRecord{
		{Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Status: "error", Error: "provider timeout"},
		{Date: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), Status: "ok", TradesOpened: 2, TradesClosed: 2},
	}
	require.NoError(t, WriteDayAuditCSV(dir, days))
	rows := readCSV(t, filepath.Join(dir, "day_audit.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, "error", rows[1][1])
	assert.Equal(t, "provider timeout", rows[1][2])
}

func TestWriteDailyMetricsCSV_OnlyIncludesSuppliedRows(t *testing.T) {
	dir := t.TempDir()
	rows := []DailyMetricsRow{
		{Date: "2026-01-02", PnL: 49.0, Trades: 1, Fees: 1.0},
		{Date: "2026-01-05", PnL: 0, Trades: 0, Fees: 0},
	}
	require.NoError(t, WriteDailyMetricsCSV(dir, rows))
	got := readCSV(t, filepath.Join(dir, "daily_metrics.csv"))
	require.Len(t, got, 3)
	assert.Equal(t, "2026-01-02", got[1][0])
	assert.Equal(t, "0", got[2][2])
}

func TestWriteSummaryJSON_RoundTripsAndCarriesDescriptions(t *testing.T) {
	dir := t.TempDir()
	summary := BuildSummary(
		audit.PerformanceMetrics{TotalTrades: 5, WinRate: 0.6},
		audit.InferenceResult{N: 30, PValue: 0.04},
		audit.NegativeControlResult{NDays: 25, PValue: 0.03},
		audit.LeakageAuditResult{IsValid: true},
		audit.ReconciliationResult{IsConsistent: true},
		audit.StratifiedAnalysis{},
		audit.MonteCarloResult{NSimulations: 1000},
		audit.WalkForwardResult{NFolds: 5},
		audit.StressTestResult{Method: "time_shift_heuristic_5min"},
		audit.StressTestResult{Method: "shuffle_heuristic"},
	)
	require.NoError(t, WriteSummaryJSON(dir, summary))

	b, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)

	var decoded Summary
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, 5, decoded.Metrics.Result.TotalTrades)
	assert.NotEmpty(t, decoded.Leakage.Description)
	assert.Contains(t, decoded.TimeShiftTest.Description, "NOT a negative control")
}

func TestWriteRunMetadataJSON_RoundTripsConfigAndMetrics(t *testing.T) {
	dir := t.TempDir()
	meta := RunMetadata{
		CodeVersion: "dev", RandomSeed: 42, SelectionMethod: "gap_open",
		MaxCandidatesToScan: 500, StartDate: "2026-01-02", EndDate: "2026-01-30",
		Config:  config.Root{Watchlist: config.Watchlist{Method: "gap_open", TopN: 10}},
		Metrics: map[string]float64{`ybi_backtest_days_total{status=ok}`: 20},
	}
	require.NoError(t, WriteRunMetadataJSON(dir, meta))

	b, err := os.ReadFile(filepath.Join(dir, "run_metadata.json"))
	require.NoError(t, err)
	var decoded RunMetadata
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, int64(42), decoded.RandomSeed)
	assert.Equal(t, "gap_open", decoded.Config.Watchlist.Method)
	assert.Equal(t, 20.0, decoded.Metrics[`ybi_backtest_days_total{status=ok}`])
}

func TestWriteAtomic_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteWatchlistCSV(dir, nil))
	_, err := os.Stat(filepath.Join(dir, "watchlist.csv.tmp"))
	assert.True(t, os.IsNotExist(err))
}
