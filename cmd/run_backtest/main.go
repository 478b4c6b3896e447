// Command run_backtest drives the full event-driven intraday simulation
// over a date range and writes its artifacts to an output directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ybi-research/backtest/internal/audit"
	"github.com/ybi-research/backtest/internal/backtest"
	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/marketdata"
	"github.com/ybi-research/backtest/internal/money"
	"github.com/ybi-research/backtest/internal/observ"
	"github.com/ybi-research/backtest/internal/report"
	"github.com/ybi-research/backtest/internal/universe"
)

// codeVersion is overridden at build time via -ldflags, matching how the
// rest of this codebase's lineage stamps a build identifier rather than
// pulling one from git at runtime.
var codeVersion = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes. 0 is a clean run (possibly with individual error days);
// anything else means the run could not produce a usable report at all.
const (
	exitOK          = 0
	exitConfigError = 2
	exitDataError   = 3
	exitInvariant   = 4
)

func run(args []string) int {
	_ = godotenv.Load() // optional; missing .env is not an error

	fs := flag.NewFlagSet("run_backtest", flag.ContinueOnError)
	startFlag := fs.String("start", "", "first trading day, YYYY-MM-DD (required)")
	endFlag := fs.String("end", "", "last trading day, YYYY-MM-DD (required)")
	configPath := fs.String("config", "", "path to YAML config (required)")
	outDir := fs.String("out", "./out", "output directory for report artifacts")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address for the run's duration")
	cacheDir := fs.String("cache-dir", os.Getenv("YBI_HTTP_CACHE_DIR"), "on-disk market-data response cache directory (default $YBI_HTTP_CACHE_DIR); empty disables caching")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}
	start, err := time.ParseInLocation("2006-01-02", *startFlag, calendar.Eastern)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid --start:", err)
		return exitConfigError
	}
	end, err := time.ParseInLocation("2006-01-02", *endFlag, calendar.Eastern)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid --end:", err)
		return exitConfigError
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "--end is before --start")
		return exitConfigError
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: observ.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				observ.Log("metrics_server_error", map[string]any{"error": err.Error()})
			}
		}()
		defer srv.Close()
	}

	var data marketdata.Client = marketdata.NewPolygonClient(os.Getenv("POLYGON_API_KEY"), 5, 50000)
	if *cacheDir != "" {
		data = marketdata.NewCachingClient(data, *cacheDir)
	}

	session := calendar.DefaultSession()
	cal := calendar.NewCalendar(session, start.Year()-1, end.Year()+1)
	builder := universe.NewBuilder(data, cal, cfg)
	sim := backtest.NewSimulator(cfg, session)

	ledger := backtest.NewLedger(money.FromFloat(cfg.Account.StartingCash))
	rng := rand.New(rand.NewSource(cfg.Inference.RandomSeed))

	var (
		allWatchlist []universe.WatchlistItem
		allFills     []backtest.FillRecord
		allTrades    []backtest.TradeRecord
		allDays      []backtest.DayAuditRecord
		tradingDays  []string
	)

	var dataErrors, invariantViolations int
	days := cal.TradingDaysBetween(start, end)
	for _, day := range days {
		tradingDays = append(tradingDays, day.Format("2006-01-02"))
		dayAudit, errKind := simulateOneDay(context.Background(), sim, builder, data, cal, day, ledger, &allWatchlist, &allFills, &allTrades)
		allDays = append(allDays, dayAudit)
		switch errKind {
		case "data":
			dataErrors++
		case "invariant":
			invariantViolations++
		}

		ledger.RealizedPnLToday = money.Zero
		ledger.TradesOpenedToday = map[string]int{}

		observ.Log("day_audit", map[string]any{"date": dayAudit.Date.Format("2006-01-02"), "status": dayAudit.Status})
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "creating output dir:", err)
		return exitDataError
	}

	reconOK, err := writeArtifacts(*outDir, cfg, allWatchlist, allFills, allTrades, allDays, tradingDays, rng, start, end)
	if err != nil {
		fmt.Fprintln(os.Stderr, "writing artifacts:", err)
		return exitDataError
	}

	switch {
	case len(days) > 0 && dataErrors == len(days):
		return exitDataError
	case invariantViolations > 0 || !reconOK:
		return exitInvariant
	default:
		return exitOK
	}
}

// simulateOneDay builds the watchlist, fetches bars, runs the simulator,
// and accumulates its outputs into the caller's running slices. Returns
// the day's audit record regardless of outcome, plus an error
// classification ("", "data", or "invariant") for exit-code dispatch.
func simulateOneDay(
	ctx context.Context,
	sim *backtest.Simulator,
	builder *universe.Builder,
	data marketdata.Client,
	cal *calendar.Calendar,
	day time.Time,
	ledger *backtest.Ledger,
	allWatchlist *[]universe.WatchlistItem,
	allFills *[]backtest.FillRecord,
	allTrades *[]backtest.TradeRecord,
) (backtest.DayAuditRecord, string) {
	items, err := builder.Build(ctx, day)
	if err != nil {
		if _, ok := err.(*universe.UniverseEmpty); ok {
			return backtest.DayAuditRecord{Date: day, Status: "no_watchlist"}, ""
		}
		return backtest.DayAuditRecord{Date: day, Status: "error", Error: err.Error()}, "data"
	}
	*allWatchlist = append(*allWatchlist, items...)

	tickers := make([]string, len(items))
	barsByTicker := map[string][]marketdata.Bar{}
	prevDayByTicker := map[string]marketdata.DailyBar{}
	for i, it := range items {
		tickers[i] = it.Ticker
		bars, err := data.MinuteBars(ctx, it.Ticker, day, true)
		if err != nil {
			return backtest.DayAuditRecord{Date: day, Status: "error", Error: err.Error(), WatchlistSize: len(items)}, "data"
		}
		barsByTicker[it.Ticker] = bars

		prevDay := cal.PrevTradingDay(day)
		dailyBars, err := data.DailyBars(ctx, it.Ticker, prevDay, prevDay)
		if err != nil {
			return backtest.DayAuditRecord{Date: day, Status: "error", Error: err.Error(), WatchlistSize: len(items)}, "data"
		}
		if len(dailyBars) > 0 {
			prevDayByTicker[it.Ticker] = dailyBars[0]
		}
	}

	result, err := sim.RunDay(day, tickers, barsByTicker, prevDayByTicker, ledger)
	if err != nil {
		return backtest.DayAuditRecord{Date: day, Status: "error", Error: err.Error(), WatchlistSize: len(items)}, "invariant"
	}
	*allFills = append(*allFills, result.Fills...)
	*allTrades = append(*allTrades, result.Trades...)
	return result.Audit, ""
}

func writeArtifacts(
	outDir string,
	cfg config.Root,
	watchlist []universe.WatchlistItem,
	fills []backtest.FillRecord,
	trades []backtest.TradeRecord,
	days []backtest.DayAuditRecord,
	tradingDays []string,
	rng *rand.Rand,
	start, end time.Time,
) (bool, error) {
	if err := report.WriteWatchlistCSV(outDir, watchlist); err != nil {
		return false, err
	}
	if err := report.WriteFillsCSV(outDir, fills); err != nil {
		return false, err
	}
	if err := report.WriteTradesCSV(outDir, trades); err != nil {
		return false, err
	}
	if err := report.WriteDayAuditCSV(outDir, days); err != nil {
		return false, err
	}

	eligibleDays := map[string]bool{}
	for _, d := range days {
		if d.Status != "error" {
			eligibleDays[d.Date.Format("2006-01-02")] = true
		}
	}
	pnlByDay := map[string]float64{}
	tradesByDay := map[string]int{}
	feesByDay := map[string]float64{}
	for _, t := range trades {
		d := t.EntryTs.Format("2006-01-02")
		p, _ := t.PnLTotal.Float64()
		fee, _ := t.FeesPaid.Float64()
		pnlByDay[d] += p
		tradesByDay[d]++
		feesByDay[d] += fee
	}
	var dailyRows []report.DailyMetricsRow
	var eligibleDates []string
	for _, d := range tradingDays {
		if !eligibleDays[d] {
			continue
		}
		eligibleDates = append(eligibleDates, d)
		dailyRows = append(dailyRows, report.DailyMetricsRow{
			Date: d, PnL: pnlByDay[d], Trades: tradesByDay[d], Fees: feesByDay[d],
		})
	}
	if err := report.WriteDailyMetricsCSV(outDir, dailyRows); err != nil {
		return false, err
	}

	minSample := cfg.Inference.MinSampleThreshold
	accountEquity := cfg.Account.StartingCash

	metrics := audit.ComputeMetrics(trades, accountEquity, minSample, eligibleDates)
	_, dailyPnL := dailyPnLSeriesFor(trades, eligibleDates)
	inference := audit.DailySeriesInference(dailyPnL, 0) // 0: always use the floor(4*(N/100)^(2/9)) HAC lag rule
	bootstrap := audit.BlockBootstrapTest(trades, cfg.Inference.NBootstrap, 20, cfg.Inference.BootstrapBlockLen, eligibleDates, rng)
	leakage := audit.LeakageAudit(trades)
	reconciliation := audit.ReconcileTradesAndFills(trades, fills, 0.01)
	stratified := audit.RunStratifiedAnalysis(trades, accountEquity, minSample)
	monteCarlo := audit.MonteCarloSimulation(trades, 5000, accountEquity, 0.5, minSample, rng)
	walkForward := audit.WalkForwardValidation(trades, 5, 0.7, accountEquity, minSample)
	timeShift := audit.TimeShiftStressTest(trades, 5, 1000, rng)
	shuffle := audit.ShuffleDatesStressTest(trades, 1000, rng)

	summary := report.BuildSummary(metrics, inference, bootstrap, leakage, reconciliation, stratified, monteCarlo, walkForward, timeShift, shuffle)
	if err := report.WriteSummaryJSON(outDir, summary); err != nil {
		return false, err
	}

	metricsSnapshot, err := observ.Snapshot()
	if err != nil {
		return false, err
	}
	var daysWithErrors int
	for _, d := range days {
		if d.Status == "error" {
			daysWithErrors++
		}
	}
	meta := report.RunMetadata{
		CodeVersion: codeVersion, RandomSeed: cfg.Inference.RandomSeed,
		SelectionMethod: cfg.Watchlist.Method, MaxCandidatesToScan: cfg.Universe.MaxCandidatesScan,
		StartDate: start.Format("2006-01-02"), EndDate: end.Format("2006-01-02"),
		Config: cfg, Metrics: metricsSnapshot, DaysWithErrors: daysWithErrors,
	}
	if err := report.WriteRunMetadataJSON(outDir, meta); err != nil {
		return false, err
	}

	reconOK := reconciliation.IsConsistent && leakage.IsValid
	return reconOK, nil
}

// dailyPnLSeriesFor computes the same daily series ComputeMetrics does
// internally, for callers (like DailySeriesInference) that need the raw
// series rather than the full scorecard.
func dailyPnLSeriesFor(trades []backtest.TradeRecord, eligibleDates []string) ([]string, []float64) {
	byDate := map[string]float64{}
	for _, t := range trades {
		d := t.EntryTs.Format("2006-01-02")
		p, _ := t.PnLTotal.Float64()
		byDate[d] += p
	}
	series := make([]float64, len(eligibleDates))
	for i, d := range eligibleDates {
		series[i] = byDate[d]
	}
	return eligibleDates, series
}
