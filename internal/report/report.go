// Package report persists one backtest run's artifacts to a directory:
// the watchlist, fills, and trades the simulation produced, the per-day
// audit trail, daily P&L, and the statistical summary and run metadata
// JSON documents the audit package's output feeds into.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ybi-research/backtest/internal/backtest"
	"github.com/ybi-research/backtest/internal/universe"
)

// writeAtomic writes data to a temp file in dir and renames it into place,
// so a crash mid-write never leaves a half-written artifact at path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeCSV(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return writeAtomic(path, buf.Bytes())
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

func f(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
func i(n int) string      { return strconv.Itoa(n) }
func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02T15:04:05")
}

// WriteWatchlistCSV writes one row per (date, ticker) watchlist entry
// across the whole run, in the order the caller accumulated them (by date,
// then by rank, matching how Builder.Build assigns rank).
func WriteWatchlistCSV(dir string, items []universe.WatchlistItem) error {
	header := []string{
		"date", "ticker", "rank", "selection_method", "prev_close",
		"gap_open_pct", "premarket_high", "premarket_low",
		"premarket_volume", "premarket_dollar_volume", "premarket_pct",
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.Date.Format("2006-01-02"), it.Ticker, i(it.Rank), it.SelectionMethod,
			f(it.PrevClose), f(it.GapOpenPct), f(it.PremarketHigh), f(it.PremarketLow),
			f(it.PremarketVolume), f(it.PremarketDollarVolume), f(it.PremarketPct),
		})
	}
	return writeCSV(filepath.Join(dir, "watchlist.csv"), header, rows)
}

// WriteFillsCSV writes one row per child fill, each carrying its
// linked_trade_id so fills.csv can be reconciled against trades.csv.
func WriteFillsCSV(dir string, fills []backtest.FillRecord) error {
	header := []string{
		"linked_trade_id", "ticker", "ts", "side", "qty", "price", "fee",
		"signal_ts", "setup", "reason",
	}
	rows := make([][]string, 0, len(fills))
	for _, fl := range fills {
		px, _ := fl.Price.Float64()
		fee, _ := fl.Fee.Float64()
		rows = append(rows, []string{
			fl.TradeID, fl.Ticker, ts(fl.Ts), fl.Side, i(fl.Qty), f(px), f(fee),
			ts(fl.SignalTs), string(fl.Setup), fl.Reason,
		})
	}
	return writeCSV(filepath.Join(dir, "fills.csv"), header, rows)
}

// WriteTradesCSV writes one row per completed round trip with the full
// TradeRecord schema.
func WriteTradesCSV(dir string, trades []backtest.TradeRecord) error {
	header := []string{
		"trade_id", "ticker", "setup", "entry_ttm_state", "entry_ts", "exit_ts",
		"signal_ts", "entry_px", "exit_px", "qty", "scale_pnl_realized",
		"final_exit_pnl", "fees_paid", "pnl_total", "exit_reason",
	}
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		entryPx, _ := t.EntryPx.Float64()
		exitPx, _ := t.ExitPx.Float64()
		scalePnL, _ := t.ScalePnLRealized.Float64()
		finalPnL, _ := t.FinalExitPnL.Float64()
		fees, _ := t.FeesPaid.Float64()
		total, _ := t.PnLTotal.Float64()
		rows = append(rows, []string{
			t.TradeID, t.Ticker, string(t.Setup), t.EntryTTMState, ts(t.EntryTs), ts(t.ExitTs),
			ts(t.SignalTs), f(entryPx), f(exitPx), i(t.Qty), f(scalePnL),
			f(finalPnL), f(fees), f(total), t.ExitReason,
		})
	}
	return writeCSV(filepath.Join(dir, "trades.csv"), header, rows)
}

// WriteDayAuditCSV writes the per-day status trail: whether a day traded,
// was skipped for lack of a watchlist, or errored out of the simulation.
func WriteDayAuditCSV(dir string, days []backtest.DayAuditRecord) error {
	header := []string{
		"date", "status", "reason", "watchlist_size", "trades_opened",
		"trades_closed", "realized_pnl", "rejected_intents",
	}
	rows := make([][]string, 0, len(days))
	for _, d := range days {
		pnl, _ := d.RealizedPnL.Float64()
		rows = append(rows, []string{
			d.Date.Format("2006-01-02"), d.Status, d.Error, i(d.WatchlistSize), i(d.TradesOpened),
			i(d.TradesClosed), f(pnl), i(d.RejectedIntents),
		})
	}
	return writeCSV(filepath.Join(dir, "day_audit.csv"), header, rows)
}

// DailyMetricsRow is one eligible trading day's aggregate P&L, the schema
// daily_metrics.csv persists and the inference layer's daily series over.
type DailyMetricsRow struct {
	Date   string
	PnL    float64
	Trades int
	Fees   float64
}

// WriteDailyMetricsCSV writes (date, pnl, trades, fees) for eligible days
// only; callers must have already excluded status=error days before
// building rows, since an error day's true P&L is unknown, not zero.
func WriteDailyMetricsCSV(dir string, rows []DailyMetricsRow) error {
	header := []string{"date", "pnl", "trades", "fees"}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.Date, f(r.PnL), i(r.Trades), f(r.Fees)})
	}
	return writeCSV(filepath.Join(dir, "daily_metrics.csv"), header, out)
}

// WriteSummaryJSON persists the full statistical summary for a run.
func WriteSummaryJSON(dir string, summary Summary) error {
	return writeJSON(filepath.Join(dir, "summary.json"), summary)
}

// WriteRunMetadataJSON persists the resolved configuration and run
// provenance: code version, random seed, selection parameters, and the
// folded-in metrics-registry snapshot.
func WriteRunMetadataJSON(dir string, meta RunMetadata) error {
	return writeJSON(filepath.Join(dir, "run_metadata.json"), meta)
}
