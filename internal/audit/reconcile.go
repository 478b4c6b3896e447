package audit

import (
	"math"

	"github.com/ybi-research/backtest/internal/backtest"
)

// ReconciliationResult is the verdict of checking a run's trade-level P&L
// against P&L reconstructed from the individual fills that produced it.
// A discrepancy here means a ledger accounting bug, not a strategy problem:
// missed scale-out P&L, a double-counted fee, or a quantity mismatch.
type ReconciliationResult struct {
	IsConsistent         bool
	TotalTrades          int
	TradesWithDiscrepancy int
	MaxDiscrepancy       float64
	TotalDiscrepancy     float64

	TradesTotalPnL         float64
	FillsReconstructedPnL  float64
	Difference             float64

	Discrepancies []Discrepancy
}

type Discrepancy struct {
	TradeID              string
	Ticker               string
	FillsReconstructedPnL float64
	TradesPnL            float64
	DiscrepancyAmount    float64
}

// ReconcileTradesAndFills groups fills by trade ID, recomputes each trade's
// P&L as sell proceeds minus buy cost minus fees, and compares it against
// the TradeRecord's own PnLTotal.
func ReconcileTradesAndFills(trades []backtest.TradeRecord, fills []backtest.FillRecord, tolerance float64) ReconciliationResult {
	result := ReconciliationResult{IsConsistent: true, TotalTrades: len(trades)}
	if len(trades) == 0 {
		return result
	}
	if len(fills) == 0 {
		result.IsConsistent = false
		result.Discrepancies = append(result.Discrepancies, Discrepancy{Ticker: "(all)", DiscrepancyAmount: math.NaN()})
		return result
	}

	fillsByTrade := map[string][]backtest.FillRecord{}
	for _, f := range fills {
		fillsByTrade[f.TradeID] = append(fillsByTrade[f.TradeID], f)
	}

	var tradesTotal, reconstructedTotal float64
	for _, t := range trades {
		tradePnL, _ := t.PnLTotal.Float64()
		tradesTotal += tradePnL

		var buyCost, sellProceeds, fees float64
		for _, f := range fillsByTrade[t.TradeID] {
			px, _ := f.Price.Float64()
			fee, _ := f.Fee.Float64()
			notional := px * float64(f.Qty)
			fees += fee
			switch f.Side {
			case "BUY":
				buyCost += notional
			case "SELL":
				sellProceeds += notional
			}
		}
		reconstructed := sellProceeds - buyCost - fees
		reconstructedTotal += reconstructed

		discrepancy := math.Abs(reconstructed - tradePnL)
		if discrepancy > tolerance {
			result.TradesWithDiscrepancy++
			result.TotalDiscrepancy += discrepancy
			if discrepancy > result.MaxDiscrepancy {
				result.MaxDiscrepancy = discrepancy
			}
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				TradeID: t.TradeID, Ticker: t.Ticker,
				FillsReconstructedPnL: reconstructed, TradesPnL: tradePnL, DiscrepancyAmount: discrepancy,
			})
		}
	}

	result.TradesTotalPnL = tradesTotal
	result.FillsReconstructedPnL = reconstructedTotal
	result.Difference = math.Abs(tradesTotal - reconstructedTotal)
	result.IsConsistent = result.TradesWithDiscrepancy == 0 && result.Difference <= tolerance

	return result
}

// LeakageAuditResult verifies that every trade's signal strictly precedes
// both its entry and its exit. This is the one check in this package that
// actually bears on lookahead bias; everything in metrics.go, inference.go,
// bootstrap.go, stratified.go and stress.go is descriptive statistics,
// significance testing or a heuristic stress test.
type LeakageAuditResult struct {
	TotalTrades int

	SignalAfterEntryViolations  int
	SignalEqualsEntryViolations int
	SignalAfterExitViolations   int
	SignalEqualsExitViolations  int

	ViolationDetails []LeakageViolation

	IsValid       bool
	AuditMessage  string
}

type LeakageViolation struct {
	TradeID  string
	Ticker   string
	SignalTs string
	EntryTs  string
	ExitTs   string
	Reason   string
}

// LeakageAudit checks signal_ts < entry_ts and signal_ts < exit_ts for every
// trade. It does not (and cannot, from trade records alone) check
// feature-computation or watchlist lookahead — those are verified by code
// review and by internal/features and internal/universe's own causality
// tests.
func LeakageAudit(trades []backtest.TradeRecord) LeakageAuditResult {
	result := LeakageAuditResult{TotalTrades: len(trades)}
	if len(trades) == 0 {
		result.IsValid = true
		result.AuditMessage = "no trades to audit"
		return result
	}

	fmtTs := "2006-01-02T15:04:05"
	for _, t := range trades {
		switch {
		case t.SignalTs.After(t.EntryTs):
			result.SignalAfterEntryViolations++
			result.ViolationDetails = append(result.ViolationDetails, LeakageViolation{
				TradeID: t.TradeID, Ticker: t.Ticker,
				SignalTs: t.SignalTs.Format(fmtTs), EntryTs: t.EntryTs.Format(fmtTs), ExitTs: t.ExitTs.Format(fmtTs),
				Reason: "signal_ts after entry_ts",
			})
		case t.SignalTs.Equal(t.EntryTs):
			result.SignalEqualsEntryViolations++
			result.ViolationDetails = append(result.ViolationDetails, LeakageViolation{
				TradeID: t.TradeID, Ticker: t.Ticker,
				SignalTs: t.SignalTs.Format(fmtTs), EntryTs: t.EntryTs.Format(fmtTs), ExitTs: t.ExitTs.Format(fmtTs),
				Reason: "signal_ts equals entry_ts",
			})
		}

		switch {
		case t.SignalTs.After(t.ExitTs):
			result.SignalAfterExitViolations++
			result.ViolationDetails = append(result.ViolationDetails, LeakageViolation{
				TradeID: t.TradeID, Ticker: t.Ticker,
				SignalTs: t.SignalTs.Format(fmtTs), EntryTs: t.EntryTs.Format(fmtTs), ExitTs: t.ExitTs.Format(fmtTs),
				Reason: "signal_ts after exit_ts",
			})
		case t.SignalTs.Equal(t.ExitTs):
			result.SignalEqualsExitViolations++
			result.ViolationDetails = append(result.ViolationDetails, LeakageViolation{
				TradeID: t.TradeID, Ticker: t.Ticker,
				SignalTs: t.SignalTs.Format(fmtTs), EntryTs: t.EntryTs.Format(fmtTs), ExitTs: t.ExitTs.Format(fmtTs),
				Reason: "signal_ts equals exit_ts",
			})
		}
	}

	total := result.SignalAfterEntryViolations + result.SignalEqualsEntryViolations +
		result.SignalAfterExitViolations + result.SignalEqualsExitViolations
	result.IsValid = total == 0
	if result.IsValid {
		result.AuditMessage = "every trade's signal strictly precedes both its entry and its exit"
	} else {
		result.AuditMessage = "signal->entry/exit causality violated; this backtest leaks lookahead"
	}
	if len(result.ViolationDetails) > 10 {
		result.ViolationDetails = result.ViolationDetails[:10]
	}
	return result
}
