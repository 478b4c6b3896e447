package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/features"
	"github.com/ybi-research/backtest/internal/marketdata"
	"github.com/ybi-research/backtest/internal/money"
	"github.com/ybi-research/backtest/internal/observ"
	"github.com/ybi-research/backtest/internal/strategy"
)

// Simulator drives one trading day's event loop for every watchlist ticker.
// On each bar it first marks equity and fills the intents left pending by
// the previous bar at this bar's open, then updates features and generates
// strategy signals from the closed bar, then checks intrabar stops.
type Simulator struct {
	session     calendar.Session
	risk        config.Risk
	fills       config.Fills
	strategyCfg config.Strategy
	featuresCfg config.Features
	engine      *strategy.Engine
}

func NewSimulator(cfg config.Root, session calendar.Session) *Simulator {
	return &Simulator{
		session:     session,
		risk:        cfg.Risk,
		fills:       cfg.Fills,
		strategyCfg: cfg.Strategy,
		featuresCfg: cfg.Features,
		engine:      strategy.NewEngine(cfg.Strategy, cfg.Features),
	}
}

// DayResult is everything one day's simulation produces, for the CLI
// driver to accumulate into C8 artifacts.
type DayResult struct {
	Audit  DayAuditRecord
	Fills  []FillRecord
	Trades []TradeRecord
}

// RunDay simulates one trading day for the given watchlist, given each
// ticker's full (premarket + RTH) minute bars for the day and the prior
// session's daily bar (for PDH/PDL).
func (s *Simulator) RunDay(day time.Time, tickers []string, barsByTicker map[string][]marketdata.Bar, prevDayByTicker map[string]marketdata.DailyBar, ledger *Ledger) (DayResult, error) {
	if len(tickers) == 0 {
		return DayResult{Audit: DayAuditRecord{Date: day, Status: "no_watchlist"}}, nil
	}

	pipelines := map[string]*features.Pipeline{}
	states := map[string]*strategy.TickerState{}
	pending := map[string][]strategy.PendingIntent{}
	lastBar := map[string]marketdata.Bar{}

	type tickBar struct {
		ticker string
		bar    marketdata.Bar
	}
	byTs := map[time.Time][]tickBar{}

	for _, t := range tickers {
		pipelines[t] = features.NewPipeline(s.session, day, prevDayByTicker[t], features.ConfigFrom(s.featuresCfg))
		states[t] = &strategy.TickerState{Phase: strategy.Flat}
		for _, bar := range barsByTicker[t] {
			if bar.Ts.Before(s.session.RTHOpenOn(day)) {
				// Premarket: warm the pipeline only, never enters the phased loop.
				pipelines[t].Update(bar)
				continue
			}
			byTs[bar.Ts] = append(byTs[bar.Ts], tickBar{ticker: t, bar: bar})
		}
	}

	var allTs []time.Time
	for ts := range byTs {
		allTs = append(allTs, ts)
	}
	sort.Slice(allTs, func(i, j int) bool { return allTs[i].Before(allTs[j]) })

	result := DayResult{Audit: DayAuditRecord{Date: day, WatchlistSize: len(tickers), Status: "no_trades"}}

	for _, ts := range allTs {
		group := byTs[ts]
		sort.Slice(group, func(i, j int) bool { return group[i].ticker < group[j].ticker })

		// Phase 2: execute pending intents queued from the previous bar,
		// exits before entries, ordered (ticker, kind) for determinism.
		type execItem struct {
			ticker string
			intent strategy.PendingIntent
		}
		var execs []execItem
		for _, tb := range group {
			for _, in := range pending[tb.ticker] {
				execs = append(execs, execItem{ticker: tb.ticker, intent: in})
			}
			delete(pending, tb.ticker)
		}
		sort.SliceStable(execs, func(i, j int) bool {
			oi, oj := execOrder(execs[i].intent.Kind), execOrder(execs[j].intent.Kind)
			if oi != oj {
				return oi < oj
			}
			return execs[i].ticker < execs[j].ticker
		})

		barByTicker := map[string]marketdata.Bar{}
		for _, tb := range group {
			barByTicker[tb.ticker] = tb.bar
		}

		// Phase 1: mark-to-market at prices known at bar open. Every open
		// position contributes, not just the ticker(s) with pending intents
		// this tick; a ticker with no bar this tick carries its last known
		// close forward.
		equityAtOpen := ledger.Equity(markToMarketPrices(ledger, barByTicker, lastBar))

		for _, ex := range execs {
			bar, ok := barByTicker[ex.ticker]
			if !ok {
				continue
			}
			s.execute(ex.ticker, ex.intent, bar, equityAtOpen, ledger, states[ex.ticker], &result)
		}

		// Phase 3: feature update and signal generation. Daily risk gates are
		// not applied here: they're checked at commit time in executeEntry,
		// against ledger state as of that bar's Phase 2, not this bar's.
		inEntryWindow := s.session.InEntryWindow(ts)
		for _, tb := range group {
			snap := pipelines[tb.ticker].Update(tb.bar)
			newIntents := s.engine.Evaluate(tb.ticker, tb.bar, snap, states[tb.ticker], inEntryWindow)
			pending[tb.ticker] = append(pending[tb.ticker], newIntents...)
		}

		// Phase 4: intrabar risk check, same bar, not queued.
		for _, tb := range group {
			pos, open := ledger.Positions[tb.ticker]
			if !open {
				continue
			}
			s.checkStop(tb.ticker, tb.bar, pos, ledger, states[tb.ticker], &result)
		}

		for _, tb := range group {
			lastBar[tb.ticker] = tb.bar
		}
	}

	// Force-flat: close any remaining position at that ticker's own last bar.
	for _, t := range tickers {
		pos, open := ledger.Positions[t]
		if !open {
			continue
		}
		bar, ok := lastBar[t]
		if !ok {
			return result, fmt.Errorf("backtest: %s has an open position but no bars were seen on %s", t, day.Format("2006-01-02"))
		}
		s.closePosition(t, pos, bar.Close, bar.Ts, "force_flat", ledger, states[t], &result)
	}

	for t := range ledger.Positions {
		return result, fmt.Errorf("backtest: invariant violated, %s still open after force-flat on %s", t, day.Format("2006-01-02"))
	}

	if result.Audit.TradesOpened > 0 {
		result.Audit.Status = "ok"
	}
	result.Audit.RealizedPnL = ledger.RealizedPnLToday

	observ.Log("day_complete", map[string]any{
		"date":          day.Format("2006-01-02"),
		"trades_opened": result.Audit.TradesOpened,
		"trades_closed": result.Audit.TradesClosed,
		"realized_pnl":  result.Audit.RealizedPnL.String(),
		"rejected":      result.Audit.RejectedIntents,
	})
	observ.DaysProcessed.WithLabelValues(result.Audit.Status).Inc()
	observ.FillsPerDay.Observe(float64(len(result.Fills)))

	return result, nil
}

// markToMarketPrices builds the per-ticker price map for Ledger.Equity at
// one bar timestamp: every currently open position gets this tick's bar
// open when it has one, else its last known bar's close.
func markToMarketPrices(ledger *Ledger, barByTicker, lastBar map[string]marketdata.Bar) map[string]float64 {
	prices := map[string]float64{}
	for t := range ledger.Positions {
		if b, ok := barByTicker[t]; ok {
			prices[t] = b.Open
		} else if b, ok := lastBar[t]; ok {
			prices[t] = b.Close
		}
	}
	return prices
}

func execOrder(k strategy.IntentKind) int {
	switch k {
	case strategy.Exit, strategy.ScaleOut:
		return 0
	default:
		return 1
	}
}

// riskGateBlocks applies the daily risk gates at commit time, against
// ledger state as it stands right before the entry is filled, so a same-
// batch exit whose realized loss trips MaxDailyLossDollars blocks the entry
// behind it. Exits never change the MaxTradesPerDay counter.
func (s *Simulator) riskGateBlocks(ticker string, in strategy.PendingIntent, ledger *Ledger) bool {
	if in.Kind != strategy.Enter {
		return false
	}
	if ledger.TradesOpenedToday[ticker] >= s.risk.MaxTradesPerDay {
		return true
	}
	maxLoss := money.FromFloat(s.risk.MaxDailyLossDollars)
	if money.LessOrEqual(ledger.RealizedPnLToday, maxLoss.Neg()) {
		return true
	}
	return false
}

func (s *Simulator) execute(ticker string, in strategy.PendingIntent, bar marketdata.Bar, equityAtOpen money.Amount, ledger *Ledger, st *strategy.TickerState, result *DayResult) {
	switch in.Kind {
	case strategy.Enter:
		s.executeEntry(ticker, in, bar, equityAtOpen, ledger, st, result)
	case strategy.ScaleOut:
		s.executeScaleOut(ticker, in, bar, ledger, st, result)
	case strategy.Exit:
		s.closePosition(ticker, ledger.Positions[ticker], bar.Open, bar.Ts, in.Reason, ledger, st, result)
	}
}

func (s *Simulator) entryPrice(open float64) money.Amount {
	slip := 1 + s.fills.SlippageBps/1e4
	px := money.FromFloat(open * slip)
	return money.Round(px.Add(money.FromFloat(s.fills.SpreadCents / 2 / 100)))
}

func (s *Simulator) exitPrice(open float64) money.Amount {
	slip := 1 - s.fills.SlippageBps/1e4
	px := money.FromFloat(open * slip)
	return money.Round(px.Sub(money.FromFloat(s.fills.SpreadCents / 2 / 100)))
}

func (s *Simulator) executeEntry(ticker string, in strategy.PendingIntent, bar marketdata.Bar, equityAtOpen money.Amount, ledger *Ledger, st *strategy.TickerState, result *DayResult) {
	reject := func(reason string) {
		result.Audit.RejectedIntents++
		observ.IntentsRejected.WithLabelValues(reason).Inc()
	}

	if _, open := ledger.Positions[ticker]; open {
		reject("already_open")
		return
	}
	entryPx := s.entryPrice(bar.Open)
	stopPx := money.FromFloat(in.StopBase)
	if money.GreaterOrEqual(stopPx, entryPx) {
		reject("stop_not_below_entry")
		return
	}

	equity := equityAtOpen
	riskDollars := money.Mul(money.FromFloat(s.risk.RiskPerTradePct), equity)
	perShareRisk := entryPx.Sub(stopPx)
	if perShareRisk.IsZero() || perShareRisk.IsNegative() {
		reject("zero_risk_per_share")
		return
	}
	qtyF, _ := riskDollars.Div(perShareRisk).Float64()
	qty := int(math.Floor(qtyF))
	if in.Starter {
		qty = int(math.Floor(float64(qty) * s.strategyCfg.StarterFraction))
	}
	if qty < 1 {
		reject("qty_below_one")
		return
	}
	notional := money.MulInt(entryPx, qty)
	maxNotional := money.Mul(money.FromFloat(s.risk.MaxPositionNotionalPct), equity)
	if money.GreaterThan(notional, maxNotional) {
		reject("notional_over_cap")
		return
	}
	if s.riskGateBlocks(ticker, in, ledger) {
		reject("daily_risk_gate")
		return
	}

	ledger.Cash = ledger.Cash.Sub(notional)
	tradeID := uuid.NewString()
	ledger.Positions[ticker] = &Position{
		Ticker: ticker, EntrySetup: in.Setup, EntryTTMState: in.TTMState, EntryPx: entryPx, StopPx: stopPx,
		Qty: qty, OriginalQty: qty, EntryTs: bar.Ts, SignalTs: in.SignalTs, TradeID: tradeID,
	}
	ledger.TradesOpenedToday[ticker]++
	entryPxF, _ := entryPx.Float64()
	st.Phase = strategy.Entered
	st.EntryPx = entryPxF
	st.StopPx = in.StopBase
	st.OriginalQty = qty
	st.RemainingQty = qty
	st.BarsHeld = 0

	result.Fills = append(result.Fills, FillRecord{
		TradeID: tradeID, Ticker: ticker, Ts: bar.Ts, Side: "BUY", Qty: qty, Price: entryPx,
		Fee: money.Zero, SignalTs: in.SignalTs, Setup: in.Setup,
	})
	result.Audit.TradesOpened++
	observ.EntriesFilled.WithLabelValues(string(in.Setup)).Inc()
}

func (s *Simulator) executeScaleOut(ticker string, in strategy.PendingIntent, bar marketdata.Bar, ledger *Ledger, st *strategy.TickerState, result *DayResult) {
	pos, open := ledger.Positions[ticker]
	if !open || pos.ScaledOut {
		return
	}
	qty := int(math.Floor(float64(pos.OriginalQty) * in.Fraction))
	if qty < 1 || qty >= pos.Qty {
		return
	}
	exitPx := s.exitPrice(bar.Open)
	proceeds := money.MulInt(exitPx, qty)
	pnl := money.MulInt(exitPx.Sub(pos.EntryPx), qty)

	ledger.Cash = ledger.Cash.Add(proceeds)
	pos.Qty -= qty
	pos.ScaledOut = true
	pos.ScalePnL = pnl

	raisedStop := pos.EntryPx
	if money.GreaterThan(pos.StopPx, raisedStop) {
		raisedStop = pos.StopPx
	}
	pos.StopPx = raisedStop
	raisedStopF, _ := raisedStop.Float64()
	st.StopPx = raisedStopF

	st.Phase = strategy.Scaled
	st.RemainingQty = pos.Qty
	st.ScaledOut = true

	result.Fills = append(result.Fills, FillRecord{
		TradeID: pos.TradeID, Ticker: ticker, Ts: bar.Ts, Side: "SELL", Qty: qty, Price: exitPx,
		Fee: money.Zero, SignalTs: in.SignalTs, Reason: "scale_out",
	})
	observ.ExitsFilled.WithLabelValues("scale_out").Inc()
}

func (s *Simulator) checkStop(ticker string, bar marketdata.Bar, pos *Position, ledger *Ledger, st *strategy.TickerState, result *DayResult) {
	stopF, _ := pos.StopPx.Float64()
	if bar.Open <= stopF {
		s.closePosition(ticker, pos, bar.Open, bar.Ts, "stop_hit_gap_through", ledger, st, result)
		return
	}
	if bar.Low <= stopF {
		s.closePosition(ticker, pos, stopF, bar.Ts, "stop_hit", ledger, st, result)
	}
}

func (s *Simulator) closePosition(ticker string, pos *Position, exitOpenOrStop float64, ts time.Time, reason string, ledger *Ledger, st *strategy.TickerState, result *DayResult) {
	if pos == nil {
		return
	}
	exitPx := s.exitPrice(exitOpenOrStop)
	fee := money.FromFloat(s.fills.FeesPerTrade)
	proceeds := money.MulInt(exitPx, pos.Qty)
	finalPnL := money.MulInt(exitPx.Sub(pos.EntryPx), pos.Qty)
	pnlTotal := pos.ScalePnL.Add(finalPnL).Sub(fee)

	ledger.Cash = ledger.Cash.Add(proceeds).Sub(fee)
	ledger.RealizedPnLToday = ledger.RealizedPnLToday.Add(pnlTotal)
	delete(ledger.Positions, ticker)

	strategy.ApplyCooldown(st, reason, ts, s.strategyCfg.CooldownMinutes)
	st.Phase = strategy.ExitedPh

	result.Fills = append(result.Fills, FillRecord{
		TradeID: pos.TradeID, Ticker: ticker, Ts: ts, Side: "SELL", Qty: pos.Qty, Price: exitPx,
		Fee: fee, Reason: reason,
	})
	result.Trades = append(result.Trades, TradeRecord{
		TradeID: pos.TradeID, Ticker: ticker, Setup: pos.EntrySetup, EntryTTMState: pos.EntryTTMState,
		EntryTs: pos.EntryTs, ExitTs: ts, SignalTs: pos.SignalTs,
		EntryPx: pos.EntryPx, ExitPx: exitPx, Qty: pos.OriginalQty,
		ScalePnLRealized: pos.ScalePnL, FinalExitPnL: finalPnL, FeesPaid: fee,
		PnLTotal: pnlTotal, ExitReason: reason,
	})
	result.Audit.TradesClosed++
	observ.ExitsFilled.WithLabelValues(reason).Inc()
}
