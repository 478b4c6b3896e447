// Package backtest runs the single-threaded, per-day event loop that
// drives feature computation and strategy signals into fills, and
// maintains the cash/position ledger those fills produce.
package backtest

import (
	"time"

	"github.com/ybi-research/backtest/internal/money"
	"github.com/ybi-research/backtest/internal/strategy"
)

// FillRecord is one executed order: an entry, a scale-out, or a final
// exit.
type FillRecord struct {
	TradeID  string
	Ticker   string
	Ts       time.Time
	Side     string // BUY | SELL
	Qty      int
	Price    money.Amount
	Fee      money.Amount
	SignalTs time.Time
	Setup    strategy.Setup
	Reason   string
}

// TradeRecord is one complete round trip, emitted when a position closes
// out fully (after any scale-outs).
type TradeRecord struct {
	TradeID        string
	Ticker         string
	Setup          strategy.Setup
	EntryTTMState  string
	EntryTs        time.Time
	ExitTs         time.Time
	SignalTs       time.Time
	EntryPx        money.Amount
	ExitPx         money.Amount
	Qty            int
	ScalePnLRealized money.Amount
	FinalExitPnL   money.Amount
	FeesPaid       money.Amount
	PnLTotal       money.Amount
	ExitReason     string
}

// EntryReason renders the setup + TTM-state tag the stratified report
// expects, e.g. "a|ttm=weak_bull".
func (t TradeRecord) EntryReason() string {
	return string(t.Setup) + "|ttm=" + t.EntryTTMState
}

// DayAuditRecord summarises one trading day's simulation outcome for the
// inference layer's eligible-day determination.
type DayAuditRecord struct {
	Date           time.Time
	Status         string // ok | no_trades | no_watchlist | error
	WatchlistSize  int
	TradesOpened   int
	TradesClosed   int
	RealizedPnL    money.Amount
	RejectedIntents int
	Error          string
}

// Position is an open holding for one ticker.
type Position struct {
	Ticker        string
	EntrySetup    strategy.Setup
	EntryTTMState string
	EntryPx       money.Amount
	StopPx        money.Amount
	Qty           int
	OriginalQty   int
	EntryTs       time.Time
	SignalTs      time.Time
	TradeID       string
	ScaledOut     bool
	ScalePnL      money.Amount
}

// Ledger is the cash/position bookkeeping for the whole run. Cash and
// positions carry across trading days; the caller resets RealizedPnLToday
// and TradesOpenedToday after every trading day.
type Ledger struct {
	Cash              money.Amount
	StartingCash      money.Amount
	Positions         map[string]*Position
	RealizedPnLToday  money.Amount
	TradesOpenedToday map[string]int // ticker -> count, for max_trades_per_day
}

func NewLedger(startingCash money.Amount) *Ledger {
	return &Ledger{
		Cash:              startingCash,
		StartingCash:      startingCash,
		Positions:         map[string]*Position{},
		RealizedPnLToday:  money.Zero,
		TradesOpenedToday: map[string]int{},
	}
}

// Equity returns cash plus the mark-to-market value of every open position
// at the supplied per-ticker prices (callers pass the price known at the
// current phase, e.g. bar.Open for phase 1's mark-to-market).
func (l *Ledger) Equity(pricesAtOpen map[string]float64) money.Amount {
	equity := l.Cash
	for ticker, pos := range l.Positions {
		px, ok := pricesAtOpen[ticker]
		if !ok {
			continue
		}
		equity = equity.Add(money.MulInt(money.FromFloat(px), pos.Qty))
	}
	return equity
}
