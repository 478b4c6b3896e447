package universe

import (
	"context"
	"sort"
	"time"

	"github.com/ybi-research/backtest/internal/calendar"
	"github.com/ybi-research/backtest/internal/config"
	"github.com/ybi-research/backtest/internal/marketdata"
)

// WatchlistItem is published once per (date, ticker) and never mutated
// afterward.
type WatchlistItem struct {
	Date                   time.Time
	Ticker                 string
	PrevClose              float64
	PremarketHigh          float64
	PremarketLow           float64
	PremarketVolume        float64
	PremarketDollarVolume  float64
	PremarketPct           float64
	GapOpenPct             float64
	SelectionMethod        string
	Rank                   int
}

// UniverseEmpty signals that no candidates survived selection for a day;
// this is not an error, it downgrades the day to status=no_watchlist.
type UniverseEmpty struct{ Date time.Time }

func (e *UniverseEmpty) Error() string { return "no watchlist candidates for " + e.Date.Format("2006-01-02") }
func (e *UniverseEmpty) Code() string  { return "universe_empty" }

// Builder constructs the daily watchlist using only data available before
// decision time, per the active selection method.
type Builder struct {
	data marketdata.Client
	cal  *calendar.Calendar
	cfg  config.Root
}

func NewBuilder(data marketdata.Client, cal *calendar.Calendar, cfg config.Root) *Builder {
	return &Builder{data: data, cal: cal, cfg: cfg}
}

func inPriceRange(price float64, cfg config.Universe) bool {
	return price >= cfg.PriceMin && price <= cfg.PriceMax
}

// candidatePool returns the prior-day grouped bars filtered by price range
// and universe hygiene, sorted by prior-day volume descending (ties broken
// by ticker ascending), truncated to max_candidates_to_scan. This ordering
// is deterministic and computed before any premarket data is fetched, as
// required for the premarket_gap and premarket_screener methods.
func (b *Builder) candidatePool(ctx context.Context, day time.Time) ([]string, map[string]marketdata.DailyBar, error) {
	prevDay := b.cal.PrevTradingDayWithData(day, dataAdapter{b.data})
	prevGrouped, err := b.data.GroupedDaily(ctx, prevDay)
	if err != nil {
		return nil, nil, err
	}

	type cand struct {
		ticker string
		bar    marketdata.DailyBar
	}
	var cands []cand
	for ticker, bar := range prevGrouped {
		if !inPriceRange(bar.Close, b.cfg.Universe) {
			continue
		}
		ref, err := b.data.Reference(ctx, ticker)
		if err != nil {
			return nil, nil, err
		}
		if !PassesHygiene(ticker, ref, b.cfg.Universe.UseReferenceData) {
			continue
		}
		cands = append(cands, cand{ticker: ticker, bar: bar})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].bar.Volume != cands[j].bar.Volume {
			return cands[i].bar.Volume > cands[j].bar.Volume
		}
		return cands[i].ticker < cands[j].ticker
	})
	if max := b.cfg.Universe.MaxCandidatesScan; max > 0 && len(cands) > max {
		cands = cands[:max]
	}

	tickers := make([]string, 0, len(cands))
	prevClose := make(map[string]marketdata.DailyBar, len(cands))
	for _, c := range cands {
		tickers = append(tickers, c.ticker)
		prevClose[c.ticker] = c.bar
	}
	return tickers, prevClose, nil
}

type dataAdapter struct{ c marketdata.Client }

func (d dataAdapter) HasDailyBar(date time.Time) bool {
	grouped, err := d.c.GroupedDaily(context.Background(), date)
	return err == nil && len(grouped) > 0
}

// Build dispatches to the active selection method and returns an ordered,
// capped watchlist, or UniverseEmpty if nothing survives.
func (b *Builder) Build(ctx context.Context, day time.Time) ([]WatchlistItem, error) {
	var items []WatchlistItem
	var err error
	switch b.cfg.Watchlist.Method {
	case "gap_open":
		items, err = b.buildGapOpen(ctx, day)
	case "premarket_gap":
		items, err = b.buildPremarketGap(ctx, day, true)
	case "premarket_screener":
		items, err = b.buildPremarketGap(ctx, day, false)
	default:
		items, err = b.buildGapOpen(ctx, day)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &UniverseEmpty{Date: day}
	}
	if top := b.cfg.Watchlist.TopN; top > 0 && len(items) > top {
		items = items[:top]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items, nil
}

func (b *Builder) buildGapOpen(ctx context.Context, day time.Time) ([]WatchlistItem, error) {
	tickers, prevClose, err := b.candidatePool(ctx, day)
	if err != nil {
		return nil, err
	}
	todayGrouped, err := b.data.GroupedDaily(ctx, day)
	if err != nil {
		return nil, err
	}

	var items []WatchlistItem
	for _, ticker := range tickers {
		today, ok := todayGrouped[ticker]
		if !ok || prevClose[ticker].Close == 0 {
			continue
		}
		gap := today.Open/prevClose[ticker].Close - 1
		items = append(items, WatchlistItem{
			Date:            day,
			Ticker:          ticker,
			PrevClose:       prevClose[ticker].Close,
			GapOpenPct:      gap,
			SelectionMethod: "gap_open",
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].GapOpenPct != items[j].GapOpenPct {
			return items[i].GapOpenPct > items[j].GapOpenPct
		}
		return items[i].Ticker < items[j].Ticker
	})
	return items, nil
}

func (b *Builder) buildPremarketGap(ctx context.Context, day time.Time, computeDollarVolume bool) ([]WatchlistItem, error) {
	tickers, prevClose, err := b.candidatePool(ctx, day)
	if err != nil {
		return nil, err
	}
	session := b.cal.Session()
	premarketEnd := session.RTHOpenOn(day).Add(-time.Minute) // 09:29 ET

	method := "premarket_gap"
	if !computeDollarVolume {
		method = "premarket_screener"
	}

	var items []WatchlistItem
	for _, ticker := range tickers {
		bars, err := b.data.MinuteBars(ctx, ticker, day, true)
		if err != nil {
			return nil, err
		}
		var high, low, vol, dollarVol, last float64
		seen := false
		for _, bar := range bars {
			if bar.Ts.Before(session.PremarketStartOn(day)) || bar.Ts.After(premarketEnd) {
				continue
			}
			if !seen || bar.High > high {
				high = bar.High
			}
			if !seen || bar.Low < low {
				low = bar.Low
			}
			vol += bar.Volume
			if computeDollarVolume {
				dollarVol += bar.Volume * bar.Close
			}
			last = bar.Close
			seen = true
		}
		if !seen || prevClose[ticker].Close == 0 {
			continue
		}
		pct := last/prevClose[ticker].Close - 1
		if pct < b.cfg.Watchlist.MinPremarketPct {
			continue
		}
		if vol < b.cfg.Watchlist.MinPremarketVolume {
			continue
		}
		if computeDollarVolume && dollarVol < b.cfg.Watchlist.MinPremarketDollarVolume {
			continue
		}
		items = append(items, WatchlistItem{
			Date:                  day,
			Ticker:                ticker,
			PrevClose:             prevClose[ticker].Close,
			PremarketHigh:         high,
			PremarketLow:          low,
			PremarketVolume:       vol,
			PremarketDollarVolume: dollarVol,
			PremarketPct:          pct,
			SelectionMethod:       method,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].PremarketPct != items[j].PremarketPct {
			return items[i].PremarketPct > items[j].PremarketPct
		}
		return items[i].Ticker < items[j].Ticker
	})
	return items, nil
}
