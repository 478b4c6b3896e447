package audit

import "github.com/ybi-research/backtest/internal/backtest"

// StratifiedAnalysis breaks trade performance down by dimensions that
// matter for diagnosing which part of the strategy is doing the work:
// time of day, TTM state at entry, day of week, and exit reason.
type StratifiedAnalysis struct {
	ByTimeOfDay map[string]PerformanceMetrics
	ByTTMState  map[string]PerformanceMetrics
	ByDayOfWeek map[string]PerformanceMetrics
	ByExitReason map[string]PerformanceMetrics
}

// RunStratifiedAnalysis computes PerformanceMetrics for every bucket of
// every dimension. Buckets with fewer than minSampleThreshold trades still
// appear, carrying PerformanceMetrics.InsufficientSample so downstream
// reporting can grey them out rather than silently dropping them.
func RunStratifiedAnalysis(trades []backtest.TradeRecord, accountEquity float64, minSampleThreshold int) StratifiedAnalysis {
	result := StratifiedAnalysis{
		ByTimeOfDay:  map[string]PerformanceMetrics{},
		ByTTMState:   map[string]PerformanceMetrics{},
		ByDayOfWeek:  map[string]PerformanceMetrics{},
		ByExitReason: map[string]PerformanceMetrics{},
	}
	if len(trades) == 0 {
		return result
	}

	byBucket := func(keyFn func(backtest.TradeRecord) string) map[string]PerformanceMetrics {
		grouped := map[string][]backtest.TradeRecord{}
		for _, t := range trades {
			k := keyFn(t)
			if k == "" {
				continue
			}
			grouped[k] = append(grouped[k], t)
		}
		out := map[string]PerformanceMetrics{}
		for k, ts := range grouped {
			out[k] = ComputeMetrics(ts, accountEquity, minSampleThreshold, nil)
		}
		return out
	}

	result.ByTimeOfDay = byBucket(func(t backtest.TradeRecord) string { return classifyTimeOfDay(t.EntryTs.Hour()) })
	result.ByTTMState = byBucket(func(t backtest.TradeRecord) string { return t.EntryTTMState })
	result.ByDayOfWeek = byBucket(func(t backtest.TradeRecord) string { return t.EntryTs.Weekday().String() })
	result.ByExitReason = byBucket(func(t backtest.TradeRecord) string { return t.ExitReason })

	return result
}

func classifyTimeOfDay(hour int) string {
	switch {
	case hour < 9:
		return "premarket"
	case hour == 9:
		return "first_30min"
	case hour == 10:
		return "10am_hour"
	case hour == 11:
		return "11am_hour"
	case hour < 15:
		return "midday"
	case hour == 15:
		return "power_hour"
	default:
		return "after_hours"
	}
}
