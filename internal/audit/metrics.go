// Package audit computes performance metrics and statistical inference over
// a completed backtest's trades, and the sanity checks (P&L reconciliation,
// signal/entry causality) that verify the simulation itself behaved.
package audit

import (
	"math"
	"sort"

	"github.com/ybi-research/backtest/internal/backtest"
)

// PerformanceMetrics is the standard scorecard for one set of trades: a
// whole run, a stratified bucket, or one walk-forward fold.
type PerformanceMetrics struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	BreakevenTrades int

	WinRate  float64
	LossRate float64

	TotalPnL    float64
	AvgPnL      float64
	MedianPnL   float64
	StdPnL      float64
	AvgWin      float64
	AvgLoss     float64
	LargestWin  float64
	LargestLoss float64

	Expectancy                float64
	ExpectancyPerDollarRisked float64
	ProfitFactor               float64

	SharpeRatio  float64
	SortinoRatio float64
	CalmarRatio  float64

	MaxDrawdown               float64
	MaxDrawdownPct            float64
	AvgDrawdown               float64
	MaxDrawdownDurationTrades int

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AvgWinStreak         float64
	AvgLossStreak        float64

	TStatistic        float64
	PValue            float64
	IsSignificant5Pct bool
	IsSignificant1Pct bool
	MeanDailyPnL      float64
	PnLSign           string // positive | negative | zero
	TradingDaysInSample int

	WinRateBySetup   map[string]float64
	TradeCountBySetup map[string]int

	InsufficientSample  bool
	SampleSizeWarning   string
}

// ComputeMetrics computes the full scorecard over trades. allTradingDays, if
// non-nil, widens the daily P&L series to include zero-trade days so
// Sharpe/Sortino/significance are not biased toward days the strategy
// happened to trade.
func ComputeMetrics(trades []backtest.TradeRecord, accountEquity float64, minSampleThreshold int, allTradingDays []string) PerformanceMetrics {
	m := PerformanceMetrics{PnLSign: "zero", WinRateBySetup: map[string]float64{}, TradeCountBySetup: map[string]int{}}

	n := len(trades)
	if n == 0 {
		m.InsufficientSample = true
		m.SampleSizeWarning = "No trades (N=0)"
		return m
	}
	if n < minSampleThreshold {
		m.InsufficientSample = true
		m.SampleSizeWarning = sampleWarning(n, minSampleThreshold)
	}

	pnl := make([]float64, n)
	for i, t := range trades {
		pnl[i], _ = t.PnLTotal.Float64()
	}

	m.TotalTrades = n
	for _, p := range pnl {
		switch {
		case p > 0:
			m.WinningTrades++
		case p < 0:
			m.LosingTrades++
		default:
			m.BreakevenTrades++
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(n)
	m.LossRate = float64(m.LosingTrades) / float64(n)

	m.TotalPnL = sum(pnl)
	m.AvgPnL = m.TotalPnL / float64(n)
	m.MedianPnL = median(pnl)
	m.StdPnL = stdDev(pnl, m.AvgPnL)

	wins, losses := splitWinsLosses(pnl)
	if len(wins) > 0 {
		m.AvgWin = mean(wins)
		m.LargestWin = maxOf(wins)
	}
	if len(losses) > 0 {
		m.AvgLoss = mean(losses)
		m.LargestLoss = minOf(losses)
	}

	m.Expectancy = m.WinRate*m.AvgWin + m.LossRate*m.AvgLoss
	if m.AvgLoss != 0 {
		m.ExpectancyPerDollarRisked = m.Expectancy / math.Abs(m.AvgLoss)
	}

	grossProfit := sum(wins)
	grossLoss := math.Abs(sum(losses))
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}

	equityCurve := cumulativeEquity(accountEquity, pnl)
	m.MaxDrawdown, m.MaxDrawdownPct, m.AvgDrawdown = drawdownStats(equityCurve)
	m.MaxDrawdownDurationTrades = maxDrawdownDuration(equityCurve)

	m.MaxConsecutiveWins, m.MaxConsecutiveLosses = streaks(pnl)
	m.AvgWinStreak, m.AvgLossStreak = avgStreaks(pnl)

	dates, dailyPnL := dailyPnLSeries(trades, allTradingDays)
	m.TradingDaysInSample = len(dates)
	if len(dailyPnL) > 1 {
		m.MeanDailyPnL = mean(dailyPnL)
		switch {
		case m.MeanDailyPnL > 0:
			m.PnLSign = "positive"
		case m.MeanDailyPnL < 0:
			m.PnLSign = "negative"
		}
		t, p := oneSampleTTest(dailyPnL)
		m.TStatistic = t
		m.PValue = p
		m.IsSignificant5Pct = p < 0.05
		m.IsSignificant1Pct = p < 0.01

		dailyReturns := dailyReturnSeries(accountEquity, dailyPnL)
		meanRet, stdRet := mean(dailyReturns), stdDev(dailyReturns, mean(dailyReturns))
		if stdRet > 0 {
			m.SharpeRatio = meanRet / stdRet * math.Sqrt(252)
		}
		downside := negativesOnly(dailyReturns)
		if len(downside) > 0 {
			if dstd := stdDev(downside, mean(downside)); dstd > 0 {
				m.SortinoRatio = meanRet / dstd * math.Sqrt(252)
			}
		}
		if m.MaxDrawdownPct != 0 {
			totalReturn := sum(dailyReturns)
			annualizedReturn := totalReturn * (252.0 / float64(len(dailyPnL)))
			m.CalmarRatio = annualizedReturn / math.Abs(m.MaxDrawdownPct)
		}
	}

	m.WinRateBySetup, m.TradeCountBySetup = winRateBySetup(trades, pnl)

	return m
}

func sampleWarning(n, threshold int) string {
	return "insufficient sample size for reliable statistics"
}

func winRateBySetup(trades []backtest.TradeRecord, pnl []float64) (map[string]float64, map[string]int) {
	counts := map[string]int{}
	wins := map[string]int{}
	for i, t := range trades {
		setup := string(t.Setup)
		counts[setup]++
		if pnl[i] > 0 {
			wins[setup]++
		}
	}
	rates := map[string]float64{}
	for setup, n := range counts {
		rates[setup] = float64(wins[setup]) / float64(n)
	}
	return rates, counts
}

func dailyPnLSeries(trades []backtest.TradeRecord, allTradingDays []string) ([]string, []float64) {
	byDate := map[string]float64{}
	for _, t := range trades {
		d := t.EntryTs.Format("2006-01-02")
		p, _ := t.PnLTotal.Float64()
		byDate[d] += p
	}
	var dates []string
	if len(allTradingDays) > 0 {
		dates = append(dates, allTradingDays...)
	} else {
		for d := range byDate {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	pnl := make([]float64, len(dates))
	for i, d := range dates {
		pnl[i] = byDate[d]
	}
	return dates, pnl
}

func dailyReturnSeries(startingEquity float64, dailyPnL []float64) []float64 {
	returns := make([]float64, len(dailyPnL))
	equity := startingEquity
	for i, p := range dailyPnL {
		next := equity + p
		if equity > 0 {
			returns[i] = (next - equity) / equity
		}
		equity = next
	}
	return returns
}

func cumulativeEquity(start float64, pnl []float64) []float64 {
	curve := make([]float64, len(pnl))
	running := start
	for i, p := range pnl {
		running += p
		curve[i] = running
	}
	return curve
}

func drawdownStats(equityCurve []float64) (maxDD, maxDDPct, avgDD float64) {
	if len(equityCurve) == 0 {
		return 0, 0, 0
	}
	runningMax := equityCurve[0]
	var sumNeg float64
	var countNeg int
	for _, e := range equityCurve {
		if e > runningMax {
			runningMax = e
		}
		dd := e - runningMax
		if dd < maxDD {
			maxDD = dd
			if runningMax != 0 {
				maxDDPct = dd / runningMax
			}
		}
		if dd < 0 {
			sumNeg += dd
			countNeg++
		}
	}
	if countNeg > 0 {
		avgDD = sumNeg / float64(countNeg)
	}
	return maxDD, maxDDPct, avgDD
}

func maxDrawdownDuration(equityCurve []float64) int {
	if len(equityCurve) == 0 {
		return 0
	}
	runningMax := equityCurve[0]
	maxDuration, current := 0, 0
	for _, e := range equityCurve {
		if e > runningMax {
			runningMax = e
		}
		if e < runningMax {
			current++
			if current > maxDuration {
				maxDuration = current
			}
		} else {
			current = 0
		}
	}
	return maxDuration
}

func streaks(pnl []float64) (maxWins, maxLosses int) {
	var curWins, curLosses int
	for _, p := range pnl {
		switch {
		case p > 0:
			curWins++
			curLosses = 0
			if curWins > maxWins {
				maxWins = curWins
			}
		case p < 0:
			curLosses++
			curWins = 0
			if curLosses > maxLosses {
				maxLosses = curLosses
			}
		default:
			curWins, curLosses = 0, 0
		}
	}
	return maxWins, maxLosses
}

func avgStreaks(pnl []float64) (avgWin, avgLoss float64) {
	var winStreaks, lossStreaks []int
	var curWins, curLosses int
	flush := func() {
		if curWins > 0 {
			winStreaks = append(winStreaks, curWins)
		}
		if curLosses > 0 {
			lossStreaks = append(lossStreaks, curLosses)
		}
		curWins, curLosses = 0, 0
	}
	for _, p := range pnl {
		switch {
		case p > 0:
			if curLosses > 0 {
				lossStreaks = append(lossStreaks, curLosses)
				curLosses = 0
			}
			curWins++
		case p < 0:
			if curWins > 0 {
				winStreaks = append(winStreaks, curWins)
				curWins = 0
			}
			curLosses++
		default:
			flush()
		}
	}
	flush()
	return meanInt(winStreaks), meanInt(lossStreaks)
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func meanInt(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s int
	for _, x := range xs {
		s += x
	}
	return float64(s) / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stdDev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func splitWinsLosses(pnl []float64) (wins, losses []float64) {
	for _, p := range pnl {
		switch {
		case p > 0:
			wins = append(wins, p)
		case p < 0:
			losses = append(losses, p)
		}
	}
	return
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func negativesOnly(xs []float64) []float64 {
	var out []float64
	for _, x := range xs {
		if x < 0 {
			out = append(out, x)
		}
	}
	return out
}
