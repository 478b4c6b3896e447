package audit

import (
	"math"
	"math/rand"
	"sort"

	"github.com/ybi-research/backtest/internal/backtest"
)

// NegativeControlResult is the block-bootstrap hypothesis test of
// H0: E[daily P&L] == 0, resampling contiguous blocks of whole trading days
// (not individual trades, and not single days in isolation) so the null
// distribution respects both the same-day and the day-to-day serial
// correlation real trades have with each other.
type NegativeControlResult struct {
	NBootstrap int
	NDays      int
	NTrades    int

	ObservedMeanDailyPnL float64
	ObservedTotalPnL     float64
	ObservedSharpe       float64

	InsufficientSample bool
	SampleSizeWarning  string

	NullMean            float64
	NullStdErr          float64
	Null5thPercentile   float64
	Null95thPercentile  float64

	TStatistic        float64
	PValue            float64
	IsSignificant5Pct bool
	IsSignificant1Pct bool

	CILower95 float64
	CIUpper95 float64
}

// BlockBootstrapTest resamples daily P&L with replacement n times to build a
// null distribution centered at zero, then reports where the observed mean
// falls in it. Below minDaysThreshold days the result is flagged
// unreliable; the CLI passes 20. blockLen is the length of
// the contiguous day-blocks drawn on each resample (a moving block
// bootstrap, wrapping past the end of the series); values below 1 fall
// back to a block length of 1, i.e. single-day resampling.
func BlockBootstrapTest(trades []backtest.TradeRecord, nBootstrap, minDaysThreshold, blockLen int, allTradingDays []string, rng *rand.Rand) NegativeControlResult {
	result := NegativeControlResult{NBootstrap: nBootstrap, NTrades: len(trades)}

	_, dailyPnL := dailyPnLSeries(trades, allTradingDays)
	nDays := len(dailyPnL)
	result.NDays = nDays
	if nDays < 5 {
		result.InsufficientSample = true
		result.SampleSizeWarning = "too few trading days for a meaningful bootstrap test"
		return result
	}
	if nDays < minDaysThreshold {
		result.InsufficientSample = true
		result.SampleSizeWarning = "insufficient trading days for bootstrap"
	}
	if blockLen < 1 {
		blockLen = 1
	}
	if blockLen > nDays {
		blockLen = nDays
	}

	observedMean := mean(dailyPnL)
	observedStd := stdDev(dailyPnL, observedMean)
	result.ObservedMeanDailyPnL = observedMean
	result.ObservedTotalPnL = sum(dailyPnL)
	if observedStd > 0 {
		result.ObservedSharpe = observedMean / observedStd * math.Sqrt(252)
	}

	centered := make([]float64, nDays)
	for i, p := range dailyPnL {
		centered[i] = p - observedMean
	}

	bootstrapMeans := make([]float64, nBootstrap)
	uncenteredMeans := make([]float64, nBootstrap)
	for i := 0; i < nBootstrap; i++ {
		var centeredSum, rawSum float64
		for filled := 0; filled < nDays; {
			start := rng.Intn(nDays)
			for k := 0; k < blockLen && filled < nDays; k++ {
				idx := (start + k) % nDays
				centeredSum += centered[idx]
				rawSum += dailyPnL[idx]
				filled++
			}
		}
		bootstrapMeans[i] = centeredSum / float64(nDays)
		uncenteredMeans[i] = rawSum / float64(nDays)
	}

	result.NullMean = mean(bootstrapMeans)
	result.NullStdErr = stdDev(bootstrapMeans, result.NullMean)
	result.Null5thPercentile = percentile(bootstrapMeans, 5)
	result.Null95thPercentile = percentile(bootstrapMeans, 95)

	extreme := 0
	absObserved := math.Abs(observedMean)
	for _, bm := range bootstrapMeans {
		if math.Abs(bm) >= absObserved {
			extreme++
		}
	}
	result.PValue = float64(extreme+1) / float64(nBootstrap+1)
	if result.NullStdErr > 0 {
		result.TStatistic = observedMean / result.NullStdErr
	}
	result.IsSignificant5Pct = result.PValue < 0.05
	result.IsSignificant1Pct = result.PValue < 0.01

	result.CILower95 = percentile(uncenteredMeans, 2.5)
	result.CIUpper95 = percentile(uncenteredMeans, 97.5)

	return result
}

func percentile(xs []float64, pct float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sortFloats(sorted)
	idx := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// MonteCarloResult is the bootstrap distribution of total P&L and max
// drawdown over resampled trade sequences, used to size tail risk that a
// single realized equity curve can't show.
type MonteCarloResult struct {
	NSimulations     int
	NTrades          int
	OriginalTotalPnL float64

	InsufficientSample bool
	SampleSizeWarning  string

	MeanFinalPnL       float64
	MedianFinalPnL     float64
	StdFinalPnL        float64
	PnL5thPercentile   float64
	PnL25thPercentile  float64
	PnL75thPercentile  float64
	PnL95thPercentile  float64

	MeanMaxDrawdown           float64
	MedianMaxDrawdown         float64
	MaxDrawdown95thPercentile float64

	ProbabilityOfProfit float64
	ProbabilityOfRuin   float64
	VaR95               float64
	CVaR95              float64

	ExpectancyCILower float64
	ExpectancyCIUpper float64
}

// MonteCarloSimulation bootstraps trade order (not daily grouping) to
// estimate the distribution of outcomes a different trade sequence could
// have produced from the same edge.
func MonteCarloSimulation(trades []backtest.TradeRecord, nSimulations int, accountEquity, ruinThresholdPct float64, minSampleThreshold int, rng *rand.Rand) MonteCarloResult {
	result := MonteCarloResult{NSimulations: nSimulations, NTrades: len(trades)}
	if len(trades) == 0 {
		return result
	}
	if len(trades) < minSampleThreshold {
		result.InsufficientSample = true
		result.SampleSizeWarning = "insufficient sample for Monte Carlo"
	}

	pnl := make([]float64, len(trades))
	for i, t := range trades {
		pnl[i], _ = t.PnLTotal.Float64()
	}
	result.OriginalTotalPnL = sum(pnl)
	n := len(pnl)
	ruinThreshold := -accountEquity * ruinThresholdPct

	finalPnLs := make([]float64, nSimulations)
	maxDrawdowns := make([]float64, nSimulations)
	expectancies := make([]float64, nSimulations)

	for i := 0; i < nSimulations; i++ {
		sample := make([]float64, n)
		for j := range sample {
			sample[j] = pnl[rng.Intn(n)]
		}
		finalPnLs[i] = sum(sample)

		equityCurve := cumulativeEquity(accountEquity, sample)
		runningMax := equityCurve[0]
		minDrawdown := 0.0
		for _, e := range equityCurve {
			if e > runningMax {
				runningMax = e
			}
			if dd := e - runningMax; dd < minDrawdown {
				minDrawdown = dd
			}
		}
		maxDrawdowns[i] = minDrawdown

		wins, losses := splitWinsLosses(sample)
		winRate := float64(len(wins)) / float64(n)
		lossRate := float64(len(losses)) / float64(n)
		expectancies[i] = winRate*mean(wins) + lossRate*mean(losses)
	}

	result.MeanFinalPnL = mean(finalPnLs)
	result.MedianFinalPnL = median(finalPnLs)
	result.StdFinalPnL = stdDev(finalPnLs, result.MeanFinalPnL)
	result.PnL5thPercentile = percentile(finalPnLs, 5)
	result.PnL25thPercentile = percentile(finalPnLs, 25)
	result.PnL75thPercentile = percentile(finalPnLs, 75)
	result.PnL95thPercentile = percentile(finalPnLs, 95)

	result.MeanMaxDrawdown = mean(maxDrawdowns)
	result.MedianMaxDrawdown = median(maxDrawdowns)
	result.MaxDrawdown95thPercentile = percentile(maxDrawdowns, 5)

	var profitable, ruined int
	for i := range finalPnLs {
		if finalPnLs[i] > 0 {
			profitable++
		}
		if maxDrawdowns[i] < ruinThreshold {
			ruined++
		}
	}
	result.ProbabilityOfProfit = float64(profitable) / float64(nSimulations)
	result.ProbabilityOfRuin = float64(ruined) / float64(nSimulations)

	result.VaR95 = percentile(finalPnLs, 5)
	var belowVar []float64
	for _, p := range finalPnLs {
		if p <= result.VaR95 {
			belowVar = append(belowVar, p)
		}
	}
	if len(belowVar) > 0 {
		result.CVaR95 = mean(belowVar)
	} else {
		result.CVaR95 = result.VaR95
	}

	result.ExpectancyCILower = percentile(expectancies, 2.5)
	result.ExpectancyCIUpper = percentile(expectancies, 97.5)

	return result
}

// WalkForwardResult is the in-sample/out-of-sample performance split across
// chronological folds, used to check whether an edge measured on the whole
// sample survives when the strategy never "sees" the fold it's scored on.
type WalkForwardResult struct {
	NFolds        int
	NTotalTrades  int
	InSample      []PerformanceMetrics
	OutOfSample   []PerformanceMetrics

	InsufficientSample bool
	SampleSizeWarning  string

	OOSTotalTrades int
	OOSTotalPnL    float64
	OOSWinRate     float64
	OOSAvgPnL      float64
	OOSSharpe      float64

	OOSProfitableFolds   int
	OOSProfitableFoldPct float64

	AvgWinRateDegradation float64
	AvgPnLDegradation     float64
}

// WalkForwardValidation splits trades chronologically into nFolds folds,
// each split trainPct/the-rest into an in-sample and out-of-sample slice,
// and reports whether out-of-sample performance holds up.
func WalkForwardValidation(trades []backtest.TradeRecord, nFolds int, trainPct, accountEquity float64, minSampleThreshold int) WalkForwardResult {
	result := WalkForwardResult{NFolds: nFolds}
	if len(trades) == 0 {
		result.InsufficientSample = true
		result.SampleSizeWarning = "no trades for walk-forward validation"
		return result
	}

	sorted := append([]backtest.TradeRecord{}, trades...)
	sortTradesByEntry(sorted)
	n := len(sorted)
	result.NTotalTrades = n

	if n < minSampleThreshold {
		result.InsufficientSample = true
		result.SampleSizeWarning = "insufficient sample for walk-forward"
	}
	if n < nFolds*2 {
		if !result.InsufficientSample {
			result.InsufficientSample = true
			result.SampleSizeWarning = "too few trades for this many folds"
		}
		return result
	}

	foldSize := n / nFolds
	var oosAll []backtest.TradeRecord

	for fold := 0; fold < nFolds; fold++ {
		start := fold * foldSize
		end := (fold + 1) * foldSize
		if fold == nFolds-1 {
			end = n
		}
		foldTrades := sorted[start:end]
		if len(foldTrades) < 4 {
			continue
		}
		trainN := int(float64(len(foldTrades)) * trainPct)
		trainTrades := foldTrades[:trainN]
		testTrades := foldTrades[trainN:]
		if len(trainTrades) < 2 || len(testTrades) < 1 {
			continue
		}

		isM := ComputeMetrics(trainTrades, accountEquity, 0, nil)
		oosM := ComputeMetrics(testTrades, accountEquity, 0, nil)
		result.InSample = append(result.InSample, isM)
		result.OutOfSample = append(result.OutOfSample, oosM)
		oosAll = append(oosAll, testTrades...)
	}

	if len(oosAll) > 0 {
		agg := ComputeMetrics(oosAll, accountEquity, 0, nil)
		result.OOSTotalTrades = agg.TotalTrades
		result.OOSTotalPnL = agg.TotalPnL
		result.OOSWinRate = agg.WinRate
		result.OOSAvgPnL = agg.AvgPnL
		result.OOSSharpe = agg.SharpeRatio
	}

	for _, m := range result.OutOfSample {
		if m.TotalPnL > 0 {
			result.OOSProfitableFolds++
		}
	}
	if len(result.OutOfSample) > 0 {
		result.OOSProfitableFoldPct = float64(result.OOSProfitableFolds) / float64(len(result.OutOfSample))
	}

	if len(result.InSample) > 0 && len(result.OutOfSample) > 0 {
		var winRateDiffs, pnlDiffs []float64
		for i := range result.InSample {
			isM, oosM := result.InSample[i], result.OutOfSample[i]
			winRateDiffs = append(winRateDiffs, isM.WinRate-oosM.WinRate)
			if isM.AvgPnL != 0 {
				pnlDiffs = append(pnlDiffs, (isM.AvgPnL-oosM.AvgPnL)/math.Abs(isM.AvgPnL))
			}
		}
		result.AvgWinRateDegradation = mean(winRateDiffs)
		result.AvgPnLDegradation = mean(pnlDiffs)
	}

	return result
}

func sortTradesByEntry(trades []backtest.TradeRecord) {
	sort.Slice(trades, func(i, j int) bool { return trades[i].EntryTs.Before(trades[j].EntryTs) })
}

func sortFloats(xs []float64) {
	sort.Float64s(xs)
}
