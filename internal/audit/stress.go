package audit

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ybi-research/backtest/internal/backtest"
)

// StressTestResult is a heuristic perturbation of realized trade P&L.
//
// These are NOT negative controls for lookahead bias: they perturb
// already-realized outcomes rather than resimulating with shifted entry
// times against price data, so they cannot detect a signal that leaked
// future information. Lookahead is instead checked directly by
// LeakageAudit's signal_ts < entry_ts invariant.
type StressTestResult struct {
	Method  string
	NSimulations int
	NTrades int

	ObservedMeanPnL  float64
	ObservedTotalPnL float64
	ObservedWinRate  float64

	PerturbedMeanPnL      float64
	PerturbedStdPnL       float64
	PerturbedTotalPnLMean float64
	PerturbedWinRateMean  float64

	Interpretation string
}

// TimeShiftStressTest perturbs trade P&L by randomly dropping trades (at a
// probability scaled by shiftMinutes) and adding noise, as a stand-in for
// "what if fills happened a few minutes later". See the StressTestResult
// doc comment for why this is a heuristic, not a leakage test.
func TimeShiftStressTest(trades []backtest.TradeRecord, shiftMinutes, nSimulations int, rng *rand.Rand) StressTestResult {
	result := StressTestResult{Method: fmt.Sprintf("time_shift_heuristic_%dmin", shiftMinutes), NSimulations: nSimulations}
	if len(trades) == 0 {
		result.Interpretation = "no trades to analyze"
		return result
	}
	result.NTrades = len(trades)

	pnl := make([]float64, len(trades))
	for i, t := range trades {
		pnl[i], _ = t.PnLTotal.Float64()
	}
	result.ObservedMeanPnL = mean(pnl)
	result.ObservedTotalPnL = sum(pnl)
	result.ObservedWinRate = winRate(pnl)

	dropProb := math.Min(0.5, float64(shiftMinutes)/60.0)
	noiseStd := math.Abs(result.ObservedMeanPnL) * 0.5

	var perturbedMeans, perturbedTotals, perturbedWinRates []float64
	for i := 0; i < nSimulations; i++ {
		var kept []float64
		for _, p := range pnl {
			if rng.Float64() > dropProb {
				kept = append(kept, p+rng.NormFloat64()*noiseStd)
			}
		}
		if len(kept) == 0 {
			perturbedMeans = append(perturbedMeans, 0)
			perturbedTotals = append(perturbedTotals, 0)
			perturbedWinRates = append(perturbedWinRates, 0)
			continue
		}
		perturbedMeans = append(perturbedMeans, mean(kept))
		perturbedTotals = append(perturbedTotals, sum(kept))
		perturbedWinRates = append(perturbedWinRates, winRate(kept))
	}

	result.PerturbedMeanPnL = mean(perturbedMeans)
	result.PerturbedStdPnL = stdDev(perturbedMeans, result.PerturbedMeanPnL)
	result.PerturbedTotalPnLMean = mean(perturbedTotals)
	result.PerturbedWinRateMean = mean(perturbedWinRates)
	result.Interpretation = fmt.Sprintf(
		"heuristic perturbation test (not a leakage control): observed mean %.2f, perturbed mean %.2f (std %.2f). "+
			"for lookahead detection, see LeakageAudit's signal_ts < entry_ts check instead.",
		result.ObservedMeanPnL, result.PerturbedMeanPnL, result.PerturbedStdPnL)
	return result
}

// ShuffleDatesStressTest permutes trade P&L order n times. Because the mean
// is permutation-invariant, PerturbedStdPnL should land near zero; a
// materially nonzero value signals a bug in the shuffle itself, not a
// lookahead finding.
func ShuffleDatesStressTest(trades []backtest.TradeRecord, nSimulations int, rng *rand.Rand) StressTestResult {
	result := StressTestResult{Method: "shuffle_heuristic", NSimulations: nSimulations}
	if len(trades) == 0 {
		result.Interpretation = "no trades to analyze"
		return result
	}
	result.NTrades = len(trades)

	pnl := make([]float64, len(trades))
	for i, t := range trades {
		pnl[i], _ = t.PnLTotal.Float64()
	}
	result.ObservedMeanPnL = mean(pnl)
	result.ObservedTotalPnL = sum(pnl)
	result.ObservedWinRate = winRate(pnl)

	var perturbedMeans, perturbedTotals, perturbedWinRates []float64
	shuffled := make([]float64, len(pnl))
	for i := 0; i < nSimulations; i++ {
		copy(shuffled, pnl)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		perturbedMeans = append(perturbedMeans, mean(shuffled))
		perturbedTotals = append(perturbedTotals, sum(shuffled))
		perturbedWinRates = append(perturbedWinRates, winRate(shuffled))
	}

	result.PerturbedMeanPnL = mean(perturbedMeans)
	result.PerturbedStdPnL = stdDev(perturbedMeans, result.PerturbedMeanPnL)
	result.PerturbedTotalPnLMean = mean(perturbedTotals)
	result.PerturbedWinRateMean = mean(perturbedWinRates)
	result.Interpretation = fmt.Sprintf(
		"shuffle heuristic (not a leakage control): mean is permutation-invariant so std is approximately 0 (got %.4f). "+
			"for lookahead detection, see LeakageAudit's signal_ts < entry_ts check instead.",
		result.PerturbedStdPnL)
	return result
}

func winRate(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 0
	}
	var wins int
	for _, p := range pnl {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnl))
}
