package audit

import "math"

// oneSampleTTest tests H0: mean(xs) == 0 two-sided, using a normal
// approximation to the sampling distribution of the mean (no incomplete-beta
// Student-t implementation is pulled in here; for the daily-P&L sample
// sizes this backtest produces, n is rarely small enough for the normal
// approximation to matter).
func oneSampleTTest(xs []float64) (tStat, pValue float64) {
	n := len(xs)
	if n < 2 {
		return 0, 1
	}
	mu := mean(xs)
	se := stdDev(xs, mu) / math.Sqrt(float64(n))
	if se == 0 {
		return 0, 1
	}
	tStat = mu / se
	pValue = 2 * (1 - normalCDF(math.Abs(tStat)))
	return tStat, pValue
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// InferenceResult is the HAC (Newey-West) corrected significance test for a
// daily P&L series. Ordinary-least-squares standard errors understate the
// true uncertainty when daily returns are autocorrelated (e.g. a setup's
// cooldown window spans days with correlated regime effects); HAC widens
// the standard error by the autocorrelation the series actually shows.
type InferenceResult struct {
	N               int
	Mean            float64
	HACStdErr       float64
	Lag             int
	TStatistic      float64
	PValue          float64
	IsSignificant5Pct bool
	IsSignificant1Pct bool
	// 95% confidence interval for the mean: Mean -/+ 1.96*HACStdErr.
	CILower95 float64
	CIUpper95 float64
}

// DailySeriesInference runs a Newey-West HAC test of H0: mean(series) == 0.
// lag is the number of autocorrelation lags to correct for; callers should
// normally pass 0 to use the floor(4*(n/100)^(2/9)) rule of thumb rather
// than fix a lag by hand.
func DailySeriesInference(series []float64, lag int) InferenceResult {
	n := len(series)
	r := InferenceResult{N: n}
	if n < 2 {
		r.PValue = 1
		return r
	}
	mu := mean(series)
	r.Mean = mu
	if lag <= 0 {
		lag = neweyWestLagRule(n)
	}
	r.Lag = lag

	centered := make([]float64, n)
	for i, x := range series {
		centered[i] = x - mu
	}

	// Long-run variance of the mean via the Newey-West (Bartlett-kernel)
	// estimator: gamma_0 + 2*sum_{k=1..lag} (1 - k/(lag+1)) * gamma_k.
	gamma0 := autocovariance(centered, 0)
	lrv := gamma0
	for k := 1; k <= lag && k < n; k++ {
		weight := 1 - float64(k)/float64(lag+1)
		lrv += 2 * weight * autocovariance(centered, k)
	}
	if lrv < 0 {
		lrv = gamma0 // fall back to the unweighted variance if the kernel sum went negative
	}

	se := math.Sqrt(lrv / float64(n))
	r.HACStdErr = se
	r.CILower95 = mu - 1.96*se
	r.CIUpper95 = mu + 1.96*se
	if se == 0 {
		r.PValue = 1
		return r
	}
	r.TStatistic = mu / se
	r.PValue = 2 * (1 - normalCDF(math.Abs(r.TStatistic)))
	r.IsSignificant5Pct = r.PValue < 0.05
	r.IsSignificant1Pct = r.PValue < 0.01
	return r
}

func autocovariance(centered []float64, lag int) float64 {
	n := len(centered)
	var s float64
	for i := 0; i+lag < n; i++ {
		s += centered[i] * centered[i+lag]
	}
	return s / float64(n)
}

func neweyWestLagRule(n int) int {
	lag := int(4 * math.Pow(float64(n)/100, 2.0/9.0))
	if lag < 1 {
		return 1
	}
	return lag
}
