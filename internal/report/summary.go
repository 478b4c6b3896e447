package report

import (
	"github.com/ybi-research/backtest/internal/audit"
	"github.com/ybi-research/backtest/internal/config"
)

// Described pairs a result with a short plain-language note on what it
// means and, where relevant, what it does not prove. summary.json attaches
// one of these to every statistical block so a reader doesn't have to
// already know the difference between a bootstrap test and a stress test.
type Described[T any] struct {
	Description string `json:"description"`
	Result      T      `json:"result"`
}

func describe[T any](desc string, result T) Described[T] {
	return Described[T]{Description: desc, Result: result}
}

// Summary is the full statistical writeup of one completed run, persisted
// as summary.json.
type Summary struct {
	Metrics        Described[audit.PerformanceMetrics]     `json:"metrics"`
	DailyInference Described[audit.InferenceResult]         `json:"daily_inference"`
	Bootstrap      Described[audit.NegativeControlResult]   `json:"bootstrap"`
	Leakage        Described[audit.LeakageAuditResult]      `json:"leakage_audit"`
	Reconciliation Described[audit.ReconciliationResult]    `json:"reconciliation"`
	Stratified     Described[audit.StratifiedAnalysis]      `json:"stratified"`
	MonteCarlo     Described[audit.MonteCarloResult]        `json:"monte_carlo"`
	WalkForward    Described[audit.WalkForwardResult]       `json:"walk_forward"`
	TimeShiftTest  Described[audit.StressTestResult]        `json:"time_shift_stress_test"`
	ShuffleTest    Described[audit.StressTestResult]        `json:"shuffle_dates_stress_test"`
}

// BuildSummary wraps every audit result with the description its section
// of summary.json is specified to carry.
func BuildSummary(
	metrics audit.PerformanceMetrics,
	inference audit.InferenceResult,
	bootstrap audit.NegativeControlResult,
	leakage audit.LeakageAuditResult,
	reconciliation audit.ReconciliationResult,
	stratified audit.StratifiedAnalysis,
	monteCarlo audit.MonteCarloResult,
	walkForward audit.WalkForwardResult,
	timeShift audit.StressTestResult,
	shuffle audit.StressTestResult,
) Summary {
	return Summary{
		Metrics: describe(
			"Win rate, expectancy, profit factor, Sharpe/Sortino/Calmar computed on daily returns, drawdown, and streak statistics over every closed trade.",
			metrics),
		DailyInference: describe(
			"Newey-West HAC-corrected two-sided test of H0: mean daily P&L == 0, widening the standard error for day-to-day autocorrelation rather than assuming independence.",
			inference),
		Bootstrap: describe(
			"Block bootstrap over eligible trading days testing H0: mean daily P&L == 0 against a centered null distribution built by resampling days with replacement.",
			bootstrap),
		Leakage: describe(
			"Checks that every trade's signal_ts strictly precedes its entry_ts. This is the only check in this document that actually detects lookahead bias.",
			leakage),
		Reconciliation: describe(
			"Recomputes each trade's P&L from its linked fills (sell proceeds minus buy cost minus fees) and compares it against the ledger's own pnl_total, within a one-cent tolerance.",
			reconciliation),
		Stratified: describe(
			"Breaks trade outcomes down by time of day, TTM state at entry, day of week, and exit reason. Diagnostic only, not a pass/fail gate; buckets below the sample threshold are flagged rather than suppressed.",
			stratified),
		MonteCarlo: describe(
			"Resamples trade order (not calendar days) to estimate the distribution of total P&L and max drawdown a different trade sequence from the same edge could have produced, including VaR95/CVaR95 and an estimated probability of ruin.",
			monteCarlo),
		WalkForward: describe(
			"Splits trade history into chronological folds and compares in-sample to out-of-sample performance per fold, as a simple robustness signal against curve-fitting.",
			walkForward),
		TimeShiftTest: describe(
			"Heuristic perturbation of realized P&L simulating delayed fills. This is NOT a negative control for lookahead bias: it perturbs already-realized outcomes rather than resimulating with shifted entries against price data. See the leakage_audit section for the actual lookahead check.",
			timeShift),
		ShuffleTest: describe(
			"Heuristic permutation of realized P&L order. Also NOT a lookahead control, for the same reason as time_shift_stress_test; included only as a sanity check that the perturbation machinery itself behaves (the perturbed mean should equal the observed mean).",
			shuffle),
	}
}

// RunMetadata is the full provenance of one run: its resolved
// configuration, code version, and the metrics-registry snapshot folded
// in so counter values are never simply thrown away when --metrics-addr
// was not passed.
type RunMetadata struct {
	CodeVersion          string             `json:"code_version"`
	RandomSeed           int64              `json:"random_seed"`
	SelectionMethod      string             `json:"selection_method"`
	MaxCandidatesToScan  int                `json:"max_candidates_to_scan"`
	StartDate            string             `json:"start_date"`
	EndDate              string             `json:"end_date"`
	Config               config.Root        `json:"config"`
	Metrics              map[string]float64 `json:"metrics"`
	DaysWithErrors       int                `json:"days_with_errors"`
}
