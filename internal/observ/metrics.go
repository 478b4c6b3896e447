package observ

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide metrics registry for a single backtest run.
// Unlike a long-running service, this program has one registry for its
// entire lifetime: there is no per-request label cardinality risk, so the
// label sets below are small and fixed (status/reason/setup/ticker-free).
var Registry = prometheus.NewRegistry()

var (
	DaysProcessed = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ybi_backtest_days_total",
		Help: "Trading days processed by day_audit status.",
	}, []string{"status"})

	EntriesFilled = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ybi_backtest_entries_filled_total",
		Help: "Entry fills by setup tag.",
	}, []string{"setup"})

	ExitsFilled = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ybi_backtest_exits_filled_total",
		Help: "Exit fills by exit reason.",
	}, []string{"reason"})

	IntentsRejected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ybi_backtest_intents_rejected_total",
		Help: "Pending intents rejected before fill, by reason code.",
	}, []string{"reason"})

	DaySimulationSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "ybi_backtest_day_simulation_seconds",
		Help:    "Wall-clock time to simulate a single trading day.",
		Buckets: prometheus.DefBuckets,
	})

	FillsPerDay = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "ybi_backtest_fills_per_day",
		Help:    "Number of fills produced in a single trading day.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	httpRequestSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "ybi_backtest_marketdata_http_request_seconds",
		Help:    "Latency of outbound requests to the historical-bars provider.",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordHTTPLatency records one outbound market-data HTTP request's
// latency, regardless of whether it ultimately succeeded.
func RecordHTTPLatency(d time.Duration) {
	httpRequestSeconds.Observe(d.Seconds())
}

// Handler exposes the registry in standard Prometheus text exposition
// format, served at --metrics-addr for the duration of a run when the flag
// is supplied.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Snapshot gathers every metric family into a plain map suitable for
// folding into run_metadata.json, so the counters are never simply thrown
// away when --metrics-addr was not passed.
func Snapshot() (map[string]float64, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key+".sum"] = m.GetHistogram().GetSampleSum()
				out[key+".count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
