package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	refreshes      *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	fetchErrors    *prometheus.CounterVec
	cacheStatus    *prometheus.GaugeVec
	lastPrice      *prometheus.GaugeVec
	ledgerWarnings *prometheus.CounterVec
	tradesAppended *prometheus.CounterVec
}

// New registers the collectors on reg (prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_signal_refresh_total",
				Help: "Signal refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		refreshLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signaldesk_signal_refresh_duration_seconds",
				Help:    "Duration of a full signal refresh",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_fetch_errors_total",
				Help: "Per-asset market data failures",
			},
			[]string{"asset", "kind"},
		),
		cacheStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signaldesk_signal_cache_status",
				Help: "1 for the status the signal cache currently serves",
			},
			[]string{"status"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signaldesk_last_price",
				Help: "Last close seen for an asset",
			},
			[]string{"asset"},
		),
		ledgerWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_ledger_warnings_total",
				Help: "Ledger corruption and reconciliation warnings",
			},
			[]string{"strategy", "kind"},
		),
		tradesAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signaldesk_trades_appended_total",
				Help: "Trade events offered to the ledger",
			},
			[]string{"strategy", "result"},
		),
	}
}

func (r *Recorder) RecordRefresh(outcome string, seconds float64) {
	r.refreshes.WithLabelValues(outcome).Inc()
	r.refreshLatency.Observe(seconds)
}

func (r *Recorder) RecordFetchError(asset, kind string) {
	r.fetchErrors.WithLabelValues(asset, kind).Inc()
}

func (r *Recorder) SetCacheStatus(status string) {
	for _, s := range []string{"ok", "degraded", "paused"} {
		v := 0.0
		if s == status {
			v = 1
		}
		r.cacheStatus.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

func (r *Recorder) RecordLedgerWarning(strategy, kind string) {
	r.ledgerWarnings.WithLabelValues(strategy, kind).Inc()
}

func (r *Recorder) RecordTradeAppended(strategy string, duplicate bool) {
	result := "appended"
	if duplicate {
		result = "duplicate"
	}
	r.tradesAppended.WithLabelValues(strategy, result).Inc()
}

// Nop discards everything; handy in tests.
type Nop struct{}

func (Nop) RecordRefresh(string, float64)      {}
func (Nop) RecordFetchError(string, string)    {}
func (Nop) SetCacheStatus(string)              {}
func (Nop) RecordLastPrice(string, float64)    {}
func (Nop) RecordLedgerWarning(string, string) {}
func (Nop) RecordTradeAppended(string, bool)   {}
