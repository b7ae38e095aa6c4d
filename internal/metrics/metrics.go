package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobSkipped  *prometheus.CounterVec

	SIPExecutions      *prometheus.CounterVec
	DueSIPs            prometheus.Gauge
	Replications       *prometheus.CounterVec
	WalletChecks       *prometheus.CounterVec
	RetentionDeleted   prometheus.Counter
	LastJobSuccessUnix *prometheus.GaugeVec
}

// New creates the collectors on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	jobBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

	return &Metrics{
		registry: reg,

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "copyfund_job_runs_total",
			Help: "Scheduled job runs by outcome",
		}, []string{"job", "result"}),

		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copyfund_job_duration_seconds",
			Help:    "Wall time of one job run",
			Buckets: jobBuckets,
		}, []string{"job"}),

		JobSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "copyfund_job_skipped_total",
			Help: "Job ticks skipped because the job was disabled or leased elsewhere",
		}, []string{"job", "reason"}),

		SIPExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "copyfund_sip_executions_total",
			Help: "Due SIP items by outcome",
		}, []string{"result"}),

		DueSIPs: f.NewGauge(prometheus.GaugeOpts{
			Name: "copyfund_sip_due",
			Help: "Due SIPs selected in the latest cycle",
		}),

		Replications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "copyfund_trade_replications_total",
			Help: "Ledger rows appended by kind",
		}, []string{"kind"}),

		WalletChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "copyfund_wallet_checks_total",
			Help: "Trader wallet checks by outcome",
		}, []string{"detector", "result"}),

		RetentionDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "copyfund_retention_deleted_total",
			Help: "Ledger rows removed by the retention sweep",
		}),

		LastJobSuccessUnix: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "copyfund_job_last_success_unix",
			Help: "Unix time of the last successful job run",
		}, []string{"job"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	if err != nil {
		m.JobRuns.WithLabelValues(job, "error").Inc()
		return
	}
	m.JobRuns.WithLabelValues(job, "ok").Inc()
	m.LastJobSuccessUnix.WithLabelValues(job).Set(float64(time.Now().Unix()))
}

func (m *Metrics) JobSkip(job, reason string) {
	if m == nil {
		return
	}
	m.JobSkipped.WithLabelValues(job, reason).Inc()
}

func (m *Metrics) SIPResult(result string) {
	if m == nil {
		return
	}
	m.SIPExecutions.WithLabelValues(result).Inc()
}

func (m *Metrics) SetDueSIPs(n int) {
	if m == nil {
		return
	}
	m.DueSIPs.Set(float64(n))
}

func (m *Metrics) ReplicationAppended(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Replications.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) WalletCheck(detector, result string) {
	if m == nil {
		return
	}
	m.WalletChecks.WithLabelValues(detector, result).Inc()
}

func (m *Metrics) RetentionRemoved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionDeleted.Add(float64(n))
}
