package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stages usados no label "stage".
const (
	StageSpeed     = "speed"
	StageSecurity  = "security"
	StageRateLimit = "ratelimit"
	StageQuota     = "quota"
	StageSlots     = "slots"
)

// Metrics agrupa os coletores Prometheus do gateway.
//
// Todos os métodos aceitam receiver nil, para que componentes possam ser
// usados sem métricas (ex.: testes).
type Metrics struct {
	Decisions       *prometheus.CounterVec
	DegradedMode    prometheus.Gauge
	SlowDownDelay   prometheus.Histogram
	RequestDuration *prometheus.HistogramVec
	RequestLogs     prometheus.Gauge
}

// NewMetrics registra os coletores em reg. Use prometheus.NewRegistry() em testes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_decisions_total",
				Help: "Admission decisions by stage, outcome and rejection code",
			},
			[]string{"stage", "outcome", "code"},
		),
		DegradedMode: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_counter_store_degraded",
				Help: "1 when the shared counter store is unavailable and local accounting is in use",
			},
		),
		SlowDownDelay: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_slowdown_delay_seconds",
				Help:    "Latency injected by the speed limiter",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Duration of requests through the admission chain",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		RequestLogs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_request_logs",
				Help: "Request log entries currently retained",
			},
		),
	}
}

func (m *Metrics) Admitted(stage string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(stage, "allow", "").Inc()
}

func (m *Metrics) Rejected(stage, code string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(stage, "reject", code).Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.DegradedMode.Set(1)
		return
	}
	m.DegradedMode.Set(0)
}

func (m *Metrics) ObserveDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.SlowDownDelay.Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) SetRequestLogs(n int) {
	if m == nil {
		return
	}
	m.RequestLogs.Set(float64(n))
}
