package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector the coordinator exposes. It is constructed
// once in main and handed to each loop; loops never register collectors of
// their own.
type Registry struct {
	Prom *prometheus.Registry

	IngestLatencyMS     *prometheus.HistogramVec
	IngestLastTickTS    *prometheus.GaugeVec
	IngestFailuresTotal *prometheus.CounterVec
	RuleEvalMS          prometheus.Histogram
	SignalsTotal        *prometheus.CounterVec
	BreakerSkipsTotal   *prometheus.CounterVec
	SchemaErrorsTotal   *prometheus.CounterVec
	OrderIntentsTotal   *prometheus.CounterVec
	AlertFailuresTotal  prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	Health              prometheus.Gauge
}

func New() *Registry {
	r := &Registry{Prom: prometheus.NewRegistry()}

	r.IngestLatencyMS = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpx_ingest_latency_ms",
		Help:    "Latency of ingestion polling in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
	}, []string{"source"})
	r.IngestLastTickTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mpx_ingest_last_tick_timestamp",
		Help: "Unix timestamp of the last tick written",
	}, []string{"source"})
	r.IngestFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_ingest_failures_total",
		Help: "Ingest chunks that exhausted their retries",
	}, []string{"source"})
	r.RuleEvalMS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mpx_rule_eval_ms",
		Help:    "Rule evaluation cycle latency in milliseconds",
		Buckets: []float64{5, 10, 50, 100, 250, 500, 1000},
	})
	r.SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_signals_total",
		Help: "Signals emitted per rule type",
	}, []string{"rule"})
	r.BreakerSkipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_breaker_skips_total",
		Help: "Evaluations skipped because the rule-market breaker was open",
	}, []string{"rule"})
	r.SchemaErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_schema_errors_total",
		Help: "Upstream records skipped for schema violations",
	}, []string{"source"})
	r.OrderIntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_order_intents_total",
		Help: "Order intents per status transition",
	}, []string{"status"})
	r.AlertFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mpx_alert_failures_total",
		Help: "Alert transport send failures",
	})
	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpx_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "path", "status"})
	r.Health = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mpx_health",
		Help: "1 while the coordinator is up",
	})

	r.Prom.MustRegister(
		r.IngestLatencyMS,
		r.IngestLastTickTS,
		r.IngestFailuresTotal,
		r.RuleEvalMS,
		r.SignalsTotal,
		r.BreakerSkipsTotal,
		r.SchemaErrorsTotal,
		r.OrderIntentsTotal,
		r.AlertFailuresTotal,
		r.RequestsTotal,
		r.Health,
	)
	return r
}
