package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec // finished runs by result
	runDuration   prometheus.Histogram   // time for one run
	ipLookups     *prometheus.CounterVec // ip discovery attempts per source
	dnsRequests   *prometheus.CounterVec // dns provider requests
	recordResults *prometheus.CounterVec // per-record reconciliation outcomes
	lastRun       prometheus.Gauge       // unix time of the last finished run
}

func (m *Metrics) IncRun(result string) {
	m.runs.WithLabelValues(result).Inc()
	m.lastRun.SetToCurrentTime()
}

func (m *Metrics) SetRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncIPLookup(source string, success bool) {
	if source == "" {
		return
	}
	m.ipLookups.WithLabelValues(source, boolToResult(success)).Inc()
}

func (m *Metrics) IncDNSRequest(operation, zone string, success bool) {
	if !isValidOperation(operation) || zone == "" {
		return
	}
	m.dnsRequests.WithLabelValues(operation, zone, boolToResult(success)).Inc()
}

func (m *Metrics) IncRecordOutcome(outcome string) {
	m.recordResults.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps every registered collector in the text exposition
// format, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "list", "update", "zone":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "cf_ddns_sync"

	m := &Metrics{
		registry: registry,

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by result",
		}, []string{"result"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		ipLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_lookups_total",
			Help:      "Total external IP lookups per source",
		}, []string{"source", "status"}),

		dnsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_requests_total",
			Help:      "Total DNS provider requests",
		}, []string{"operation", "zone", "status"}),

		recordResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_outcomes_total",
			Help:      "Reconciliation outcomes of individual records",
		}, []string{"outcome"}),

		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	if register {
		registry.MustRegister(
			m.runs,
			m.runDuration,
			m.ipLookups,
			m.dnsRequests,
			m.recordResults,
			m.lastRun,
		)
	}
	return m
}
