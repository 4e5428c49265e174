package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes recorded by the DNS server
const (
	OutcomeRegistry    = "registry"
	OutcomeUpstream    = "upstream"
	OutcomeMiss        = "miss"
	OutcomeUnsupported = "unsupported"
	OutcomeDropped     = "dropped"
)

var (
	// DNS metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsrest_dns_queries_total",
			Help: "Total number of DNS queries by question type and outcome",
		},
		[]string{"qtype", "outcome"},
	)

	DNSQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dnsrest_dns_query_duration_seconds",
			Help:    "Time taken to answer a DNS query in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpstreamLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsrest_upstream_lookups_total",
			Help: "Total number of upstream lookups by result",
		},
		[]string{"result"},
	)

	// Registry metrics
	RegistryMappings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dnsrest_registry_mappings",
			Help: "Number of key to domain mappings",
		},
	)

	RegistryActiveContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dnsrest_registry_active_containers",
			Help: "Number of containers currently active",
		},
	)

	RegistryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dnsrest_registry_entries",
			Help: "Number of address entries published in the domain tree",
		},
	)

	// Monitor metrics
	LifecycleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsrest_lifecycle_events_total",
			Help: "Total number of container lifecycle events applied by type",
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnsrest_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dnsrest_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(DNSQueriesTotal)
	prometheus.MustRegister(DNSQueryDuration)
	prometheus.MustRegister(UpstreamLookupsTotal)
	prometheus.MustRegister(RegistryMappings)
	prometheus.MustRegister(RegistryActiveContainers)
	prometheus.MustRegister(RegistryEntries)
	prometheus.MustRegister(LifecycleEventsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in seconds on the labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
