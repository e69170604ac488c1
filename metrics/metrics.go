// Package metrics exposes Prometheus metrics on a dedicated listener,
// kept off the public API port.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the /metrics endpoint and owns the registry the
// hub's counters live in.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesStored     prometheus.Counter
}

// New creates a metrics server for the given namespace listening on addr.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "API requests by operation and outcome.",
	}, []string{"operation", "status"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "API request latency by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	bytesStored := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stored_bytes_total",
		Help:      "Total bytes accepted by store operations.",
	})

	registry.MustRegister(requestsTotal, requestDuration, bytesStored)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		registry:        registry,
		srv:             &http.Server{Addr: addr, Handler: mux},
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		bytesStored:     bytesStored,
	}, nil
}

// IncRequest counts one finished API request.
func (m *MetricsServer) IncRequest(operation, status string) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveDuration records one request latency sample.
func (m *MetricsServer) ObserveDuration(operation string, seconds float64) {
	m.requestDuration.WithLabelValues(operation).Observe(seconds)
}

// AddStoredBytes counts payload bytes accepted by store operations.
func (m *MetricsServer) AddStoredBytes(n int64) {
	if n > 0 {
		m.bytesStored.Add(float64(n))
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
