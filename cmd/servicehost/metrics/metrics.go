// Package metrics provides Prometheus instrumentation for the service host.
//
// Metrics exposed:
//   - gridservices_ticks_total: Counter of ticks fanned out to the registry
//   - gridservices_tick_duration_seconds: Histogram of full fan-out duration
//   - gridservices_tick_failures_total: Counter of failed refreshes across ticks
//   - gridservices_refresh_total: Counter of refresh hook runs by kind and status
//   - gridservices_refresh_duration_seconds: Histogram of refresh hook duration by kind
//   - gridservices_services_registered: Gauge of registered services
//   - gridservices_cache_requests_total: Counter of document cache lookups by cache and result
//   - gridservices_grpc_requests_total: Counter of gRPC requests by method and code
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/gridservices/pkg/services"
	"github.com/HatiCode/gridservices/pkg/storage"
)

type Metrics struct {
	TicksTotal        prometheus.Counter
	TickDuration      prometheus.Histogram
	TickFailures      prometheus.Counter
	RefreshTotal      *prometheus.CounterVec
	RefreshDuration   *prometheus.HistogramVec
	Registered        prometheus.Gauge
	CacheRequests     *prometheus.CounterVec
	GRPCRequestsTotal *prometheus.CounterVec
}

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridservices_ticks_total",
			Help: "Total number of ticks fanned out to the service registry",
		}),

		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridservices_tick_duration_seconds",
			Help:    "Duration of a full tick fan-out",
			Buckets: prometheus.DefBuckets,
		}),

		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridservices_tick_failures_total",
			Help: "Total number of failed service refreshes",
		}),

		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridservices_refresh_total",
			Help: "Total number of refresh hook runs by kind and status",
		}, []string{"kind", "status"}),

		RefreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridservices_refresh_duration_seconds",
			Help:    "Duration of refresh hooks by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		Registered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridservices_services_registered",
			Help: "Number of registered services",
		}),

		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridservices_cache_requests_total",
			Help: "Total number of document cache lookups by cache and result",
		}, []string{"cache", "result"}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridservices_grpc_requests_total",
			Help: "Total number of gRPC requests by method and code",
		}, []string{"method", "code"}),
	}
}

var (
	_ services.Observer     = (*Metrics)(nil)
	_ storage.CacheObserver = (*Metrics)(nil)
)

func (m *Metrics) TickHandled(_ int64, d time.Duration, failures int) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(d.Seconds())
	m.TickFailures.Add(float64(failures))
}

func (m *Metrics) RefreshCompleted(kind services.Kind, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RefreshTotal.WithLabelValues(string(kind), status).Inc()
	m.RefreshDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) ServicesRegistered(n int) {
	m.Registered.Set(float64(n))
}

func (m *Metrics) CacheHit(cache string) {
	m.CacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	m.CacheRequests.WithLabelValues(cache, "miss").Inc()
}

func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}
