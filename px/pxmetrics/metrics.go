// Package pxmetrics holds the proxy's Prometheus collectors
// and the HTTP server that exposes them.
//
// All [Metrics] methods are safe to call on a nil receiver,
// so callers may run without metrics.
package pxmetrics

import (
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxstore/pxcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gproxy"

// Route is the path a message took through the message router.
type Route string

const (
	RouteLocal    Route = "local"
	RouteForward  Route = "forward"
	RouteRejected Route = "rejected"
)

// ForwardFailure classifies a failed forward.
type ForwardFailure string

const (
	FailureDial        ForwardFailure = "dial"
	FailureSend        ForwardFailure = "send"
	FailureSendTimeout ForwardFailure = "send_timeout"
	FailureRecv        ForwardFailure = "recv"
	FailureRecvTimeout ForwardFailure = "recv_timeout"
)

// Metrics is the set of proxy collectors, on a dedicated registry.
type Metrics struct {
	reg *prometheus.Registry

	messages        *prometheus.CounterVec
	localFailures   *prometheus.CounterVec
	forwardFailures *prometheus.CounterVec
	forwardDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages received by the proxy, by kind and route.",
		}, []string{"kind", "route"}),

		localFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_failures_total",
			Help:      "Locally handled messages that failed, by kind.",
		}, []string{"kind"}),

		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Forwards to shards that failed, by reason.",
		}, []string{"reason"}),

		forwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time from dialing a shard to receiving its response.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	m.reg.MustRegister(
		m.messages,
		m.localFailures,
		m.forwardFailures,
		m.forwardDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry holding every collector.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.reg
}

func (m *Metrics) MessageRouted(kind pxrpc.Kind, route Route) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind.String(), string(route)).Inc()
}

func (m *Metrics) LocalFailed(kind pxrpc.Kind) {
	if m == nil {
		return
	}
	m.localFailures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ForwardFailed(reason ForwardFailure) {
	if m == nil {
		return
	}
	m.forwardFailures.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) ForwardDone(d time.Duration) {
	if m == nil {
		return
	}
	m.forwardDuration.Observe(d.Seconds())
}

// RegisterPool exports the occupancy of the pool running message handlers.
func (m *Metrics) RegisterPool(p pond.Pool) {
	if m == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_running_workers",
			Help:      "Workers currently running message handlers.",
		}, func() float64 { return float64(p.RunningWorkers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_waiting_tasks",
			Help:      "Messages waiting for a free worker.",
		}, func() float64 { return float64(p.WaitingTasks()) }),
	)
}

// RegisterCache exports the effectiveness of the storage cache.
func (m *Metrics) RegisterCache(c *pxcache.KV) {
	if m == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_cache_hits_total",
			Help:      "Storage reads served by the cache.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_cache_misses_total",
			Help:      "Storage reads that went to the backend.",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_cache_bytes",
			Help:      "Bytes of keys and values held by the storage cache.",
		}, func() float64 { return float64(c.Stats().Bytes) }),
	)
}
