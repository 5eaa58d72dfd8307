// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	CacheRequests    *prometheus.CounterVec
	GamesCreated     prometheus.Counter
	VotesCast        prometheus.Counter
	VotesRetracted   prometheus.Counter
	PhaseTransitions *prometheus.CounterVec
	StoreOperation   *prometheus.HistogramVec
	OnlineSessions   prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessageLatency   prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "State cache lookups by kind and result",
		}, []string{"kind", "result"}),
		GamesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_created_total",
			Help:      "Number of games created",
		}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Number of votes cast or changed",
		}),
		VotesRetracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_retracted_total",
			Help:      "Number of votes retracted",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase advance attempts by result",
		}, []string{"result"}),
		StoreOperation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_seconds",
			Help:      "Store call latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_sessions",
			Help:      "Number of connected websocket sessions",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	reg.MustRegister(
		m.CacheRequests,
		m.GamesCreated,
		m.VotesCast,
		m.VotesRetracted,
		m.PhaseTransitions,
		m.StoreOperation,
		m.OnlineSessions,
		m.MessagesReceived,
		m.MessageLatency,
	)

	return m
}

// expvar names are process global
var publishOnce sync.Once

type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

// NewMonitor registers the metrics on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func NewMonitor(namespace string, reg *prometheus.Registry) *Monitor {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}

	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})
	return m
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

func (m *Monitor) CacheRequest(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.metrics.CacheRequests.WithLabelValues(kind, result).Inc()
}

func (m *Monitor) GameCreated() {
	m.metrics.GamesCreated.Inc()
}

func (m *Monitor) VoteCast() {
	m.metrics.VotesCast.Inc()
}

func (m *Monitor) VoteRetracted() {
	m.metrics.VotesRetracted.Inc()
}

func (m *Monitor) PhaseTransition(applied bool) {
	result := "lost_race"
	if applied {
		result = "applied"
	}
	m.metrics.PhaseTransitions.WithLabelValues(result).Inc()
}

func (m *Monitor) ObserveStore(op string, duration time.Duration) {
	m.metrics.StoreOperation.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Monitor) IncOnlineSessions() {
	m.metrics.OnlineSessions.Inc()
}

func (m *Monitor) DecOnlineSessions() {
	m.metrics.OnlineSessions.Dec()
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}
