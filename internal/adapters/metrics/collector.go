package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process's Prometheus registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry
	requests *prometheus.HistogramVec
	queries  *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
// PRE: none
// POST: Returns a collector exposing Go runtime, process, request, query and event metrics
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "robolearn",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, path and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "robolearn",
			Name:      "db_query_duration_seconds",
			Help:      "Database call latency by operation.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "robolearn",
			Name:      "events_total",
			Help:      "Account workflow events by name and outcome.",
		}, []string{"event", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests,
		c.queries,
		c.events,
	)
	return c
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	if status == http.StatusNotFound {
		path = "unmatched"
	}
	c.requests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveQuery records one database call.
func (c *Collector) ObserveQuery(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(op).Observe(d.Seconds())
}

// CountEvent increments a workflow counter, e.g. ("register", "ok").
func (c *Collector) CountEvent(event, outcome string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(event, outcome).Inc()
}

// Registry exposes the underlying gatherer.
func (c *Collector) Registry() prometheus.Gatherer {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
