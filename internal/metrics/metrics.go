// Package metrics exports engine counters in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	saves        *prometheus.CounterVec
	deletes      *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	filterErrors *prometheus.CounterVec
	pageFetches  *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers the engine collectors on the default registry.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers the engine collectors on r. Tests pass
// their own registry so collectors never collide.
func NewCollectorWith(r prometheus.Registerer) *Collector {
	factory := promauto.With(r)
	return &Collector{
		saves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityscope_saves_total",
				Help: "Total number of committed entity saves",
			},
			[]string{"entity"},
		),
		deletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityscope_deletes_total",
				Help: "Total number of committed entity deletions",
			},
			[]string{"entity"},
		),
		rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityscope_rollbacks_total",
				Help: "Total number of rolled-back transactions",
			},
			[]string{"entity"},
		),
		filterErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityscope_filter_errors_total",
				Help: "Total number of rejected filter fragments",
			},
			[]string{"entity"},
		),
		pageFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entityscope_page_fetches_total",
				Help: "Total number of windowed page fetches",
			},
			[]string{"entity"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entityscope_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method", "route"},
		),
	}
}

func (c *Collector) Save(entity string)        { c.saves.WithLabelValues(entity).Inc() }
func (c *Collector) Delete(entity string)      { c.deletes.WithLabelValues(entity).Inc() }
func (c *Collector) Rollback(entity string)    { c.rollbacks.WithLabelValues(entity).Inc() }
func (c *Collector) FilterError(entity string) { c.filterErrors.WithLabelValues(entity).Inc() }
func (c *Collector) PageFetch(entity string)   { c.pageFetches.WithLabelValues(entity).Inc() }
func (c *Collector) ObserveHTTP(method, route string, seconds float64) {
	c.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
