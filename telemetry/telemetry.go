package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the session manager.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with anchor operations and locate callbacks.
type Collector interface {
	IncSessionStarted()
	IncAnchorCreated()
	IncAnchorLocated()
	IncAnchorDeleted()
	IncCreateFailed()
	SetCachedAnchors(count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncSessionStarted()   {}
func (noopCollector) IncAnchorCreated()    {}
func (noopCollector) IncAnchorLocated()    {}
func (noopCollector) IncAnchorDeleted()    {}
func (noopCollector) IncCreateFailed()     {}
func (noopCollector) SetCachedAnchors(int) {}

// PrometheusCollector exposes session telemetry via Prometheus.
type PrometheusCollector struct {
	sessionsStarted prometheus.Counter
	anchorsCreated  prometheus.Counter
	anchorsLocated  prometheus.Counter
	anchorsDeleted  prometheus.Counter
	createFailures  prometheus.Counter
	cachedAnchors   prometheus.Gauge
}

var (
	registryMu sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Passing nil uses the default registerer. Repeated registration
// reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if counters == nil {
		counters = make(map[string]prometheus.Counter)
	}
	if gauges == nil {
		gauges = make(map[string]prometheus.Gauge)
	}

	counter := func(name, help string) (prometheus.Counter, error) {
		if existing, ok := counters[name]; ok {
			return existing, nil
		}
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if e, ok := already.ExistingCollector.(prometheus.Counter); ok {
					counters[name] = e
					return e, nil
				}
			}
			return nil, err
		}
		counters[name] = c
		return c, nil
	}
	gauge := func(name, help string) (prometheus.Gauge, error) {
		if existing, ok := gauges[name]; ok {
			return existing, nil
		}
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		if err := reg.Register(g); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if e, ok := already.ExistingCollector.(prometheus.Gauge); ok {
					gauges[name] = e
					return e, nil
				}
			}
			return nil, err
		}
		gauges[name] = g
		return g, nil
	}

	collector := &PrometheusCollector{}
	var err error
	if collector.sessionsStarted, err = counter("anchorsession_sessions_started_total",
		"Number of cloud anchoring sessions that reached the running state."); err != nil {
		return nil, err
	}
	if collector.anchorsCreated, err = counter("anchorsession_anchors_created_total",
		"Number of cloud anchors created successfully."); err != nil {
		return nil, err
	}
	if collector.anchorsLocated, err = counter("anchorsession_anchors_located_total",
		"Number of anchors located by watchers and inserted into the cache."); err != nil {
		return nil, err
	}
	if collector.anchorsDeleted, err = counter("anchorsession_anchors_deleted_total",
		"Number of cloud anchors deleted at the provider."); err != nil {
		return nil, err
	}
	if collector.createFailures, err = counter("anchorsession_anchor_create_failures_total",
		"Number of anchor creations that were aborted by a provider error."); err != nil {
		return nil, err
	}
	if collector.cachedAnchors, err = gauge("anchorsession_cached_anchors",
		"Number of anchor records currently held in the cache."); err != nil {
		return nil, err
	}
	return collector, nil
}

// IncSessionStarted increments the session start counter.
func (c *PrometheusCollector) IncSessionStarted() {
	if c == nil || c.sessionsStarted == nil {
		return
	}
	c.sessionsStarted.Inc()
}

// IncAnchorCreated increments the anchor creation counter.
func (c *PrometheusCollector) IncAnchorCreated() {
	if c == nil || c.anchorsCreated == nil {
		return
	}
	c.anchorsCreated.Inc()
}

// IncAnchorLocated increments the anchor location counter.
func (c *PrometheusCollector) IncAnchorLocated() {
	if c == nil || c.anchorsLocated == nil {
		return
	}
	c.anchorsLocated.Inc()
}

// IncAnchorDeleted increments the anchor deletion counter.
func (c *PrometheusCollector) IncAnchorDeleted() {
	if c == nil || c.anchorsDeleted == nil {
		return
	}
	c.anchorsDeleted.Inc()
}

// IncCreateFailed increments the creation failure counter.
func (c *PrometheusCollector) IncCreateFailed() {
	if c == nil || c.createFailures == nil {
		return
	}
	c.createFailures.Inc()
}

// SetCachedAnchors records the current cache size.
func (c *PrometheusCollector) SetCachedAnchors(count int) {
	if c == nil || c.cachedAnchors == nil {
		return
	}
	c.cachedAnchors.Set(float64(count))
}

// resetForTest clears the shared metric registry. Tests only.
func resetForTest() {
	registryMu.Lock()
	counters = nil
	gauges = nil
	registryMu.Unlock()
}
