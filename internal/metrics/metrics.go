// Package metrics collects Prometheus gauges and counters for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Collector holds every gateway metric. A nil *Collector is a valid no-op,
// so call sites never need to guard on metrics being enabled.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	renderDuration      prometheus.Histogram
	renderFailuresTotal *prometheus.CounterVec
	activeRenders       prometheus.Gauge

	ratelimitRejectedTotal prometheus.Counter

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewCollector registers the gateway metrics on the default registry.
func NewCollector(logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers on a caller-supplied registry; tests use
// a fresh one per case.
func NewCollectorWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{logger: logger}

	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renderx",
			Name:      "requests_total",
			Help:      "Total requests processed, by host and serving mode",
		},
		[]string{"host", "mode"},
	)

	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "renderx",
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host", "mode"},
	)

	c.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "renderx",
		Name:      "cache_hits_total",
		Help:      "Total snapshot cache hits",
	})

	c.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "renderx",
		Name:      "cache_misses_total",
		Help:      "Total snapshot cache misses",
	})

	c.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "renderx",
		Name:      "render_duration_seconds",
		Help:      "Time taken by headless renders",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 15, 20, 25, 30},
	})

	c.renderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "renderx",
			Name:      "render_failures_total",
			Help:      "Total failed renders, by reason",
		},
		[]string{"reason"},
	)

	c.activeRenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "renderx",
		Name:      "active_renders",
		Help:      "Renders currently in flight",
	})

	c.ratelimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "renderx",
		Name:      "ratelimit_rejected_total",
		Help:      "Requests rejected by the render endpoint rate limiter",
	})

	registerer.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.renderDuration,
		c.renderFailuresTotal,
		c.activeRenders,
		c.ratelimitRejectedTotal,
	)

	c.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return c
}

// ServeHTTP exposes the Prometheus text endpoint over fasthttp.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.httpHandler(ctx)
}

func (c *Collector) RecordRequest(host, mode string, seconds float64) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(host, mode).Inc()
	c.requestDuration.WithLabelValues(host, mode).Observe(seconds)
}

func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHitsTotal.Inc()
}

func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMissesTotal.Inc()
}

func (c *Collector) RecordRender(seconds float64) {
	if c == nil {
		return
	}
	c.renderDuration.Observe(seconds)
}

func (c *Collector) RecordRenderFailure(reason string) {
	if c == nil {
		return
	}
	c.renderFailuresTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) RenderStarted() {
	if c == nil {
		return
	}
	c.activeRenders.Inc()
}

func (c *Collector) RenderFinished() {
	if c == nil {
		return
	}
	c.activeRenders.Dec()
}

func (c *Collector) RecordRateLimitRejection() {
	if c == nil {
		return
	}
	c.ratelimitRejectedTotal.Inc()
}
