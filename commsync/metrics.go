// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package commsync

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures sync telemetry. Implementations may forward metrics to
// Prometheus, loggers or other monitoring systems. They should be
// inexpensive to call because hooks run inline with read and write paths.
type Collector interface {
	IncCacheFallback(reason string)
	IncEnqueued(op string)
	SetQueueDepth(depth int)
	ObserveReconcile(summary Summary)
	ObserveRequest(method, path string, status int, duration time.Duration)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector { return noopCollector{} }

func (noopCollector) IncCacheFallback(string)                           {}
func (noopCollector) IncEnqueued(string)                                {}
func (noopCollector) SetQueueDepth(int)                                 {}
func (noopCollector) ObserveReconcile(Summary)                          {}
func (noopCollector) ObserveRequest(string, string, int, time.Duration) {}

// PrometheusCollector exposes sync telemetry via Prometheus.
type PrometheusCollector struct {
	cacheFallbacks   *prometheus.CounterVec
	enqueued         *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	reconcileResults *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewPrometheusCollector registers the sync metrics with the provided
// registerer. A nil registerer uses the default one. Already-registered
// collectors are reused so repeated engine construction in one process
// does not fail.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{}

	cacheFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_cache_fallback_total",
		Help: "Number of reads served from the local cache after a network failure, by reason.",
	}, []string{"reason"})
	if err := registerCounterVec(reg, &cacheFallbacks); err != nil {
		return nil, err
	}
	c.cacheFallbacks = cacheFallbacks

	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_pending_enqueued_total",
		Help: "Number of writes queued for later reconciliation, by operation.",
	}, []string{"op"})
	if err := registerCounterVec(reg, &enqueued); err != nil {
		return nil, err
	}
	c.enqueued = enqueued

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commsync_pending_queue_depth",
		Help: "Current number of pending writes awaiting reconciliation.",
	})
	if err := reg.Register(queueDepth); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				queueDepth = existing
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	c.queueDepth = queueDepth

	reconcileResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commsync_reconcile_items_total",
		Help: "Number of reconciled queue items by outcome.",
	}, []string{"outcome"})
	if err := registerCounterVec(reg, &reconcileResults); err != nil {
		return nil, err
	}
	c.reconcileResults = reconcileResults

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commsync_request_duration_seconds",
		Help:    "Duration of remote API requests by method, path and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	if err := reg.Register(requestDuration); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				requestDuration = existing
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	c.requestDuration = requestDuration

	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) error {
	if err := reg.Register(*vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return err
		}
		*vec = existing
	}
	return nil
}

func (c *PrometheusCollector) IncCacheFallback(reason string) {
	c.cacheFallbacks.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) IncEnqueued(op string) {
	c.enqueued.WithLabelValues(op).Inc()
}

func (c *PrometheusCollector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

func (c *PrometheusCollector) ObserveReconcile(summary Summary) {
	c.reconcileResults.WithLabelValues("succeeded").Add(float64(summary.Succeeded))
	c.reconcileResults.WithLabelValues("failed").Add(float64(summary.Failed))
}

func (c *PrometheusCollector) ObserveRequest(method, path string, status int, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}
