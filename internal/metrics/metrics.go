// Package metrics exposes Prometheus metrics for the agent's backup
// activity.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"github.com/voidmesh/backhaul/internal/models"
)

// Collector owns the agent's Prometheus registry and instruments.
type Collector struct {
	registry *prometheus.Registry
	deviceID string
	pushURL  string
	logger   zerolog.Logger

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	dataAddedTotal prometheus.Counter
	queueDepth     prometheus.Gauge
	runningJobs    prometheus.Gauge
	droppedTotal   prometheus.Counter
}

// New creates a Collector with its own registry so the agent's metrics stay
// separate from the default global one.
func New(deviceID string, logger zerolog.Logger) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		deviceID: deviceID,
		logger:   logger.With().Str("component", "metrics").Logger(),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backhaul_runs_total",
			Help: "Finalized backup runs by status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backhaul_run_duration_seconds",
			Help:    "Wall clock duration of finalized backup runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}),
		dataAddedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "backhaul_data_added_bytes_total",
			Help: "Bytes added to the repository by successful runs.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "backhaul_queue_depth",
			Help: "Executions waiting in the scheduler queue.",
		}),
		runningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "backhaul_running_jobs",
			Help: "Backup executions currently in flight.",
		}),
		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "backhaul_dropped_executions_total",
			Help: "Executions dropped at the per-device concurrency limit.",
		}),
	}
}

// SetPushgateway enables pushing to the given Pushgateway URL.
func (c *Collector) SetPushgateway(url string) {
	c.pushURL = url
}

// Handler returns the scrape handler for the agent's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRun records one finalized run.
func (c *Collector) ObserveRun(status models.RunStatus, duration time.Duration, dataAdded int64) {
	c.runsTotal.WithLabelValues(string(status)).Inc()
	c.runDuration.Observe(duration.Seconds())
	if dataAdded > 0 {
		c.dataAddedTotal.Add(float64(dataAdded))
	}
}

// SetQueueDepth records the scheduler queue depth.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// IncRunning records an execution starting.
func (c *Collector) IncRunning() {
	c.runningJobs.Inc()
}

// DecRunning records an execution finishing.
func (c *Collector) DecRunning() {
	c.runningJobs.Dec()
}

// IncDropped records an execution dropped at the concurrency limit.
func (c *Collector) IncDropped() {
	c.droppedTotal.Inc()
}

// Push sends the current registry state to the configured Pushgateway. A
// no-op when no Pushgateway is configured.
func (c *Collector) Push(ctx context.Context) error {
	if c.pushURL == "" {
		return nil
	}
	return push.New(c.pushURL, "backhaul_agent").
		Gatherer(c.registry).
		Grouping("device", c.deviceID).
		PushContext(ctx)
}

// PushLoop pushes on the given interval until the context is canceled.
func (c *Collector) PushLoop(ctx context.Context, interval time.Duration) {
	if c.pushURL == "" {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Push(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("failed to push metrics")
			}
		}
	}
}
