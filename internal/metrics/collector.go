package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/models"
)

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Collector exports scheduler activity as Prometheus metrics.
type Collector struct {
	requestsSubmitted *prometheus.CounterVec
	batchesFormed     prometheus.Counter
	batchSize         prometheus.Histogram
	queueWait         *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	inFlight          prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
	adaptiveBatchSize prometheus.Gauge
	adaptiveWait      prometheus.Gauge
	requestsPerSecond prometheus.Gauge
	efficiencyRatio   prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers every metric on reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		requestsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_submitted_total",
				Help:      "Inference requests admitted to the scheduler",
			},
			[]string{"priority"},
		),
		batchesFormed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_formed_total",
			Help:      "Batches emitted by the formation engine",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Requests per formed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		queueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time a request spent queued before joining a batch",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"priority"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Backend processing time per batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_batches",
			Help:      "Batches currently holding an admission permit",
		}),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Queued requests per priority",
			},
			[]string{"priority"},
		),
		adaptiveBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_batch_size",
			Help:      "Current target batch size",
		}),
		adaptiveWait: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_wait_seconds",
			Help:      "Current maximum queueing wait",
		}),
		requestsPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_per_second",
			Help:      "Smoothed batch throughput",
		}),
		efficiencyRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "efficiency_ratio",
			Help:      "Measured throughput over the configured target",
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) RequestSubmitted(p models.Priority) {
	c.requestsSubmitted.WithLabelValues(p.String()).Inc()
}

func (c *Collector) BatchFormed(b *models.Batch) {
	c.batchesFormed.Inc()
	c.batchSize.Observe(float64(b.Size()))
	for _, r := range b.Requests {
		c.queueWait.WithLabelValues(r.Priority.String()).Observe(r.WaitedAt(b.CreatedAt).Seconds())
	}
}

func (c *Collector) BatchCompleted(b *models.Batch, processing time.Duration, failed int) {
	outcome := OutcomeSuccess
	switch {
	case failed >= b.Size():
		outcome = OutcomeFailure
	case failed > 0:
		outcome = OutcomePartial
	}
	c.batchDuration.WithLabelValues(outcome).Observe(processing.Seconds())
	if outcome != OutcomeSuccess {
		c.logger.Debug("batch completed with failures",
			zap.String("batch_id", b.ID),
			zap.Int("failed", failed),
			zap.Int("size", b.Size()),
		)
	}
}

func (c *Collector) SetInFlight(n int) {
	c.inFlight.Set(float64(n))
}

func (c *Collector) SetQueueDepths(status map[string]int) {
	for name, depth := range status {
		c.queueDepth.WithLabelValues(name).Set(float64(depth))
	}
}

func (c *Collector) SetAdaptiveParams(batchSize int, wait time.Duration) {
	c.adaptiveBatchSize.Set(float64(batchSize))
	c.adaptiveWait.Set(wait.Seconds())
}

func (c *Collector) SetThroughput(m BatchingMetrics) {
	c.requestsPerSecond.Set(m.RequestsPerSecond)
	c.efficiencyRatio.Set(m.EfficiencyRatio)
}
