package batcher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ringo380/inferno-sub006/internal/batcher/strategies"
	"github.com/ringo380/inferno-sub006/internal/config"
	"github.com/ringo380/inferno-sub006/internal/metrics"
	"github.com/ringo380/inferno-sub006/internal/models"
	"github.com/ringo380/inferno-sub006/internal/tokenizer"
)

type Batcher interface {
	Submit(input string, priority models.Priority, params *models.GenerationParams) <-chan *models.RequestResult
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	QueueStatus() map[string]int
	Metrics() metrics.BatchingMetrics
	Params() strategies.Params
	InFlight() int
}

type BatcherConfig struct {
	Enabled                bool
	MaxBatchSize           int
	MinBatchSize           int
	MaxWait                time.Duration
	AdaptiveBatching       bool
	PriorityLevels         int
	SequenceLengthGrouping bool
	PaddingStrategy        models.PaddingStrategy
	ThroughputTarget       float64
	MaxConcurrentBatches   int
	TickInterval           time.Duration
	AdjustmentInterval     time.Duration
	BatchTimeout           time.Duration
}

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		Enabled:                true,
		MaxBatchSize:           32,
		MinBatchSize:           1,
		MaxWait:                50 * time.Millisecond,
		AdaptiveBatching:       true,
		PriorityLevels:         3,
		SequenceLengthGrouping: true,
		PaddingStrategy:        models.PaddingLeft,
		ThroughputTarget:       1000,
		MaxConcurrentBatches:   10,
		TickInterval:           10 * time.Millisecond,
		AdjustmentInterval:     strategies.DefaultAdjustmentInterval,
	}
}

func NewBatcherConfig(cfg config.BatchingConfig) BatcherConfig {
	padding, _ := models.ParsePaddingStrategy(cfg.PaddingStrategy)
	return BatcherConfig{
		Enabled:                cfg.Enabled,
		MaxBatchSize:           cfg.MaxBatchSize,
		MinBatchSize:           cfg.MinBatchSize,
		MaxWait:                time.Duration(cfg.MaxWaitTimeMs) * time.Millisecond,
		AdaptiveBatching:       cfg.AdaptiveBatching,
		PriorityLevels:         cfg.PriorityLevels,
		SequenceLengthGrouping: cfg.SequenceLengthGrouping,
		PaddingStrategy:        padding,
		ThroughputTarget:       cfg.ThroughputTarget,
		MaxConcurrentBatches:   cfg.MaxConcurrentBatches,
		TickInterval:           time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		AdjustmentInterval:     time.Duration(cfg.AdjustmentIntervalMs) * time.Millisecond,
		BatchTimeout:           time.Duration(cfg.BatchTimeoutMs) * time.Millisecond,
	}
}

// Recorder receives scheduler events for export. metrics.Collector
// implements it.
type Recorder interface {
	RequestSubmitted(p models.Priority)
	BatchFormed(b *models.Batch)
	BatchCompleted(b *models.Batch, processing time.Duration, failed int)
	SetInFlight(n int)
	SetQueueDepths(status map[string]int)
	SetAdaptiveParams(batchSize int, wait time.Duration)
	SetThroughput(m metrics.BatchingMetrics)
}

type nopRecorder struct{}

func (nopRecorder) RequestSubmitted(models.Priority) {}
func (nopRecorder) BatchFormed(*models.Batch) {}
func (nopRecorder) BatchCompleted(*models.Batch, time.Duration, int) {}
func (nopRecorder) SetInFlight(int) {}
func (nopRecorder) SetQueueDepths(map[string]int) {}
func (nopRecorder) SetAdaptiveParams(int, time.Duration) {}
func (nopRecorder) SetThroughput(metrics.BatchingMetrics) {}

type Option func(*AdaptiveBatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(b *AdaptiveBatcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(clk clock.PassiveClock) Option {
	return func(b *AdaptiveBatcher) {
		if clk != nil {
			b.clock = clk
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(b *AdaptiveBatcher) {
		if r != nil {
			b.recorder = r
		}
	}
}

func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(b *AdaptiveBatcher) {
		if t != nil {
			b.tokenizer = t
		}
	}
}
