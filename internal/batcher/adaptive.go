package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/ringo380/inferno-sub006/internal/backend"
	"github.com/ringo380/inferno-sub006/internal/batcher/packing"
	"github.com/ringo380/inferno-sub006/internal/batcher/strategies"
	"github.com/ringo380/inferno-sub006/internal/metrics"
	"github.com/ringo380/inferno-sub006/internal/models"
	"github.com/ringo380/inferno-sub006/internal/tokenizer"
)

var _ Batcher = (*AdaptiveBatcher)(nil)

// AdaptiveBatcher queues requests per priority, forms batches on a fixed
// tick and runs them against a backend under a concurrency limit.
type AdaptiveBatcher struct {
	cfg           BatcherConfig
	backend       backend.Backend
	strategy      strategies.Strategy
	adaptive      *strategies.AdaptiveStrategy
	priorityQueue *packing.PriorityQueue
	batches       chan *models.Batch
	sem           *semaphore.Weighted
	accumulator   *metrics.Accumulator

	recorder  Recorder
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
	clock     clock.PassiveClock

	// admitMu orders Submit against the stopping flag so nothing is
	// enqueued after the queues have been drained.
	admitMu       sync.RWMutex
	startOnce     sync.Once
	stopOnce      sync.Once
	stopCh        chan struct{}
	formationDone chan struct{}
	dispatchDone  chan struct{}
	executing     sync.WaitGroup
	cancel        context.CancelFunc
	started       int32
	stopping      int32
	inFlight      int64
}

func NewAdaptiveBatcher(cfg BatcherConfig, be backend.Backend, opts ...Option) *AdaptiveBatcher {
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.MaxWait < strategies.MinWaitTime {
		cfg.MaxWait = strategies.MinWaitTime
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.PaddingStrategy == "" {
		cfg.PaddingStrategy = models.PaddingLeft
	}

	b := &AdaptiveBatcher{
		backend:       be,
		priorityQueue: packing.NewPriorityQueue(),
		batches:       make(chan *models.Batch, cfg.MaxConcurrentBatches),
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrentBatches)),
		accumulator:   metrics.NewAccumulator(cfg.ThroughputTarget),
		recorder:      nopRecorder{},
		tokenizer:     tokenizer.Character{},
		logger:        zap.NewNop(),
		clock:         clock.RealClock{},
		stopCh:        make(chan struct{}),
		formationDone: make(chan struct{}),
		dispatchDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "batcher"))

	switch {
	case !cfg.Enabled:
		// Every request is dispatched alone on the next tick.
		cfg.MinBatchSize = 1
		cfg.SequenceLengthGrouping = false
		b.strategy = strategies.NewFixedStrategy(0, 1)
	case cfg.AdaptiveBatching:
		b.adaptive = strategies.NewAdaptiveStrategy(strategies.Limits{
			MinBatchSize: cfg.MinBatchSize,
			MaxBatchSize: cfg.MaxBatchSize,
			MaxWait:      cfg.MaxWait,
		}, cfg.ThroughputTarget, cfg.AdjustmentInterval, b.clock)
		b.strategy = b.adaptive
	default:
		b.strategy = strategies.NewFixedStrategy(cfg.MaxWait, cfg.MaxBatchSize)
	}
	b.cfg = cfg

	params := b.strategy.Params()
	b.recorder.SetAdaptiveParams(params.BatchSize, params.WaitTime)
	return b
}

// Submit enqueues a request and returns the channel its single result is
// delivered on. It never blocks.
func (b *AdaptiveBatcher) Submit(input string, priority models.Priority, params *models.GenerationParams) <-chan *models.RequestResult {
	if !priority.Valid() {
		priority = models.PriorityNormal
	}
	req := models.NewInferenceRequest(input, priority, params)
	req.ReceivedAt = b.clock.Now()
	if n, err := b.tokenizer.SequenceLength(input); err != nil {
		b.logger.Debug("tokenizer failed, using byte length", zap.Error(err))
	} else {
		req.SequenceLength = n
	}

	b.admitMu.RLock()
	defer b.admitMu.RUnlock()
	if atomic.LoadInt32(&b.stopping) == 1 {
		req.Fail(models.ErrShuttingDown, 0)
		return req.Result()
	}
	b.priorityQueue.Submit(req)
	b.recorder.RequestSubmitted(priority)
	return req.Result()
}

func (b *AdaptiveBatcher) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		atomic.StoreInt32(&b.started, 1)
		go b.runFormation(runCtx)
		go b.runDispatch(runCtx)
		b.logger.Info("batcher started",
			zap.String("strategy", b.strategy.Name()),
			zap.Int("max_batch_size", b.cfg.MaxBatchSize),
			zap.Int("min_batch_size", b.cfg.MinBatchSize),
			zap.Duration("max_wait", b.cfg.MaxWait),
			zap.Int("max_concurrent_batches", b.cfg.MaxConcurrentBatches),
		)
	})
	return nil
}

// Stop rejects new submissions, fails everything still queued with
// ErrShuttingDown and waits for formed batches to finish. If ctx expires
// first the remaining backend calls are cancelled.
func (b *AdaptiveBatcher) Stop(ctx context.Context) error {
	b.closeAdmission()
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})

	if atomic.LoadInt32(&b.started) == 0 {
		b.failQueued()
		return nil
	}
	defer b.cancel()

	select {
	case <-b.dispatchDone:
	case <-ctx.Done():
		b.failQueued()
		return ctx.Err()
	}
	b.failQueued()

	done := make(chan struct{})
	go func() {
		b.executing.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("batcher stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("batcher stop deadline exceeded, cancelling in-flight batches",
			zap.Int("in_flight", b.InFlight()))
		return ctx.Err()
	}
}

func (b *AdaptiveBatcher) closeAdmission() {
	b.admitMu.Lock()
	atomic.StoreInt32(&b.stopping, 1)
	b.admitMu.Unlock()
}

func (b *AdaptiveBatcher) failQueued() {
	queued := b.priorityQueue.DrainAll()
	if len(queued) == 0 {
		return
	}
	now := b.clock.Now()
	for _, req := range queued {
		req.Fail(models.ErrShuttingDown, req.WaitedAt(now))
	}
	b.logger.Info("failed queued requests on shutdown", zap.Int("count", len(queued)))
	b.recorder.SetQueueDepths(b.priorityQueue.Status())
}

func (b *AdaptiveBatcher) QueueStatus() map[string]int {
	return b.priorityQueue.Status()
}

func (b *AdaptiveBatcher) QueueDepth() int {
	return b.priorityQueue.Depth()
}

func (b *AdaptiveBatcher) Metrics() metrics.BatchingMetrics {
	return b.accumulator.Snapshot()
}

// Params returns the batch size and wait time formation currently uses.
func (b *AdaptiveBatcher) Params() strategies.Params {
	return b.strategy.Params()
}

// AdaptiveParams reports the controller state. ok is false when adaptive
// batching is off.
func (b *AdaptiveBatcher) AdaptiveParams() (params strategies.AdaptiveParams, ok bool) {
	if b.adaptive == nil {
		return strategies.AdaptiveParams{}, false
	}
	return b.adaptive.Snapshot(), true
}

func (b *AdaptiveBatcher) InFlight() int {
	return int(atomic.LoadInt64(&b.inFlight))
}

// Benchmark submits n requests cycling through high, normal and low
// priority, waits for every result and returns the observed requests per
// second.
func (b *AdaptiveBatcher) Benchmark(ctx context.Context, n int) (float64, error) {
	if n <= 0 {
		return 0, nil
	}
	levels := []models.Priority{models.PriorityHigh, models.PriorityNormal, models.PriorityLow}
	start := time.Now()

	results := make([]<-chan *models.RequestResult, n)
	for i := 0; i < n; i++ {
		results[i] = b.Submit("benchmark request", levels[i%len(levels)], nil)
	}

	failed := 0
	for _, ch := range results {
		select {
		case res := <-ch:
			if res.Error != nil {
				failed++
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	elapsed := time.Since(start)
	rps := float64(n) / elapsed.Seconds()
	b.logger.Info("benchmark complete",
		zap.Int("requests", n),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed),
		zap.Float64("requests_per_second", rps),
	)
	return rps, nil
}
