package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/models"
)

func (b *AdaptiveBatcher) runDispatch(ctx context.Context) {
	defer close(b.dispatchDone)
	for batch := range b.batches {
		b.executing.Add(1)
		go b.execute(ctx, batch)
	}
	b.logger.Info("batch channel closed, dispatch loop exiting")
}

// execute runs one batch once a concurrency permit is available.
func (b *AdaptiveBatcher) execute(ctx context.Context, batch *models.Batch) {
	defer b.executing.Done()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.failBatch(batch, fmt.Errorf("%w: %w", models.ErrShuttingDown, err))
		return
	}
	defer b.sem.Release(1)

	b.recorder.SetInFlight(int(atomic.AddInt64(&b.inFlight, 1)))
	defer func() {
		b.recorder.SetInFlight(int(atomic.AddInt64(&b.inFlight, -1)))
	}()

	b.processBatch(ctx, batch)
}

func (b *AdaptiveBatcher) processBatch(ctx context.Context, batch *models.Batch) {
	start := b.clock.Now()
	outputs, err := b.callBackend(ctx, batch)
	elapsed := b.clock.Since(start)
	if err == nil && len(outputs) != batch.Size() {
		err = fmt.Errorf("%w: got %d results for %d requests",
			models.ErrResultCountMismatch, len(outputs), batch.Size())
	}

	now := b.clock.Now()
	failed := 0
	for i, req := range batch.Requests {
		res := &models.RequestResult{
			RequestID: req.ID,
			BatchID:   batch.ID,
			BatchSize: batch.Size(),
			LatencyMs: float64(req.WaitedAt(now)) / float64(time.Millisecond),
		}
		if err != nil {
			res.Error = err
		} else {
			res.Output = outputs[i].Text
			res.Error = outputs[i].Err
		}
		if res.Error != nil {
			failed++
		}
		req.Reply(res)
	}

	if err != nil {
		b.logger.Error("batch execution failed",
			zap.String("batch_id", batch.ID),
			zap.Int("size", batch.Size()),
			zap.Error(err),
		)
	} else {
		b.logger.Debug("batch executed",
			zap.String("batch_id", batch.ID),
			zap.Int("size", batch.Size()),
			zap.Int("failed", failed),
			zap.Duration("processing_time", elapsed),
		)
	}

	b.accumulator.Record(batch.Size(), elapsed, failed)
	b.recorder.BatchCompleted(batch, elapsed, failed)
	b.recorder.SetThroughput(b.accumulator.Snapshot())
}

// callBackend applies the per-batch timeout and turns a backend panic into
// an error for the whole batch.
func (b *AdaptiveBatcher) callBackend(ctx context.Context, batch *models.Batch) (outputs []models.InferenceOutput, err error) {
	if b.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.BatchTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			outputs, err = nil, fmt.Errorf("%w: backend panic: %v", models.ErrBackendUnavailable, r)
		}
	}()

	outputs, err = b.backend.ExecuteBatch(ctx, batch)
	if err != nil && b.cfg.BatchTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", models.ErrBatchTimeout, b.cfg.BatchTimeout, err)
	}
	return outputs, err
}

func (b *AdaptiveBatcher) failBatch(batch *models.Batch, err error) {
	now := b.clock.Now()
	for _, req := range batch.Requests {
		req.Fail(err, req.WaitedAt(now))
	}
	b.logger.Error("batch failed before execution",
		zap.String("batch_id", batch.ID),
		zap.Int("size", batch.Size()),
		zap.Error(err),
	)
	b.accumulator.Record(batch.Size(), 0, batch.Size())
	b.recorder.BatchCompleted(batch, 0, batch.Size())
}
