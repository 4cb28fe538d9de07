package batcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/batcher/packing"
	"github.com/ringo380/inferno-sub006/internal/batcher/strategies"
	"github.com/ringo380/inferno-sub006/internal/models"
)

// runFormation owns b.batches and closes it on exit.
func (b *AdaptiveBatcher) runFormation(ctx context.Context) {
	defer close(b.formationDone)
	defer close(b.batches)

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeAdmission()
			b.failQueued()
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
		}
		b.tick(ctx)
	}
}

// tick emits every batch that qualifies right now, then lets the adaptive
// controller react.
func (b *AdaptiveBatcher) tick(ctx context.Context) {
	for {
		batch := b.formBatch()
		if batch == nil {
			break
		}
		select {
		case b.batches <- batch:
		case <-ctx.Done():
			b.failBatch(batch, models.ErrShuttingDown)
			return
		}
	}
	b.recorder.SetQueueDepths(b.priorityQueue.Status())

	if b.adaptive != nil {
		b.adjust()
	}
}

func (b *AdaptiveBatcher) adjust() {
	snap := b.accumulator.Snapshot()
	params, adjusted := b.adaptive.Adjust(strategies.Sample{
		RequestsPerSecond: snap.RequestsPerSecond,
		EfficiencyRatio:   snap.EfficiencyRatio,
	})
	if !adjusted {
		return
	}
	b.recorder.SetAdaptiveParams(params.CurrentBatchSize, params.CurrentWaitTime)
	b.logger.Debug("adaptive parameters adjusted",
		zap.Int("batch_size", params.CurrentBatchSize),
		zap.Duration("wait_time", params.CurrentWaitTime),
		zap.Float64("requests_per_second", snap.RequestsPerSecond),
		zap.Float64("efficiency_ratio", snap.EfficiencyRatio),
	)
}

// formBatch runs one drain-and-group pass over the queues. It returns nil
// when nothing qualifies; anything drained but not batched goes back to the
// front of its queue.
func (b *AdaptiveBatcher) formBatch() *models.Batch {
	// Params are read before the queue lock is taken; the two locks are
	// never held together.
	params := b.strategy.Params()
	now := b.clock.Now()

	var batch *models.Batch
	b.priorityQueue.Claim(func(tx *packing.Tx) {
		reqs, starved := b.collect(tx, params, now)
		if len(reqs) == 0 {
			return
		}
		if !strategies.ShouldCreateBatch(reqs, params, b.cfg.MinBatchSize, now) {
			tx.Return(reqs)
			return
		}
		if b.cfg.SequenceLengthGrouping && !starved {
			kept, deferred := packing.GroupBySequenceLength(reqs)
			if len(kept) >= b.cfg.MinBatchSize {
				tx.Return(deferred)
				reqs = kept
			}
		}
		batch = models.NewBatch(reqs, now, b.cfg.PaddingStrategy)
	})

	if batch != nil {
		b.recorder.BatchFormed(batch)
		b.logger.Debug("batch formed",
			zap.String("batch_id", batch.ID),
			zap.Int("size", batch.Size()),
			zap.String("max_priority", batch.MaxPriority().String()),
			zap.Float64("avg_sequence_length", batch.AvgSequenceLength()),
		)
	}
	return batch
}

// collect drains up to the target batch size. Queue heads past the
// starvation age are taken first, oldest first, regardless of priority;
// the rest fills from high to low. Until the minimum size is reached a
// level stops contributing at its first request younger than the wait
// time.
func (b *AdaptiveBatcher) collect(tx *packing.Tx, params strategies.Params, now time.Time) ([]*models.InferenceRequest, bool) {
	target := params.BatchSize
	var reqs []*models.InferenceRequest
	starved := false

	for len(reqs) < target {
		var oldest *models.InferenceRequest
		var level models.Priority
		for _, p := range models.Priorities {
			head := tx.Front(p)
			if head == nil || !strategies.Starved(head.WaitedAt(now), params) {
				continue
			}
			if oldest == nil || head.Seq < oldest.Seq {
				oldest, level = head, p
			}
		}
		if oldest == nil {
			break
		}
		reqs = append(reqs, tx.Pop(level))
		starved = true
	}

	for _, p := range models.Priorities {
		for len(reqs) < target && tx.Len(p) > 0 {
			if len(reqs) < b.cfg.MinBatchSize && tx.Front(p).WaitedAt(now) < params.WaitTime {
				break
			}
			reqs = append(reqs, tx.Pop(p))
		}
		if len(reqs) >= target {
			break
		}
	}
	return reqs, starved
}
