package backend

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/models"
)

type SimulatedConfig struct {
	BaseLatency     time.Duration
	PerTokenLatency time.Duration
	// LatencyVariance is the +/- jitter as a fraction of the modeled latency.
	LatencyVariance float64
	// MaxBatchTokens rejects batches whose total sequence length exceeds it.
	// Zero disables the check.
	MaxBatchTokens int
}

// Simulated stands in for a model runtime: it sleeps for a latency derived
// from the batch's total sequence length and echoes every input.
type Simulated struct {
	cfg    SimulatedConfig
	logger *zap.Logger
}

func NewSimulated(cfg SimulatedConfig, logger *zap.Logger) *Simulated {
	if cfg.LatencyVariance < 0 {
		cfg.LatencyVariance = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "simulated_backend")),
	}
}

func (s *Simulated) Latency(batch *models.Batch) time.Duration {
	latency := s.cfg.BaseLatency + time.Duration(batch.TotalSequenceLength())*s.cfg.PerTokenLatency
	if s.cfg.LatencyVariance > 0 && latency > 0 {
		jitter := (rand.Float64()*2 - 1) * s.cfg.LatencyVariance
		latency = time.Duration(float64(latency) * (1 + jitter))
	}
	if latency < 0 {
		latency = 0
	}
	return latency
}

func (s *Simulated) ExecuteBatch(ctx context.Context, batch *models.Batch) ([]models.InferenceOutput, error) {
	if s.cfg.MaxBatchTokens > 0 && batch.TotalSequenceLength() > s.cfg.MaxBatchTokens {
		return nil, fmt.Errorf("%w: %d > %d", models.ErrBatchTooLarge, batch.TotalSequenceLength(), s.cfg.MaxBatchTokens)
	}

	latency := s.Latency(batch)
	s.logger.Debug("executing batch",
		zap.String("batch_id", batch.ID),
		zap.Int("size", batch.Size()),
		zap.Float64("avg_sequence_length", batch.AvgSequenceLength()),
		zap.String("padding", string(batch.Padding)),
		zap.Duration("latency", latency),
	)

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	outputs := make([]models.InferenceOutput, batch.Size())
	for i, req := range batch.Requests {
		outputs[i] = models.InferenceOutput{
			Text: fmt.Sprintf("Batch response for request %s: %s", req.ID, req.Input),
		}
	}
	return outputs, nil
}
