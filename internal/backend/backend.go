// Package backend defines the inference collaborator the scheduler hands
// formed batches to, plus a latency-modeled simulated implementation.
package backend

import (
	"context"

	"github.com/ringo380/inferno-sub006/internal/models"
)

// Backend executes one batch. The returned slice must match the batch's
// requests in length and order; a non-nil error fails the whole batch.
type Backend interface {
	ExecuteBatch(ctx context.Context, batch *models.Batch) ([]models.InferenceOutput, error)
}

type BackendFunc func(ctx context.Context, batch *models.Batch) ([]models.InferenceOutput, error)

func (f BackendFunc) ExecuteBatch(ctx context.Context, batch *models.Batch) ([]models.InferenceOutput, error) {
	return f(ctx, batch)
}
