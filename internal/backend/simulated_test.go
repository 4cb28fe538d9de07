package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringo380/inferno-sub006/internal/models"
)

func batchOf(inputs ...string) *models.Batch {
	reqs := make([]*models.InferenceRequest, len(inputs))
	for i, in := range inputs {
		reqs[i] = models.NewInferenceRequest(in, models.PriorityNormal, nil)
	}
	return models.NewBatch(reqs, time.Now(), models.PaddingLeft)
}

func TestSimulated_EchoesInputsInOrder(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{}, nil)
	batch := batchOf("alpha", "beta", "gamma")

	outputs, err := sim.ExecuteBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	for i, out := range outputs {
		assert.NoError(t, out.Err)
		assert.Contains(t, out.Text, batch.Requests[i].ID)
		assert.Contains(t, out.Text, batch.Requests[i].Input)
	}
}

func TestSimulated_Latency(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{
		BaseLatency:     2 * time.Millisecond,
		PerTokenLatency: 100 * time.Microsecond,
	}, nil)

	// 10 bytes total
	assert.Equal(t, 3*time.Millisecond, sim.Latency(batchOf("abcde", "fghij")))
}

func TestSimulated_LatencyVarianceBounded(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{BaseLatency: 10 * time.Millisecond, LatencyVariance: 0.2}, nil)
	batch := batchOf("x")
	for i := 0; i < 100; i++ {
		l := sim.Latency(batch)
		assert.GreaterOrEqual(t, l, 8*time.Millisecond)
		assert.LessOrEqual(t, l, 12*time.Millisecond)
	}
}

func TestSimulated_RejectsOversizedBatch(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{MaxBatchTokens: 8}, nil)

	_, err := sim.ExecuteBatch(context.Background(), batchOf("12345", "6789"))
	assert.True(t, errors.Is(err, models.ErrBatchTooLarge))
}

func TestSimulated_HonorsContext(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{BaseLatency: time.Minute}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.ExecuteBatch(ctx, batchOf("slow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackendFunc(t *testing.T) {
	var seen int
	be := BackendFunc(func(_ context.Context, b *models.Batch) ([]models.InferenceOutput, error) {
		seen = b.Size()
		return make([]models.InferenceOutput, b.Size()), nil
	})

	outputs, err := be.ExecuteBatch(context.Background(), batchOf("a", "b"))
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.Equal(t, 2, seen)
}
