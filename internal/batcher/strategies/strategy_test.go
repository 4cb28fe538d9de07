package strategies

import (
	"testing"
	"time"

	"github.com/ringo380/inferno-sub006/internal/models"
)

func aged(now time.Time, ages ...time.Duration) []*models.InferenceRequest {
	reqs := make([]*models.InferenceRequest, len(ages))
	for i, age := range ages {
		reqs[i] = &models.InferenceRequest{ReceivedAt: now.Add(-age)}
	}
	return reqs
}

func TestShouldCreateBatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params := Params{BatchSize: 4, WaitTime: 10 * time.Millisecond}
	ms := time.Millisecond

	tests := []struct {
		name     string
		ages     []time.Duration
		minBatch int
		expected bool
	}{
		{"empty", nil, 1, false},
		{"target reached", []time.Duration{0, 0, 0, 0}, 1, true},
		{"min met and oldest waited", []time.Duration{10 * ms, 1 * ms}, 2, true},
		{"min met but too fresh", []time.Duration{9 * ms, 1 * ms}, 2, false},
		{"below min and waited", []time.Duration{15 * ms}, 2, false},
		{"below min but starved", []time.Duration{20 * ms}, 3, true},
		{"starvation triggered by any member", []time.Duration{1 * ms, 25 * ms}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldCreateBatch(aged(now, tt.ages...), params, tt.minBatch, now)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestStarvedRequiresPositiveWait(t *testing.T) {
	if Starved(time.Hour, Params{BatchSize: 1}) {
		t.Error("expected no starvation without a wait policy")
	}
	if !Starved(4*time.Millisecond, Params{BatchSize: 1, WaitTime: 2 * time.Millisecond}) {
		t.Error("expected starvation at twice the wait time")
	}
	if got := (Params{WaitTime: 7 * time.Millisecond}).StarvationAfter(); got != 14*time.Millisecond {
		t.Errorf("expected 14ms, got %v", got)
	}
}
