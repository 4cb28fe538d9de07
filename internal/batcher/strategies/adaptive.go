package strategies

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultAdjustmentInterval = 5 * time.Second

	lowThroughputRatio  = 0.8
	highThroughputRatio = 1.2
	lowEfficiency       = 0.7
	highEfficiency      = 1.3

	batchSizeStepUp   = 2
	batchSizeStepDown = 1
	waitStepUp        = 5 * time.Millisecond
	waitStepDown      = 2 * time.Millisecond
)

type AdaptiveParams struct {
	CurrentBatchSize int           `json:"current_batch_size"`
	CurrentWaitTime  time.Duration `json:"current_wait_time"`
	RecentThroughput float64       `json:"recent_throughput"`
	LastAdjustment   time.Time     `json:"last_adjustment"`
}

// Sample is the measured performance the controller reacts to.
type Sample struct {
	RequestsPerSecond float64
	EfficiencyRatio   float64
}

// AdaptiveStrategy is a bang-bang controller over batch size and wait time.
type AdaptiveStrategy struct {
	mu       sync.RWMutex
	params   AdaptiveParams
	limits   Limits
	target   float64
	interval time.Duration
	clock    clock.PassiveClock
}

func NewAdaptiveStrategy(limits Limits, throughputTarget float64, interval time.Duration, clk clock.PassiveClock) *AdaptiveStrategy {
	if limits.MinBatchSize <= 0 {
		limits.MinBatchSize = 1
	}
	if limits.MaxBatchSize < limits.MinBatchSize {
		limits.MaxBatchSize = limits.MinBatchSize
	}
	if limits.MaxWait < MinWaitTime {
		limits.MaxWait = MinWaitTime
	}
	if interval <= 0 {
		interval = DefaultAdjustmentInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &AdaptiveStrategy{
		params: AdaptiveParams{
			CurrentBatchSize: limits.clampSize((limits.MinBatchSize + limits.MaxBatchSize) / 2),
			CurrentWaitTime:  limits.MaxWait,
			LastAdjustment:   clk.Now(),
		},
		limits:   limits,
		target:   throughputTarget,
		interval: interval,
		clock:    clk,
	}
}

func (s *AdaptiveStrategy) Name() string {
	return "adaptive"
}

func (s *AdaptiveStrategy) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Params{BatchSize: s.params.CurrentBatchSize, WaitTime: s.params.CurrentWaitTime}
}

func (s *AdaptiveStrategy) Snapshot() AdaptiveParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Adjust applies one control step if the adjustment interval has elapsed
// and reports whether it did.
func (s *AdaptiveStrategy) Adjust(sample Sample) (AdaptiveParams, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.params.LastAdjustment) < s.interval {
		return s.params, false
	}

	switch {
	case sample.RequestsPerSecond < s.target*lowThroughputRatio:
		s.params.CurrentBatchSize = s.limits.clampSize(s.params.CurrentBatchSize + batchSizeStepUp)
	case sample.RequestsPerSecond > s.target*highThroughputRatio:
		s.params.CurrentBatchSize = s.limits.clampSize(s.params.CurrentBatchSize - batchSizeStepDown)
	}

	switch {
	case sample.EfficiencyRatio < lowEfficiency:
		s.params.CurrentWaitTime = s.limits.clampWait(s.params.CurrentWaitTime + waitStepUp)
	case sample.EfficiencyRatio > highEfficiency:
		s.params.CurrentWaitTime = s.limits.clampWait(s.params.CurrentWaitTime - waitStepDown)
	}

	s.params.RecentThroughput = sample.RequestsPerSecond
	s.params.LastAdjustment = now
	return s.params, true
}
