package strategies

import "time"

// FixedStrategy serves static limits; used when adaptive batching is off.
type FixedStrategy struct {
	params Params
}

func NewFixedStrategy(maxWait time.Duration, maxBatchSize int) *FixedStrategy {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	if maxWait < 0 {
		maxWait = 0
	}
	return &FixedStrategy{
		params: Params{BatchSize: maxBatchSize, WaitTime: maxWait},
	}
}

func (s *FixedStrategy) Name() string {
	return "fixed"
}

func (s *FixedStrategy) Params() Params {
	return s.params
}
