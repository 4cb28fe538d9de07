package strategies

import (
	"time"

	"github.com/ringo380/inferno-sub006/internal/models"
)

// Params is what formation reads on every tick.
type Params struct {
	BatchSize int
	WaitTime  time.Duration
}

// StarvationAfter is the age at which a request is flushed regardless of
// size policy.
func (p Params) StarvationAfter() time.Duration {
	return 2 * p.WaitTime
}

type Strategy interface {
	Name() string
	Params() Params
}

// Limits bounds every parameter a strategy may produce.
type Limits struct {
	MinBatchSize int
	MaxBatchSize int
	MaxWait      time.Duration
}

func (l Limits) clampSize(n int) int {
	if n > l.MaxBatchSize {
		n = l.MaxBatchSize
	}
	if n < l.MinBatchSize {
		n = l.MinBatchSize
	}
	return n
}

func (l Limits) clampWait(d time.Duration) time.Duration {
	if d > l.MaxWait {
		d = l.MaxWait
	}
	if d < MinWaitTime {
		d = MinWaitTime
	}
	return d
}

// MinWaitTime is the floor for an adaptive wait.
const MinWaitTime = time.Millisecond

// ShouldCreateBatch decides whether accumulated requests are emitted now.
func ShouldCreateBatch(reqs []*models.InferenceRequest, p Params, minBatchSize int, now time.Time) bool {
	if len(reqs) == 0 {
		return false
	}
	if len(reqs) >= p.BatchSize {
		return true
	}

	oldest := reqs[0].WaitedAt(now)
	for _, r := range reqs[1:] {
		if w := r.WaitedAt(now); w > oldest {
			oldest = w
		}
	}
	if len(reqs) >= minBatchSize && oldest >= p.WaitTime {
		return true
	}
	return Starved(oldest, p)
}

// Starved reports whether a wait has crossed the anti-starvation threshold.
func Starved(waited time.Duration, p Params) bool {
	return p.WaitTime > 0 && waited >= p.StarvationAfter()
}
