package packing

import (
	"sort"

	"github.com/ringo380/inferno-sub006/internal/models"
)

const (
	lengthToleranceRatio = 0.2
	lengthToleranceFloor = 50
)

// compatible reports whether next may follow prev in a padded batch.
func compatible(prev, next int) bool {
	diff := next - prev
	if diff < 0 {
		diff = -diff
	}
	limit := int(float64(prev) * lengthToleranceRatio)
	if limit < lengthToleranceFloor {
		limit = lengthToleranceFloor
	}
	return diff <= limit
}

// GroupBySequenceLength sorts requests by sequence length and keeps the
// longest contiguous run of compatible lengths. The earliest run wins ties.
// Everything outside the run is returned as deferred.
func GroupBySequenceLength(reqs []*models.InferenceRequest) (kept, deferred []*models.InferenceRequest) {
	if len(reqs) <= 1 {
		return reqs, nil
	}

	sorted := make([]*models.InferenceRequest, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SequenceLength == sorted[j].SequenceLength {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].SequenceLength < sorted[j].SequenceLength
	})

	bestStart, bestLen := 0, 1
	curStart, curLen := 0, 1
	for i := 1; i < len(sorted); i++ {
		if compatible(sorted[i-1].SequenceLength, sorted[i].SequenceLength) {
			curLen++
			continue
		}
		if curLen > bestLen {
			bestStart, bestLen = curStart, curLen
		}
		curStart, curLen = i, 1
	}
	if curLen > bestLen {
		bestStart, bestLen = curStart, curLen
	}

	kept = sorted[bestStart : bestStart+bestLen]
	deferred = make([]*models.InferenceRequest, 0, len(sorted)-bestLen)
	deferred = append(deferred, sorted[:bestStart]...)
	deferred = append(deferred, sorted[bestStart+bestLen:]...)
	return kept, deferred
}
