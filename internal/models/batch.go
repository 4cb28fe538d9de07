package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// estimatedPerRequest is the rough per-request cost used for forecasting only.
const estimatedPerRequest = 10 * time.Millisecond

type PaddingStrategy string

const (
	PaddingLeft    PaddingStrategy = "left"
	PaddingRight   PaddingStrategy = "right"
	PaddingNone    PaddingStrategy = "none"
	PaddingDynamic PaddingStrategy = "dynamic"
)

func ParsePaddingStrategy(s string) (PaddingStrategy, error) {
	switch PaddingStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PaddingLeft:
		return PaddingLeft, nil
	case PaddingRight:
		return PaddingRight, nil
	case PaddingNone:
		return PaddingNone, nil
	case PaddingDynamic:
		return PaddingDynamic, nil
	default:
		return PaddingLeft, fmt.Errorf("unknown padding strategy %q", s)
	}
}

type Batch struct {
	ID                      string              `json:"id"`
	Requests                []*InferenceRequest `json:"requests"`
	CreatedAt               time.Time           `json:"created_at"`
	EstimatedProcessingTime time.Duration       `json:"estimated_processing_time"`
	Padding                 PaddingStrategy     `json:"padding"`
}

func NewBatch(requests []*InferenceRequest, createdAt time.Time, padding PaddingStrategy) *Batch {
	return &Batch{
		ID:                      uuid.New().String(),
		Requests:                requests,
		CreatedAt:               createdAt,
		EstimatedProcessingTime: time.Duration(len(requests)) * estimatedPerRequest,
		Padding:                 padding,
	}
}

func (b *Batch) Size() int {
	return len(b.Requests)
}

func (b *Batch) TotalSequenceLength() int {
	total := 0
	for _, r := range b.Requests {
		total += r.SequenceLength
	}
	return total
}

func (b *Batch) AvgSequenceLength() float64 {
	if len(b.Requests) == 0 {
		return 0
	}
	return float64(b.TotalSequenceLength()) / float64(len(b.Requests))
}

func (b *Batch) MaxPriority() Priority {
	if len(b.Requests) == 0 {
		return PriorityNormal
	}
	max := PriorityLow
	for _, r := range b.Requests {
		if r.Priority > max {
			max = r.Priority
		}
	}
	return max
}

func (b *Batch) Inputs() []string {
	inputs := make([]string, len(b.Requests))
	for i, r := range b.Requests {
		inputs[i] = r.Input
	}
	return inputs
}

// InferenceOutput is one backend result, positionally matched to a request.
type InferenceOutput struct {
	Text string `json:"text"`
	Err  error  `json:"-"`
}
