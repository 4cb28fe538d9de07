package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Priorities lists every level in formation order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, s)
	}
}

type GenerationParams struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type InferenceRequest struct {
	ID             string            `json:"id"`
	Input          string            `json:"input"`
	Params         *GenerationParams `json:"params,omitempty"`
	Priority       Priority          `json:"priority"`
	SequenceLength int               `json:"sequence_length"`
	ReceivedAt     time.Time         `json:"received_at"`

	// Seq is the enqueue order assigned by the queue set.
	Seq uint64 `json:"-"`

	resultChan chan *RequestResult
	replyOnce  sync.Once
}

func NewInferenceRequest(input string, priority Priority, params *GenerationParams) *InferenceRequest {
	return &InferenceRequest{
		ID:             uuid.New().String(),
		Input:          input,
		Params:         params,
		Priority:       priority,
		SequenceLength: len(input),
		ReceivedAt:     time.Now(),
		resultChan:     make(chan *RequestResult, 1),
	}
}

// Result returns the single-use reply channel. It yields exactly one value.
func (r *InferenceRequest) Result() <-chan *RequestResult {
	return r.resultChan
}

// Reply delivers the result if none has been delivered yet and reports
// whether this call was the one that delivered it. It never blocks: the
// channel is buffered for one value, so a caller that stopped listening
// simply never reads it.
func (r *InferenceRequest) Reply(res *RequestResult) bool {
	delivered := false
	r.replyOnce.Do(func() {
		if r.resultChan == nil {
			return
		}
		if res.RequestID == "" {
			res.RequestID = r.ID
		}
		r.resultChan <- res
		delivered = true
	})
	return delivered
}

func (r *InferenceRequest) Fail(err error, latency time.Duration) bool {
	return r.Reply(&RequestResult{
		RequestID: r.ID,
		Error:     err,
		LatencyMs: float64(latency) / float64(time.Millisecond),
	})
}

// WaitedAt reports how long the request has been queued as of now.
func (r *InferenceRequest) WaitedAt(now time.Time) time.Duration {
	return now.Sub(r.ReceivedAt)
}

type RequestResult struct {
	RequestID string  `json:"request_id"`
	Output    string  `json:"output"`
	Error     error   `json:"-"`
	LatencyMs float64 `json:"latency_ms"`
	BatchID   string  `json:"batch_id,omitempty"`
	BatchSize int     `json:"batch_size,omitempty"`
}
