// Package metrics keeps the running batching statistics the adaptive
// controller reads, and exports them to Prometheus.
package metrics

import (
	"sync"
	"time"
)

// emaWeight is the weight given to each new requests-per-second sample.
const emaWeight = 0.1

type BatchingMetrics struct {
	ThroughputImprovement  float64 `json:"throughput_improvement"`
	EfficiencyRatio        float64 `json:"efficiency_ratio"`
	AvgBatchSize           float64 `json:"avg_batch_size"`
	AvgWaitTimeMs          float64 `json:"avg_wait_time_ms"`
	TotalRequestsProcessed uint64  `json:"total_requests_processed"`
	TotalBatchesProcessed  uint64  `json:"total_batches_processed"`
	TotalFailedRequests    uint64  `json:"total_failed_requests"`
	TotalFailedBatches     uint64  `json:"total_failed_batches"`
	RequestsPerSecond      float64 `json:"requests_per_second"`
}

// Accumulator folds completed batches into BatchingMetrics.
type Accumulator struct {
	mu     sync.RWMutex
	m      BatchingMetrics
	target float64
}

func NewAccumulator(throughputTarget float64) *Accumulator {
	return &Accumulator{target: throughputTarget}
}

// Record folds one completed batch. failed counts the requests of the batch
// that received an error.
func (a *Accumulator) Record(batchSize int, processing time.Duration, failed int) {
	if batchSize <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.m.TotalBatchesProcessed++
	a.m.TotalRequestsProcessed += uint64(batchSize)
	if failed > 0 {
		a.m.TotalFailedRequests += uint64(failed)
		if failed == batchSize {
			a.m.TotalFailedBatches++
		}
	}

	n := float64(a.m.TotalBatchesProcessed)
	a.m.AvgBatchSize = (a.m.AvgBatchSize*(n-1) + float64(batchSize)) / n

	processingMs := float64(processing) / float64(time.Millisecond)
	a.m.AvgWaitTimeMs = (a.m.AvgWaitTimeMs*(n-1) + processingMs) / n

	if secs := processing.Seconds(); secs > 0 {
		sample := float64(batchSize) / secs
		a.m.RequestsPerSecond = a.m.RequestsPerSecond*(1-emaWeight) + sample*emaWeight
	}

	if a.target > 0 {
		a.m.EfficiencyRatio = a.m.RequestsPerSecond / a.target
	}
	a.m.ThroughputImprovement = a.m.AvgBatchSize
}

func (a *Accumulator) Snapshot() BatchingMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.m
}
