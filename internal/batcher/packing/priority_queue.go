package packing

import (
	"sort"
	"sync"

	"github.com/ringo380/inferno-sub006/internal/models"
)

const priorityCount = 3

type fifo struct {
	items []*models.InferenceRequest
}

func (f *fifo) len() int {
	return len(f.items)
}

func (f *fifo) front() *models.InferenceRequest {
	if len(f.items) == 0 {
		return nil
	}
	return f.items[0]
}

func (f *fifo) pop() *models.InferenceRequest {
	if len(f.items) == 0 {
		return nil
	}
	req := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return req
}

func (f *fifo) prepend(reqs []*models.InferenceRequest) {
	if len(reqs) == 0 {
		return
	}
	items := make([]*models.InferenceRequest, 0, len(reqs)+len(f.items))
	items = append(items, reqs...)
	f.items = append(items, f.items...)
}

// PriorityQueue holds admitted requests in one FIFO per priority level.
type PriorityQueue struct {
	mu     sync.Mutex
	queues [priorityCount]fifo
	seq    uint64
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

func index(p models.Priority) int {
	if !p.Valid() {
		return int(models.PriorityNormal)
	}
	return int(p)
}

// Submit appends the request to the tail of its priority's queue.
func (pq *PriorityQueue) Submit(req *models.InferenceRequest) {
	if req == nil {
		return
	}
	pq.mu.Lock()
	pq.seq++
	req.Seq = pq.seq
	q := &pq.queues[index(req.Priority)]
	q.items = append(q.items, req)
	pq.mu.Unlock()
}

// Tx is a view of the queues valid only inside PriorityQueue.Claim.
type Tx struct {
	pq *PriorityQueue
}

func (tx *Tx) Len(p models.Priority) int {
	return tx.pq.queues[index(p)].len()
}

func (tx *Tx) Front(p models.Priority) *models.InferenceRequest {
	return tx.pq.queues[index(p)].front()
}

func (tx *Tx) Pop(p models.Priority) *models.InferenceRequest {
	return tx.pq.queues[index(p)].pop()
}

// Drain pops up to n requests from the head of one priority's queue.
func (tx *Tx) Drain(p models.Priority, n int) []*models.InferenceRequest {
	var out []*models.InferenceRequest
	for len(out) < n {
		req := tx.Pop(p)
		if req == nil {
			break
		}
		out = append(out, req)
	}
	return out
}

// Return puts claimed requests back at the front of their queues in
// arrival order. Requests must have been popped during the same claim.
func (tx *Tx) Return(reqs []*models.InferenceRequest) {
	if len(reqs) == 0 {
		return
	}
	var byPriority [priorityCount][]*models.InferenceRequest
	for _, req := range reqs {
		i := index(req.Priority)
		byPriority[i] = append(byPriority[i], req)
	}
	for i := range byPriority {
		group := byPriority[i]
		sort.Slice(group, func(a, b int) bool { return group[a].Seq < group[b].Seq })
		tx.pq.queues[i].prepend(group)
	}
}

// Claim runs fn with the queue lock held for one drain-and-group pass.
func (pq *PriorityQueue) Claim(fn func(tx *Tx)) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	fn(&Tx{pq: pq})
}

// DrainAll removes every queued request, highest priority first.
func (pq *PriorityQueue) DrainAll() []*models.InferenceRequest {
	var out []*models.InferenceRequest
	pq.Claim(func(tx *Tx) {
		for _, p := range models.Priorities {
			out = append(out, tx.Drain(p, tx.Len(p))...)
		}
	})
	return out
}

func (pq *PriorityQueue) Depth() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	total := 0
	for i := range pq.queues {
		total += pq.queues[i].len()
	}
	return total
}

func (pq *PriorityQueue) DepthOf(p models.Priority) int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.queues[index(p)].len()
}

// Status reports the depth of every level keyed by priority name.
func (pq *PriorityQueue) Status() map[string]int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	status := make(map[string]int, priorityCount)
	for _, p := range models.Priorities {
		status[p.String()] = pq.queues[index(p)].len()
	}
	return status
}
