package packing

import (
	"testing"

	"github.com/ringo380/inferno-sub006/internal/models"
)

func newReq(p models.Priority, input string) *models.InferenceRequest {
	return models.NewInferenceRequest(input, p, nil)
}

func TestPriorityQueueFIFOPerLevel(t *testing.T) {
	pq := NewPriorityQueue()

	n1 := newReq(models.PriorityNormal, "n1")
	l1 := newReq(models.PriorityLow, "l1")
	h1 := newReq(models.PriorityHigh, "h1")
	n2 := newReq(models.PriorityNormal, "n2")
	h2 := newReq(models.PriorityHigh, "h2")
	for _, r := range []*models.InferenceRequest{n1, l1, h1, n2, h2} {
		pq.Submit(r)
	}

	if pq.Depth() != 5 {
		t.Fatalf("expected depth 5, got %d", pq.Depth())
	}
	if pq.DepthOf(models.PriorityHigh) != 2 {
		t.Errorf("expected high depth 2, got %d", pq.DepthOf(models.PriorityHigh))
	}

	pq.Claim(func(tx *Tx) {
		if got := tx.Pop(models.PriorityHigh); got != h1 {
			t.Errorf("expected h1 first, got %v", got.Input)
		}
		if got := tx.Front(models.PriorityHigh); got != h2 {
			t.Errorf("expected h2 at front, got %v", got.Input)
		}
		normals := tx.Drain(models.PriorityNormal, 5)
		if len(normals) != 2 || normals[0] != n1 || normals[1] != n2 {
			t.Errorf("expected n1, n2 in order, got %d requests", len(normals))
		}
		if tx.Len(models.PriorityLow) != 1 {
			t.Errorf("expected one low request, got %d", tx.Len(models.PriorityLow))
		}
	})

	if pq.Depth() != 2 {
		t.Errorf("expected depth 2 after claim, got %d", pq.Depth())
	}
}

func TestPriorityQueueAssignsIncreasingSeq(t *testing.T) {
	pq := NewPriorityQueue()
	a := newReq(models.PriorityLow, "a")
	b := newReq(models.PriorityHigh, "b")
	pq.Submit(a)
	pq.Submit(b)

	if a.Seq == 0 || b.Seq <= a.Seq {
		t.Errorf("expected increasing sequence numbers, got %d then %d", a.Seq, b.Seq)
	}
}

func TestPriorityQueueReturnRestoresOrder(t *testing.T) {
	pq := NewPriorityQueue()
	reqs := []*models.InferenceRequest{
		newReq(models.PriorityNormal, "n1"),
		newReq(models.PriorityNormal, "n2"),
		newReq(models.PriorityNormal, "n3"),
		newReq(models.PriorityLow, "l1"),
	}
	for _, r := range reqs {
		pq.Submit(r)
	}

	pq.Claim(func(tx *Tx) {
		claimed := tx.Drain(models.PriorityNormal, 2)
		claimed = append(claimed, tx.Pop(models.PriorityLow))
		// hand them back shuffled
		tx.Return([]*models.InferenceRequest{claimed[2], claimed[1], claimed[0]})
	})

	drained := pq.DrainAll()
	expected := []string{"n1", "n2", "n3", "l1"}
	if len(drained) != len(expected) {
		t.Fatalf("expected %d requests, got %d", len(expected), len(drained))
	}
	for i, r := range drained {
		if r.Input != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], r.Input)
		}
	}
	if pq.Depth() != 0 {
		t.Errorf("expected empty queue after DrainAll, got %d", pq.Depth())
	}
}

func TestPriorityQueueStatus(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Submit(newReq(models.PriorityHigh, "h"))
	pq.Submit(newReq(models.PriorityLow, "l1"))
	pq.Submit(newReq(models.PriorityLow, "l2"))
	pq.Submit(nil)

	status := pq.Status()
	expected := map[string]int{"high": 1, "normal": 0, "low": 2}
	if len(status) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(status))
	}
	for name, depth := range expected {
		if status[name] != depth {
			t.Errorf("expected %s depth %d, got %d", name, depth, status[name])
		}
	}
}

func TestPriorityQueueEmptyPop(t *testing.T) {
	pq := NewPriorityQueue()
	pq.Claim(func(tx *Tx) {
		if tx.Pop(models.PriorityHigh) != nil {
			t.Error("expected nil pop on empty queue")
		}
		if tx.Front(models.PriorityLow) != nil {
			t.Error("expected nil front on empty queue")
		}
		if out := tx.Drain(models.PriorityNormal, 3); len(out) != 0 {
			t.Errorf("expected no requests, got %d", len(out))
		}
	})
}
