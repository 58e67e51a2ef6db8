// Package priorityqueue pairs payloads with a numeric priority on top of
// pkg/heap. Higher priority is dequeued first; equal priorities come out in
// insertion order.
package priorityqueue

import "taskq/pkg/heap"

type item[P any] struct {
	priority float64
	seq      uint64
	payload  P
}

// PriorityQueue is not safe for concurrent use; callers guard it.
type PriorityQueue[P any] struct {
	h   *heap.Heap[item[P]]
	seq uint64
}

func New[P any]() *PriorityQueue[P] {
	return &PriorityQueue[P]{h: heap.New(compareItems[P])}
}

// compareItems orders by priority, then by push order (earlier is greater).
func compareItems[P any](a, b item[P]) heap.Ordering {
	switch {
	case a.priority < b.priority:
		return heap.Less
	case a.priority > b.priority:
		return heap.Greater
	}
	switch {
	case a.seq > b.seq:
		return heap.Less
	case a.seq < b.seq:
		return heap.Greater
	}
	return heap.Equal
}

// Push enqueues payload at the given priority.
func (q *PriorityQueue[P]) Push(payload P, priority float64) {
	q.seq++
	q.h.Push(item[P]{priority: priority, seq: q.seq, payload: payload})
}

// Peek returns the payload that Pop would return next.
func (q *PriorityQueue[P]) Peek() (P, bool) {
	it, ok := q.h.Peek()
	return it.payload, ok
}

// Pop removes and returns the highest-priority payload.
func (q *PriorityQueue[P]) Pop() (P, bool) {
	it, ok := q.h.Pop()
	return it.payload, ok
}

func (q *PriorityQueue[P]) Len() int      { return q.h.Len() }
func (q *PriorityQueue[P]) IsEmpty() bool { return q.h.IsEmpty() }
