// Package heap implements an array-backed binary max-heap over a caller
// supplied three-way comparator.
//
// Slot 0 of the backing slice is never used; the root lives at index 1 so the
// parent/child relations stay plain arithmetic:
//
//	parent(i) = i/2, left(i) = 2i, right(i) = 2i+1
//
// Empty heaps never fail: Peek and Pop return (zero, false).
package heap

import (
	"cmp"
	"fmt"
)

// Ordering is the result of a three-way comparison.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// CompareFunc reports how a orders relative to b.
type CompareFunc[T any] func(a, b T) Ordering

// Compare is a CompareFunc for ordered types.
func Compare[T cmp.Ordered](a, b T) Ordering {
	return Ordering(cmp.Compare(a, b))
}

// IndexError is raised (via panic) when the heap addresses a slot outside its
// current bounds. It signals a bug in this package, never caller misuse.
type IndexError struct {
	Op    string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("heap: %s: index %d out of range (len %d)", e.Op, e.Index, e.Len)
}

// Heap is a binary max-heap: Peek/Pop return the greatest element per cmp.
// It is not safe for concurrent use.
type Heap[T any] struct {
	cmp   CompareFunc[T]
	slots []T // slots[0] is always the zero value
}

// New returns an empty heap ordered by cmp. A nil cmp panics.
func New[T any](cmp CompareFunc[T]) *Heap[T] {
	if cmp == nil {
		panic("heap: nil compare func")
	}
	return &Heap[T]{cmp: cmp, slots: make([]T, 1, 16)}
}

// Len returns the number of stored values.
func (h *Heap[T]) Len() int { return len(h.slots) - 1 }

// IsEmpty reports whether the heap holds no values.
func (h *Heap[T]) IsEmpty() bool { return h.Len() == 0 }

// Depth returns the number of levels in the tree. Because the tree is
// left-filled, the leftmost spine is always the deepest path.
func (h *Heap[T]) Depth() int {
	depth := 0
	for i := 1; i <= h.Len(); i = 2 * i {
		depth++
	}
	return depth
}

// Push inserts v as the rightmost leaf and floats it up.
func (h *Heap[T]) Push(v T) {
	h.slots = append(h.slots, v)
	h.float(h.Len())
}

// Peek returns the greatest value without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	if h.IsEmpty() {
		var zero T
		return zero, false
	}
	return h.at(1), true
}

// Pop removes and returns the greatest value.
func (h *Heap[T]) Pop() (T, bool) {
	var zero T
	if h.IsEmpty() {
		return zero, false
	}
	top := h.at(1)
	last := h.Len()
	h.slots[1] = h.slots[last]
	h.slots[last] = zero
	h.slots = h.slots[:last]
	if !h.IsEmpty() {
		h.sink(1)
	}
	return top, true
}

func (h *Heap[T]) float(i int) {
	for {
		p, ok := h.parent(i)
		if !ok {
			return
		}
		if h.cmp(h.at(p), h.at(i)) != Less {
			return
		}
		h.swap(p, i)
		i = p
	}
}

func (h *Heap[T]) sink(i int) {
	for {
		l, hasLeft := h.left(i)
		if !hasLeft {
			return
		}
		child := l
		if r, hasRight := h.right(i); hasRight && h.cmp(h.at(r), h.at(l)) == Greater {
			child = r
		}
		if h.cmp(h.at(child), h.at(i)) != Greater {
			return
		}
		h.swap(i, child)
		i = child
	}
}

func (h *Heap[T]) parent(i int) (int, bool) {
	h.check("parent", i)
	if i == 1 {
		return 0, false
	}
	return i / 2, true
}

func (h *Heap[T]) left(i int) (int, bool) {
	h.check("left", i)
	l := 2 * i
	return l, l <= h.Len()
}

func (h *Heap[T]) right(i int) (int, bool) {
	h.check("right", i)
	r := 2*i + 1
	return r, r <= h.Len()
}

func (h *Heap[T]) at(i int) T {
	h.check("at", i)
	return h.slots[i]
}

func (h *Heap[T]) swap(i, j int) {
	h.check("swap", i)
	h.check("swap", j)
	h.slots[i], h.slots[j] = h.slots[j], h.slots[i]
}

func (h *Heap[T]) check(op string, i int) {
	if i < 1 || i > h.Len() {
		panic(&IndexError{Op: op, Index: i, Len: h.Len()})
	}
}
