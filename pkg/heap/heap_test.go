package heap

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
)

// orderHolds checks compare(parent(i), i) != Less for every non-root slot.
func orderHolds[T any](h *Heap[T]) bool {
	for i := 2; i <= h.Len(); i++ {
		if h.cmp(h.slots[i/2], h.slots[i]) == Less {
			return false
		}
	}
	return true
}

func TestHeapSortsDescending(t *testing.T) {
	t.Parallel()
	h := New(Compare[int])
	for _, v := range []int{5, 3, 8, 1} {
		h.Push(v)
	}
	want := []int{8, 5, 3, 1}
	for i, w := range want {
		got, ok := h.Pop()
		if !ok {
			t.Fatalf("pop %d: heap unexpectedly empty", i)
		}
		if got != w {
			t.Fatalf("pop %d = %d, want %d", i, got, w)
		}
	}
	if !h.IsEmpty() {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestHeapEmpty(t *testing.T) {
	t.Parallel()
	h := New(Compare[string])
	if v, ok := h.Peek(); ok || v != "" {
		t.Fatalf("Peek on empty = (%q, %v), want (\"\", false)", v, ok)
	}
	if v, ok := h.Pop(); ok || v != "" {
		t.Fatalf("Pop on empty = (%q, %v), want (\"\", false)", v, ok)
	}
	if h.Depth() != 0 {
		t.Fatalf("Depth = %d, want 0", h.Depth())
	}
}

func TestHeapPeekDoesNotRemove(t *testing.T) {
	t.Parallel()
	h := New(Compare[int])
	h.Push(2)
	h.Push(7)
	for i := 0; i < 3; i++ {
		if v, ok := h.Peek(); !ok || v != 7 {
			t.Fatalf("Peek = (%d, %v), want (7, true)", v, ok)
		}
	}
	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}
}

func TestHeapDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n     int
		depth int
	}{
		{n: 1, depth: 1},
		{n: 2, depth: 2},
		{n: 3, depth: 2},
		{n: 4, depth: 3},
		{n: 7, depth: 3},
		{n: 8, depth: 4},
	}
	for _, tt := range tests {
		h := New(Compare[int])
		for i := 0; i < tt.n; i++ {
			h.Push(i)
		}
		if got := h.Depth(); got != tt.depth {
			t.Fatalf("Depth with %d values = %d, want %d", tt.n, got, tt.depth)
		}
	}
}

func TestHeapOrderInvariantUnderRandomOps(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	h := New(Compare[int])
	var mirror []int

	for step := 0; step < 2000; step++ {
		if rng.Intn(3) == 0 && !h.IsEmpty() {
			got, _ := h.Pop()
			sort.Sort(sort.Reverse(sort.IntSlice(mirror)))
			if got != mirror[0] {
				t.Fatalf("step %d: Pop = %d, want %d", step, got, mirror[0])
			}
			mirror = mirror[1:]
		} else {
			v := rng.Intn(100)
			h.Push(v)
			mirror = append(mirror, v)
		}
		if !orderHolds(h) {
			t.Fatalf("step %d: order invariant violated: %v", step, h.slots[1:])
		}
		if h.Len() != len(mirror) {
			t.Fatalf("step %d: Len = %d, want %d", step, h.Len(), len(mirror))
		}
	}
}

func TestHeapCustomComparator(t *testing.T) {
	t.Parallel()
	type job struct {
		name string
		cost int
	}
	// Cheapest first: invert the natural ordering.
	h := New(func(a, b job) Ordering { return Compare(b.cost, a.cost) })
	h.Push(job{"b", 20})
	h.Push(job{"a", 10})
	h.Push(job{"c", 30})

	for _, want := range []string{"a", "b", "c"} {
		got, _ := h.Pop()
		if got.name != want {
			t.Fatalf("Pop = %s, want %s", got.name, want)
		}
	}
}

func TestHeapPopClearsVacatedSlot(t *testing.T) {
	t.Parallel()
	h := New(func(a, b *int) Ordering { return Compare(*a, *b) })
	x, y := 1, 2
	h.Push(&x)
	h.Push(&y)
	h.Pop()
	if cap(h.slots) > 2 && h.slots[:3][2] != nil {
		t.Fatalf("vacated slot still references a value")
	}
}

func TestHeapIndexGuardPanics(t *testing.T) {
	t.Parallel()
	h := New(Compare[int])
	h.Push(1)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("recovered %v, want *IndexError", r)
		}
		var ie *IndexError
		if !errors.As(err, &ie) {
			t.Fatalf("recovered %T, want *IndexError", r)
		}
		if ie.Index != 5 {
			t.Fatalf("Index = %d, want 5", ie.Index)
		}
	}()
	h.at(5)
}

func TestOrderingString(t *testing.T) {
	t.Parallel()
	if Less.String() != "less" || Equal.String() != "equal" || Greater.String() != "greater" {
		t.Fatalf("unexpected ordering names: %s %s %s", Less, Equal, Greater)
	}
}
