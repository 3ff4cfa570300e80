package scheduler

import "container/heap"

// entryHeap orders entries by fire time, then priority, then sequence.
type entryHeap[T any] []*Entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.FireAt.Equal(b.FireAt) {
		return a.FireAt.Before(b.FireAt)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

func (h entryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[T]) Push(x any) {
	e := x.(*Entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func heapPush[T any](h *entryHeap[T], e *Entry[T]) { heap.Push(h, e) }

func heapPop[T any](h *entryHeap[T]) *Entry[T] { return heap.Pop(h).(*Entry[T]) }

func heapRemove[T any](h *entryHeap[T], e *Entry[T]) {
	if e.index < 0 || e.index >= h.Len() {
		return
	}
	heap.Remove(h, e.index)
}
