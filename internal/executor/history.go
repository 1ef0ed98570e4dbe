package executor

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// history is a bounded, append-mostly store of terminal execution
// results. Insertion order is tracked so the oldest results age out once
// the capacity is reached.
type history struct {
	mu       sync.Mutex
	order    []string
	capacity int
	results  cmap.ConcurrentMap[string, *ExecutionResult]
}

func newHistory(capacity int) *history {
	return &history{
		capacity: capacity,
		results:  cmap.New[*ExecutionResult](),
	}
}

func (h *history) add(r *ExecutionResult) {
	h.mu.Lock()
	h.order = append(h.order, r.ExecutionID)
	for len(h.order) > h.capacity {
		evicted := h.order[0]
		h.order = h.order[1:]
		h.results.Remove(evicted)
	}
	h.mu.Unlock()
	h.results.Set(r.ExecutionID, r)
}

func (h *history) get(id string) (*ExecutionResult, bool) {
	return h.results.Get(id)
}

// listByOwner returns terminal results for one owner, newest first.
func (h *history) listByOwner(owner string) []*ExecutionResult {
	h.mu.Lock()
	ids := make([]string, len(h.order))
	copy(ids, h.order)
	h.mu.Unlock()

	out := make([]*ExecutionResult, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		if r, ok := h.results.Get(ids[i]); ok && r.Owner == owner {
			out = append(out, r)
		}
	}
	return out
}

// coldStartWindow is a fixed size ring over the cold/warm outcome of
// recent executions, backing the rolling coldStartRate.
type coldStartWindow struct {
	mu     sync.Mutex
	window []bool
	next   int
	filled int
}

func newColdStartWindow(size int) *coldStartWindow {
	if size <= 0 {
		size = 100
	}
	return &coldStartWindow{window: make([]bool, size)}
}

func (w *coldStartWindow) record(cold bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.window[w.next] = cold
	w.next = (w.next + 1) % len(w.window)
	if w.filled < len(w.window) {
		w.filled++
	}
}

func (w *coldStartWindow) rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	cold := 0
	for i := 0; i < w.filled; i++ {
		if w.window[i] {
			cold++
		}
	}
	return float64(cold) / float64(w.filled)
}
