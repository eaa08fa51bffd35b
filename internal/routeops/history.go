package routeops

import "sync"

// History keeps the most recent operation results, oldest first, dropping
// the oldest once full. It lives only as long as the orchestrator.
type History struct {
	mu      sync.Mutex
	size    int
	entries []OperationResult
}

// NewHistory creates a history holding at most size results. A size of zero
// or less uses DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &History{size: size, entries: make([]OperationResult, 0, size)}
}

// Push appends r, trimming the oldest entries beyond the bound.
func (h *History) Push(r OperationResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, r)

	if over := len(h.entries) - h.size; over > 0 {
		copy(h.entries, h.entries[over:])
		h.entries = h.entries[:h.size]
	}
}

// Entries returns a copy of the recorded results, oldest first.
func (h *History) Entries() []OperationResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]OperationResult, len(h.entries))
	copy(out, h.entries)

	return out
}

// Len returns the number of recorded results.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.entries)
}

// Size returns the bound.
func (h *History) Size() int {
	return h.size
}
