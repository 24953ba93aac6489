// Package history keeps the most recent analysis results of a session.
package history

import (
	"sync"

	"github.com/dj-oyu/proctor-client/internal/api"
)

// DefaultCap is the number of results shown in the detection history.
const DefaultCap = 10

// History is a bounded, most-recent-first buffer of analysis results.
type History struct {
	mu      sync.Mutex
	cap     int
	entries []api.AnalysisResult
}

// New returns an empty history holding at most capacity entries.
// A non-positive capacity uses DefaultCap.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &History{
		cap:     capacity,
		entries: make([]api.AnalysisResult, 0, capacity),
	}
}

// Record puts result at the front, evicting the oldest entry when full.
// Ordering is by insertion only, never by ProcessedAt.
func (h *History) Record(result api.AnalysisResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	if n < h.cap {
		h.entries = append(h.entries, api.AnalysisResult{})
		n++
	}
	copy(h.entries[1:n], h.entries[:n-1])
	h.entries[0] = result
}

// Entries returns a copy, most recent first.
func (h *History) Entries() []api.AnalysisResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]api.AnalysisResult, len(h.entries))
	copy(out, h.entries)
	return out
}

// Latest returns the most recently recorded result.
func (h *History) Latest() (api.AnalysisResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == 0 {
		return api.AnalysisResult{}, false
	}
	return h.entries[0], true
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Cap returns the maximum number of entries.
func (h *History) Cap() int {
	return h.cap
}
