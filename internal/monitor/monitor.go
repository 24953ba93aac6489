// Package monitor serves a local HTTP view of the running test room.
package monitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/proctor-client/internal/views"
)

// Monitor keeps the latest published room snapshot. It implements views.Observer.
type Monitor struct {
	startTime time.Time

	mu       sync.Mutex
	latest   *views.Snapshot
	version  uint64
	onChange []func()
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// Publish stores snap and notifies listeners.
func (m *Monitor) Publish(snap views.Snapshot) {
	m.mu.Lock()
	m.version++
	m.latest = &snap
	listeners := m.onChange
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnChange registers fn to be called after every Publish.
func (m *Monitor) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Snapshot returns the latest snapshot and its version. ok is false before
// the first Publish.
func (m *Monitor) Snapshot() (snap views.Snapshot, version uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latest == nil {
		return views.Snapshot{}, m.version, false
	}
	return *m.latest, m.version, true
}

// Uptime returns the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}
