// Package session tracks the state of one monitored test.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/history"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

// Update describes one applied analysis result.
type Update struct {
	TestID          int64
	Seq             uint64
	Result          api.AnalysisResult
	Suspicious      bool
	SuspiciousCount int
}

// State is a consistent copy of the machine.
type State struct {
	TestID          int64                `json:"test_id"`
	Phase           types.SessionPhase   `json:"phase"`
	SuspiciousCount int                  `json:"suspicious_count"`
	LastSeq         uint64               `json:"last_seq"`
	Applied         int                  `json:"applied"`
	Dropped         int                  `json:"dropped"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	Latest          *api.AnalysisResult  `json:"latest,omitempty"`
	History         []api.AnalysisResult `json:"history"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock used for start and end times.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithApplyHook registers fn to run for every applied result while the
// machine is locked, so observers see updates in apply order.
func WithApplyHook(fn func(Update)) Option {
	return func(m *Machine) { m.onApply = fn }
}

// Machine is Active from creation until End or Discard.
type Machine struct {
	clock   clock.Clock
	onApply func(Update)

	mu        sync.Mutex
	testID    int64
	phase     types.SessionPhase
	count     int
	lastSeq   uint64
	applied   int
	dropped   int
	startedAt time.Time
	endedAt   time.Time
	hist      *history.History
}

// New starts an Active session for testID. A nil hist gets a default history.
func New(testID int64, hist *history.History, opts ...Option) *Machine {
	if hist == nil {
		hist = history.New(history.DefaultCap)
	}
	m := &Machine{
		clock:  clock.New(),
		testID: testID,
		phase:  types.PhaseActive,
		hist:   hist,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.clock.Now()
	return m
}

// TestID returns the id of the monitored test.
func (m *Machine) TestID() int64 { return m.testID }

// Apply folds result into the session. It is ignored once the session has
// ended, when it belongs to another test, or when seq is not newer than the
// last applied result. A suspicious result adds exactly one to the count.
func (m *Machine) Apply(testID int64, seq uint64, result api.AnalysisResult) (Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != types.PhaseActive || testID != m.testID || seq <= m.lastSeq {
		m.dropped++
		return Update{}, false
	}

	m.lastSeq = seq
	m.applied++
	if result.SuspiciousActivity {
		m.count++
	}
	m.hist.Record(result)

	u := Update{
		TestID:          m.testID,
		Seq:             seq,
		Result:          result,
		Suspicious:      result.SuspiciousActivity,
		SuspiciousCount: m.count,
	}
	if m.onApply != nil {
		m.onApply(u)
	}
	return u, true
}

// End moves the session to Ended. It reports false if it had already ended.
func (m *Machine) End() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != types.PhaseActive {
		return false
	}
	m.phase = types.PhaseEnded
	m.endedAt = m.clock.Now()
	return true
}

// Discard ends the session and drops its history, for leaving the view
// without ending the test.
func (m *Machine) Discard() {
	m.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hist = history.New(m.hist.Cap())
}

// Active reports whether results are still accepted.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == types.PhaseActive
}

// SuspiciousCount returns the number of suspicious results applied.
func (m *Machine) SuspiciousCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		TestID:          m.testID,
		Phase:           m.phase,
		SuspiciousCount: m.count,
		LastSeq:         m.lastSeq,
		Applied:         m.applied,
		Dropped:         m.dropped,
		StartedAt:       m.startedAt,
		History:         m.hist.Entries(),
	}
	if m.phase == types.PhaseEnded {
		ended := m.endedAt
		st.EndedAt = &ended
	}
	if len(st.History) > 0 {
		latest := st.History[0]
		st.Latest = &latest
	}
	return st
}
