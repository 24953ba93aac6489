package views

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/capture"
	"github.com/dj-oyu/proctor-client/internal/history"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/metrics"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/overlay"
	"github.com/dj-oyu/proctor-client/internal/recorder"
	"github.com/dj-oyu/proctor-client/internal/scheduler"
	"github.com/dj-oyu/proctor-client/internal/session"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

const endTestTimeout = 10 * time.Second

var (
	ErrNotMounted     = errors.New("test room not mounted")
	ErrAlreadyMounted = errors.New("test room already mounted")
)

// SessionClient submits frames and ends tests.
type SessionClient interface {
	SubmitFrame(ctx context.Context, image []byte) (api.AnalysisResult, error)
	EndTest(ctx context.Context, id int64) error
}

// Camera is the exclusively owned capture device.
type Camera interface {
	Acquire(owner string) error
	Release(owner string) error
	Grab(ctx context.Context, owner string) (types.Frame, error)
}

// Journal persists sessions locally.
type Journal interface {
	BeginSession(ctx context.Context, testID int64, startedAt time.Time) error
	RecordResult(ctx context.Context, testID int64, seq uint64, result api.AnalysisResult) error
	EndSession(ctx context.Context, testID int64, endedAt time.Time, suspicious int, outcome types.SessionOutcome) error
}

// Evidence keeps copies of frames flagged as suspicious.
type Evidence interface {
	Start(testID int64) error
	Stop() error
	SendFrame(c recorder.Capture) bool
}

// Observer receives a snapshot whenever the room changes.
type Observer interface {
	Publish(snap Snapshot)
}

// Snapshot is what the test room shows.
type Snapshot struct {
	TestID     int64             `json:"test_id"`
	Mounted    bool              `json:"mounted"`
	Session    *session.State    `json:"session,omitempty"`
	Notice     string            `json:"notice,omitempty"`
	Processing bool              `json:"processing"`
	Video      overlay.Size      `json:"video"`
	Overlay    []overlay.Command `json:"overlay"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TestRoomConfig holds the room's tunables.
type TestRoomConfig struct {
	TestID       int64
	Interval     time.Duration
	Policy       scheduler.Policy
	AnalysisSize overlay.Size // coordinate space of returned face boxes
	HistoryCap   int
	Clock        clock.Clock
}

// TestRoomDeps are the room's collaborators. Journal, Evidence, Metrics and
// Observer are optional.
type TestRoomDeps struct {
	Client   SessionClient
	Guard    Guard
	Nav      nav.Navigator
	Camera   Camera
	Surface  overlay.Surface
	Journal  Journal
	Evidence Evidence
	Metrics  *metrics.Metrics
	Observer Observer
}

// TestRoom runs the capture-analyze loop for one test.
type TestRoom struct {
	notice
	cfg      TestRoomConfig
	deps     TestRoomDeps
	clock    clock.Clock
	owner    string
	renderer *overlay.Renderer
	metrics  *metrics.Metrics

	mu      sync.Mutex
	machine *session.Machine
	sched   *scheduler.Scheduler
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	videoMu sync.Mutex
	video   overlay.Size

	processing atomic.Bool
}

// NewTestRoom prepares a room for cfg.TestID. Nothing starts until Mount.
func NewTestRoom(cfg TestRoomConfig, deps TestRoomDeps) *TestRoom {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = history.DefaultCap
	}
	if deps.Surface == nil {
		deps.Surface = overlay.NewCanvas()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &TestRoom{
		cfg:      cfg,
		deps:     deps,
		clock:    cfg.Clock,
		owner:    fmt.Sprintf("test-%d-%s", cfg.TestID, uuid.NewString()),
		renderer: overlay.NewRenderer(deps.Surface, cfg.AnalysisSize),
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Mount runs the guard, claims the camera and starts monitoring.
func (v *TestRoom) Mount(ctx context.Context) error {
	if err := v.deps.Guard.Enter(nav.ViewTestRoom); err != nil {
		return err
	}

	v.mu.Lock()
	if v.machine != nil || v.closed {
		v.mu.Unlock()
		return ErrAlreadyMounted
	}
	if err := v.deps.Camera.Acquire(v.owner); err != nil {
		v.mu.Unlock()
		return fmt.Errorf("acquire camera: %w", err)
	}

	v.machine = session.New(v.cfg.TestID, history.New(v.cfg.HistoryCap),
		session.WithClock(v.clock),
		session.WithApplyHook(v.onApply),
	)
	roomCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.sched = scheduler.New(v.cfg.Interval, v.tick,
		scheduler.WithClock(v.clock),
		scheduler.WithPolicy(v.cfg.Policy),
		scheduler.WithSkipHook(func() { v.metrics.TicksSkipped.Add(1) }),
	)
	started := v.machine.Snapshot().StartedAt
	err := v.sched.Start(roomCtx)
	v.mu.Unlock()
	if err != nil {
		return err
	}

	if v.deps.Journal != nil {
		if err := v.deps.Journal.BeginSession(ctx, v.cfg.TestID, started); err != nil {
			logger.Warn("TestRoom", "Journal begin failed: %v", err)
		}
	}
	if v.deps.Evidence != nil {
		if err := v.deps.Evidence.Start(v.cfg.TestID); err != nil {
			logger.Warn("TestRoom", "Evidence recorder not started: %v", err)
		}
	}
	v.metrics.SessionsStarted.Add(1)
	v.metrics.SetSessionActive(true)
	logger.Info("TestRoom", "Monitoring test %d every %v", v.cfg.TestID, v.cfg.Interval)
	v.publish()
	return nil
}

// Done is closed once the room has been ended or left.
func (v *TestRoom) Done() <-chan struct{} {
	return v.done
}

// Run blocks until the room is ended or left, the optional time limit
// elapses, or ctx is cancelled. Expiry and cancellation end the test.
func (v *TestRoom) Run(ctx context.Context, limit time.Duration) error {
	var expired <-chan time.Time
	if limit > 0 {
		timer := v.clock.Timer(limit)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-v.done:
		return nil
	case <-expired:
		logger.Info("TestRoom", "Time limit of %v reached for test %d", limit, v.cfg.TestID)
	case <-ctx.Done():
		logger.Info("TestRoom", "Interrupted, ending test %d", v.cfg.TestID)
	}

	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTestTimeout)
	defer cancel()
	return v.EndTest(endCtx)
}

// EndTest ends the session, tells the backend and returns to the dashboard.
// The room is left even when the backend call fails.
func (v *TestRoom) EndTest(ctx context.Context) error {
	v.mu.Lock()
	m, sched := v.machine, v.sched
	v.mu.Unlock()
	if m == nil {
		return ErrNotMounted
	}
	if !m.End() {
		return nil
	}
	sched.Stop()

	err := v.deps.Client.EndTest(ctx, v.cfg.TestID)
	if err != nil && v.deps.Guard.HandleError(err) {
		v.metrics.AuthFailures.Add(1)
		v.teardown(m, types.OutcomeAbandoned)
		return err
	}
	if err != nil {
		logger.Error("TestRoom", "End test %d failed: %v", v.cfg.TestID, err)
		v.set(NoticeEndTest)
	}

	v.teardown(m, types.OutcomeCompleted)
	v.deps.Nav.Navigate(nav.Route{View: nav.ViewDashboard})
	logger.Info("TestRoom", "Test %d ended with %d suspicious activities", v.cfg.TestID, m.SuspiciousCount())
	return err
}

// Leave abandons the room without ending the test. Results still in flight
// are discarded.
func (v *TestRoom) Leave() {
	v.mu.Lock()
	m, sched := v.machine, v.sched
	v.mu.Unlock()
	if m == nil || !m.Active() {
		return
	}

	m.Discard()
	sched.Stop()
	v.teardown(m, types.OutcomeAbandoned)
	logger.Info("TestRoom", "Left test %d", v.cfg.TestID)
}

func (v *TestRoom) teardown(m *session.Machine, outcome types.SessionOutcome) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.cancel()
	v.mu.Unlock()

	if err := v.deps.Camera.Release(v.owner); err != nil {
		logger.Warn("TestRoom", "Release camera: %v", err)
	}
	if v.deps.Evidence != nil {
		if err := v.deps.Evidence.Stop(); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
			logger.Warn("TestRoom", "Evidence recorder stop: %v", err)
		}
	}
	v.renderer.Clear()
	v.metrics.SessionsEnded.Add(1)
	v.metrics.SetSessionActive(false)

	if v.deps.Journal != nil {
		st := m.Snapshot()
		endedAt := v.clock.Now()
		if st.EndedAt != nil {
			endedAt = *st.EndedAt
		}
		ctx, cancel := context.WithTimeout(context.Background(), endTestTimeout)
		defer cancel()
		if err := v.deps.Journal.EndSession(ctx, v.cfg.TestID, endedAt, st.SuspiciousCount, outcome); err != nil {
			logger.Warn("TestRoom", "Journal end failed: %v", err)
		}
	}

	v.publish()
	close(v.done)
}

// tick is one scheduler step.
func (v *TestRoom) tick(ctx context.Context, seq uint64) {
	v.mu.Lock()
	m := v.machine
	v.mu.Unlock()
	if m == nil || !m.Active() {
		return
	}
	v.metrics.Ticks.Add(1)

	frame, err := v.deps.Camera.Grab(ctx, v.owner)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrNoFrame):
			v.metrics.FramesUnavailable.Add(1)
		case ctx.Err() != nil:
		default:
			v.metrics.CaptureErrors.Add(1)
			logger.Warn("TestRoom", "Capture failed: %v", err)
		}
		return
	}
	v.metrics.FramesCaptured.Add(1)

	v.processing.Store(true)
	started := v.clock.Now()
	result, err := v.deps.Client.SubmitFrame(ctx, frame.Data)
	v.processing.Store(false)
	v.metrics.UpdateSubmitLatency(v.clock.Since(started))
	v.metrics.FramesSubmitted.Add(1)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if v.deps.Guard.HandleError(err) {
			v.metrics.AuthFailures.Add(1)
			v.Leave()
			return
		}
		v.metrics.SubmitErrors.Add(1)
		logger.Warn("TestRoom", "Frame %d analysis failed: %v", seq, err)
		v.set(NoticeProcessImage)
		v.publish()
		return
	}

	v.setVideo(overlay.Size{W: frame.Width, H: frame.Height})
	u, ok := m.Apply(v.cfg.TestID, seq, result)
	if !ok {
		v.metrics.ResultsDropped.Add(1)
		logger.Debug("TestRoom", "Dropped late result %d", seq)
		return
	}

	if u.Suspicious && v.deps.Evidence != nil {
		if v.deps.Evidence.SendFrame(recorder.Capture{TestID: u.TestID, Seq: seq, Data: frame.Data, At: frame.CapturedAt}) {
			v.metrics.EvidenceFrames.Add(1)
		}
	}

	if v.deps.Journal != nil {
		if err := v.deps.Journal.RecordResult(ctx, v.cfg.TestID, seq, result); err != nil {
			logger.Warn("TestRoom", "Journal record failed: %v", err)
		}
	}
	v.publish()
}

// onApply runs under the session lock so the overlay follows apply order.
func (v *TestRoom) onApply(u session.Update) {
	v.renderer.Update(u.Seq, u.Result.FaceBoxes, v.videoSize())
	v.metrics.ResultsApplied.Add(1)
	if u.Suspicious {
		v.metrics.SuspiciousEvents.Add(1)
		logger.Info("TestRoom", "Suspicious activity in test %d (total %d)", u.TestID, u.SuspiciousCount)
	}
}

func (v *TestRoom) setVideo(s overlay.Size) {
	v.videoMu.Lock()
	v.video = s
	v.videoMu.Unlock()
}

func (v *TestRoom) videoSize() overlay.Size {
	v.videoMu.Lock()
	defer v.videoMu.Unlock()
	return v.video
}

// Snapshot returns the current view state.
func (v *TestRoom) Snapshot() Snapshot {
	v.mu.Lock()
	m := v.machine
	mounted := m != nil && !v.closed
	v.mu.Unlock()

	snap := Snapshot{
		TestID:     v.cfg.TestID,
		Mounted:    mounted,
		Notice:     v.Notice(),
		Processing: v.processing.Load(),
		Video:      v.videoSize(),
		Overlay:    v.renderer.Commands(),
		UpdatedAt:  v.clock.Now(),
	}
	if m != nil {
		st := m.Snapshot()
		snap.Session = &st
	}
	return snap
}

func (v *TestRoom) publish() {
	if v.deps.Observer != nil {
		v.deps.Observer.Publish(v.Snapshot())
	}
}
