package views

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/auth"
	"github.com/dj-oyu/proctor-client/internal/capture"
	"github.com/dj-oyu/proctor-client/internal/metrics"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/overlay"
	"github.com/dj-oyu/proctor-client/internal/recorder"
	"github.com/dj-oyu/proctor-client/internal/scheduler"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

const (
	interval = 5 * time.Second
	waitFor  = time.Second
	poll     = 5 * time.Millisecond
	testID   = int64(9)
)

type frameSource struct {
	mu    sync.Mutex
	empty bool
}

func (s *frameSource) Grab(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.empty {
		return types.Frame{}, capture.ErrNoFrame
	}
	return types.Frame{Data: []byte("jpeg"), Width: 1280, Height: 960}, nil
}

type submitReply struct {
	result api.AnalysisResult
	err    error
}

type fakeSessionClient struct {
	mu      sync.Mutex
	replies []submitReply
	submits int
	gate    chan struct{}
	endErr  error
	ended   []int64
}

func (f *fakeSessionClient) queue(r ...submitReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r...)
}

func (f *fakeSessionClient) SubmitFrame(ctx context.Context, image []byte) (api.AnalysisResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.replies) == 0 {
		return api.AnalysisResult{}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.result, r.err
}

func (f *fakeSessionClient) EndTest(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return f.endErr
}

func (f *fakeSessionClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeSessionClient) endedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.ended...)
}

type fakeJournal struct {
	mu       sync.Mutex
	begun    []int64
	results  []uint64
	outcomes []types.SessionOutcome
	counts   []int
}

func (j *fakeJournal) BeginSession(ctx context.Context, id int64, startedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.begun = append(j.begun, id)
	return nil
}

func (j *fakeJournal) RecordResult(ctx context.Context, id int64, seq uint64, r api.AnalysisResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, seq)
	return nil
}

func (j *fakeJournal) EndSession(ctx context.Context, id int64, endedAt time.Time, suspicious int, outcome types.SessionOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, outcome)
	j.counts = append(j.counts, suspicious)
	return nil
}

func (j *fakeJournal) recorded() []uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]uint64(nil), j.results...)
}

type fakeEvidence struct {
	mu      sync.Mutex
	started []int64
	stopped int
	seqs    []uint64
}

func (e *fakeEvidence) Start(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, id)
	return nil
}

func (e *fakeEvidence) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
	return nil
}

func (e *fakeEvidence) SendFrame(c recorder.Capture) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs = append(e.seqs, c.Seq)
	return true
}

type countingObserver struct {
	n    atomic.Int32
	last atomic.Pointer[Snapshot]
}

func (o *countingObserver) Publish(s Snapshot) {
	o.n.Add(1)
	o.last.Store(&s)
}

type room struct {
	*TestRoom
	env     *env
	mock    *clock.Mock
	client  *fakeSessionClient
	source  *frameSource
	device  *capture.Device
	journal *fakeJournal
	obs     *countingObserver
	metrics *metrics.Metrics
}

func newRoom(t *testing.T, loggedIn bool) *room {
	t.Helper()
	r := &room{
		env:     newEnv(loggedIn),
		mock:    clock.NewMock(),
		client:  &fakeSessionClient{},
		source:  &frameSource{},
		journal: &fakeJournal{},
		obs:     &countingObserver{},
		metrics: metrics.New(),
	}
	r.device = capture.NewDevice(r.source)
	r.env.router.Navigate(nav.Route{View: nav.ViewTestRoom, TestID: testID})
	r.TestRoom = NewTestRoom(TestRoomConfig{
		TestID:       testID,
		Interval:     interval,
		Policy:       scheduler.AllowOverlap,
		AnalysisSize: overlay.Size{W: 640, H: 480},
		Clock:        r.mock,
	}, TestRoomDeps{
		Client:   r.client,
		Guard:    r.env.guard,
		Nav:      r.env.router,
		Camera:   r.device,
		Journal:  r.journal,
		Metrics:  r.metrics,
		Observer: r.obs,
	})
	return r
}

func (r *room) applied() int {
	s := r.Snapshot().Session
	if s == nil {
		return 0
	}
	return s.Applied
}

// step advances one interval and waits until n results have been applied.
func (r *room) step(t *testing.T, n int) {
	t.Helper()
	r.mock.Add(interval)
	require.Eventually(t, func() bool { return r.applied() == n }, waitFor, poll)
}

func reply(faces int, suspicious bool, boxes ...api.FaceBox) submitReply {
	return submitReply{result: api.AnalysisResult{
		FacesDetected:      faces,
		SuspiciousActivity: suspicious,
		FaceBoxes:          boxes,
		ProcessedAt:        api.Timestamp{Time: time.Date(2024, 1, 1, 12, 0, faces, 0, time.UTC)},
	}}
}

func TestTestRoomMountWithoutTokenDoesNothing(t *testing.T) {
	r := newRoom(t, false)

	require.ErrorIs(t, r.Mount(bg), auth.ErrUnauthenticated)
	assert.Equal(t, nav.ViewLogin, r.env.view())
	assert.Empty(t, r.device.Owner())

	for i := 0; i < 3; i++ {
		r.mock.Add(interval)
	}
	assert.Never(t, func() bool { return r.client.submitCount() > 0 }, 50*time.Millisecond, poll)
	assert.Empty(t, r.journal.begun)
}

func TestTestRoomThreeTicks(t *testing.T) {
	r := newRoom(t, true)
	r.client.queue(reply(1, false), reply(2, true), reply(3, false))
	require.NoError(t, r.Mount(bg))
	assert.NotEmpty(t, r.device.Owner())

	r.step(t, 1)
	r.step(t, 2)
	r.step(t, 3)

	st := r.Snapshot().Session
	require.NotNil(t, st)
	assert.Equal(t, 1, st.SuspiciousCount)
	require.Len(t, st.History, 3)
	assert.Equal(t, 3, st.History[0].FacesDetected)
	assert.Equal(t, uint64(1), r.metrics.SuspiciousEvents.Load())
	assert.Eventually(t, func() bool { return len(r.journal.recorded()) == 3 }, waitFor, poll)
	assert.Equal(t, []uint64{1, 2, 3}, r.journal.recorded())
	assert.Eventually(t, func() bool { return r.obs.n.Load() >= 4 }, waitFor, poll)
}

func TestTestRoomTwelveTicks(t *testing.T) {
	r := newRoom(t, true)
	for i := 1; i <= 12; i++ {
		r.client.queue(reply(i, false))
	}
	require.NoError(t, r.Mount(bg))

	for i := 1; i <= 12; i++ {
		r.step(t, i)
	}

	st := r.Snapshot().Session
	require.Len(t, st.History, 10)
	assert.Equal(t, 12, st.History[0].FacesDetected)
	assert.Equal(t, 3, st.History[9].FacesDetected)
}

func TestTestRoomOverlayFollowsResult(t *testing.T) {
	r := newRoom(t, true)
	r.client.queue(reply(1, false, api.FaceBox{X: 100, Y: 50, W: 80, H: 60}), reply(0, false))
	require.NoError(t, r.Mount(bg))

	r.step(t, 1)
	snap := r.Snapshot()
	assert.Equal(t, overlay.Size{W: 1280, H: 960}, snap.Video)
	require.Len(t, snap.Overlay, 3)
	assert.Equal(t, overlay.Command{Op: overlay.OpStrokeRect, X: 200, Y: 100, W: 160, H: 120}, snap.Overlay[1])

	r.step(t, 2)
	assert.Equal(t, []overlay.Command{{Op: overlay.OpClear, W: 1280, H: 960}}, r.Snapshot().Overlay)
}

func TestTestRoomNoFrameIsSilent(t *testing.T) {
	r := newRoom(t, true)
	r.source.empty = true
	require.NoError(t, r.Mount(bg))

	r.mock.Add(interval)
	require.Eventually(t, func() bool { return r.metrics.FramesUnavailable.Load() == 1 }, waitFor, poll)
	assert.Zero(t, r.client.submitCount())
	assert.Empty(t, r.Notice())

	r.source.mu.Lock()
	r.source.empty = false
	r.source.mu.Unlock()
	r.client.queue(reply(1, false))
	r.step(t, 1)
}

func TestTestRoomNetworkErrorKeepsLooping(t *testing.T) {
	r := newRoom(t, true)
	r.client.queue(
		submitReply{err: &api.NetworkError{Op: "submit frame", Status: 500, Err: errors.New("boom")}},
		reply(2, true),
	)
	require.NoError(t, r.Mount(bg))

	r.mock.Add(interval)
	require.Eventually(t, func() bool { return r.Notice() == NoticeProcessImage }, waitFor, poll)
	st := r.Snapshot().Session
	assert.Zero(t, st.Applied)
	assert.Zero(t, st.SuspiciousCount)

	r.step(t, 1)
	assert.Equal(t, 1, r.Snapshot().Session.SuspiciousCount)
	assert.Equal(t, uint64(1), r.metrics.SubmitErrors.Load())
}

func TestTestRoom401LeavesAndClearsCredential(t *testing.T) {
	r := newRoom(t, true)
	r.client.queue(submitReply{err: &api.AuthError{Op: "submit frame"}})
	require.NoError(t, r.Mount(bg))

	r.mock.Add(interval)
	select {
	case <-r.Done():
	case <-time.After(waitFor):
		t.Fatal("room not left after 401")
	}

	assert.Equal(t, nav.ViewLogin, r.env.view())
	_, ok := r.env.store.Get()
	assert.False(t, ok)
	assert.Empty(t, r.device.Owner())
	assert.Empty(t, r.Notice(), "auth errors pre-empt the notice")
	assert.Equal(t, []types.SessionOutcome{types.OutcomeAbandoned}, r.journal.outcomes)

	before := r.client.submitCount()
	for i := 0; i < 3; i++ {
		r.mock.Add(interval)
	}
	assert.Never(t, func() bool { return r.client.submitCount() != before }, 50*time.Millisecond, poll)
}

func TestTestRoomEndTest(t *testing.T) {
	r := newRoom(t, true)
	r.client.queue(reply(1, true))
	require.NoError(t, r.Mount(bg))
	r.step(t, 1)

	require.NoError(t, r.EndTest(bg))
	assert.Equal(t, []int64{testID}, r.client.endedIDs())
	assert.Equal(t, nav.ViewDashboard, r.env.view())
	assert.Empty(t, r.device.Owner())
	assert.False(t, r.Snapshot().Mounted)
	assert.Equal(t, []types.SessionOutcome{types.OutcomeCompleted}, r.journal.outcomes)
	assert.Equal(t, []int{1}, r.journal.counts)

	// Ending twice is a no-op.
	require.NoError(t, r.EndTest(bg))
	assert.Len(t, r.client.endedIDs(), 1)

	for i := 0; i < 3; i++ {
		r.mock.Add(interval)
	}
	assert.Never(t, func() bool { return r.client.submitCount() != 1 }, 50*time.Millisecond, poll)
}

func TestTestRoomFailedEndTestStillLeaves(t *testing.T) {
	r := newRoom(t, true)
	r.client.endErr = &api.RequestError{Op: "end test", Status: 404, Message: "Test not found"}
	require.NoError(t, r.Mount(bg))

	err := r.EndTest(bg)
	require.Error(t, err)
	assert.Equal(t, NoticeEndTest, r.Notice())
	assert.Equal(t, nav.ViewDashboard, r.env.view())
	assert.Empty(t, r.device.Owner())

	select {
	case <-r.Done():
	default:
		t.Fatal("room still open")
	}
}

func TestTestRoomLeaveDiscardsLateResult(t *testing.T) {
	r := newRoom(t, true)
	r.client.gate = make(chan struct{})
	r.client.queue(reply(1, true))
	require.NoError(t, r.Mount(bg))

	r.mock.Add(interval)
	require.Eventually(t, func() bool { return r.metrics.FramesCaptured.Load() == 1 }, waitFor, poll)

	r.Leave()
	close(r.client.gate)

	require.Eventually(t, func() bool { return r.metrics.ResultsDropped.Load() == 1 }, waitFor, poll)
	st := r.Snapshot().Session
	assert.Zero(t, st.SuspiciousCount)
	assert.Empty(t, st.History)
	assert.Empty(t, r.client.endedIDs(), "leaving does not end the test")
}

func TestTestRoomRunEndsOnCancel(t *testing.T) {
	r := newRoom(t, true)
	require.NoError(t, r.Mount(bg))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx, 0))
	assert.Equal(t, []int64{testID}, r.client.endedIDs())
}

func TestTestRoomRunEndsAtTimeLimit(t *testing.T) {
	r := newRoom(t, true)
	require.NoError(t, r.Mount(bg))

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background(), 30*time.Minute) }()

	require.Eventually(t, func() bool {
		r.mock.Add(time.Minute)
		select {
		case <-r.Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, poll)
	require.NoError(t, <-errc)
	assert.Equal(t, []int64{testID}, r.client.endedIDs())
}

func TestTestRoomRunReturnsWhenEndedElsewhere(t *testing.T) {
	r := newRoom(t, true)
	require.NoError(t, r.Mount(bg))

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background(), 0) }()

	require.NoError(t, r.EndTest(bg))
	require.NoError(t, <-errc)
	assert.Len(t, r.client.endedIDs(), 1)
}

func TestTestRoomCameraBusy(t *testing.T) {
	r := newRoom(t, true)
	require.NoError(t, r.device.Acquire("someone-else"))

	err := r.Mount(bg)
	assert.ErrorIs(t, err, capture.ErrDeviceBusy)
	assert.Nil(t, r.Snapshot().Session)
}

func TestTestRoomKeepsSuspiciousFrames(t *testing.T) {
	r := newRoom(t, true)
	ev := &fakeEvidence{}
	r.deps.Evidence = ev
	r.client.queue(reply(1, false), reply(3, true), reply(1, true))
	require.NoError(t, r.Mount(bg))

	r.step(t, 1)
	r.step(t, 2)
	r.step(t, 3)
	require.Eventually(t, func() bool { return r.metrics.EvidenceFrames.Load() == 2 }, waitFor, poll)
	require.NoError(t, r.EndTest(bg))

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, []int64{testID}, ev.started)
	assert.Equal(t, []uint64{2, 3}, ev.seqs)
	assert.Equal(t, 1, ev.stopped)
}
