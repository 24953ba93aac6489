package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	interval = 5 * time.Second
	waitFor  = time.Second
	poll     = 5 * time.Millisecond
)

func tick(t *testing.T, mock *clock.Mock) {
	t.Helper()
	mock.Add(interval)
}

// tickIdle advances one interval once no step is in flight.
func tickIdle(t *testing.T, mock *clock.Mock, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return s.InFlight() == 0 }, waitFor, poll)
	mock.Add(interval)
}

func TestStepsFireEveryInterval(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	s := New(interval, func(ctx context.Context, seq uint64) { calls.Add(1) }, WithClock(mock))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for i := 1; i <= 3; i++ {
		tickIdle(t, mock, s)
		want := int32(i)
		assert.Eventually(t, func() bool { return calls.Load() == want }, waitFor, poll)
	}
	assert.Equal(t, uint64(3), s.Started())
}

func TestNoStepBeforeFirstInterval(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	s := New(interval, func(ctx context.Context, seq uint64) { calls.Add(1) }, WithClock(mock))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	mock.Add(interval - time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 0 }, 50*time.Millisecond, poll)
}

func TestStopPreventsFurtherSteps(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	s := New(interval, func(ctx context.Context, seq uint64) { calls.Add(1) }, WithClock(mock))
	require.NoError(t, s.Start(context.Background()))

	tickIdle(t, mock, s)
	tickIdle(t, mock, s)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, poll)

	s.Stop()
	s.Wait()
	for i := 0; i < 5; i++ {
		tick(t, mock)
	}
	assert.Never(t, func() bool { return calls.Load() != 2 }, 50*time.Millisecond, poll)
	assert.False(t, s.Running())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(interval, func(ctx context.Context, seq uint64) {}, WithClock(clock.NewMock()))
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestStartTwice(t *testing.T) {
	s := New(interval, func(ctx context.Context, seq uint64) {}, WithClock(clock.NewMock()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
}

func TestSkipIfBusy(t *testing.T) {
	mock := clock.NewMock()
	release := make(chan struct{})
	var calls atomic.Int32
	var skips atomic.Int32
	s := New(interval, func(ctx context.Context, seq uint64) {
		calls.Add(1)
		<-release
	}, WithClock(mock), WithSkipHook(func() { skips.Add(1) }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	tick(t, mock)
	assert.Eventually(t, func() bool { return s.InFlight() == 1 }, waitFor, poll)

	tick(t, mock)
	assert.Eventually(t, func() bool { return s.Skipped() == 1 }, waitFor, poll)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), skips.Load())

	close(release)
	tickIdle(t, mock, s)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, poll)
}

func TestAllowOverlap(t *testing.T) {
	mock := clock.NewMock()
	release := make(chan struct{})
	s := New(interval, func(ctx context.Context, seq uint64) {
		<-release
	}, WithClock(mock), WithPolicy(AllowOverlap))
	require.NoError(t, s.Start(context.Background()))

	tick(t, mock)
	assert.Eventually(t, func() bool { return s.InFlight() == 1 }, waitFor, poll)
	tick(t, mock)
	assert.Eventually(t, func() bool { return s.InFlight() == 2 }, waitFor, poll)
	assert.Zero(t, s.Skipped())

	close(release)
	s.Stop()
	s.Wait()
	assert.Zero(t, s.InFlight())
}

func TestStopCancelsInFlightStep(t *testing.T) {
	mock := clock.NewMock()
	var cancelled atomic.Bool
	s := New(interval, func(ctx context.Context, seq uint64) {
		<-ctx.Done()
		cancelled.Store(true)
	}, WithClock(mock))
	require.NoError(t, s.Start(context.Background()))

	tick(t, mock)
	assert.Eventually(t, func() bool { return s.InFlight() == 1 }, waitFor, poll)

	s.Stop()
	s.Wait()
	assert.True(t, cancelled.Load())
}

func TestSequenceIncreases(t *testing.T) {
	mock := clock.NewMock()
	var mu sync.Mutex
	var seqs []uint64
	s := New(interval, func(ctx context.Context, seq uint64) {
		mu.Lock()
		seqs = append(seqs, seq)
		mu.Unlock()
	}, WithClock(mock))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for i := 1; i <= 4; i++ {
		tickIdle(t, mock, s)
		want := i
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seqs) == want
		}, waitFor, poll)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestStopFromStep(t *testing.T) {
	mock := clock.NewMock()
	var s *Scheduler
	s = New(interval, func(ctx context.Context, seq uint64) { s.Stop() }, WithClock(mock))
	require.NoError(t, s.Start(context.Background()))

	tick(t, mock)
	assert.Eventually(t, func() bool { return !s.Running() }, waitFor, poll)
	s.Wait()
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("overlap")
	require.NoError(t, err)
	assert.Equal(t, AllowOverlap, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SkipIfBusy, p)

	_, err = ParsePolicy("bogus")
	assert.Error(t, err)
}
