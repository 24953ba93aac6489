package views

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/nav"
)

// ErrStartPending is returned while a previous start request is outstanding.
var ErrStartPending = errors.New("test start already in progress")

// TestsClient lists and starts tests.
type TestsClient interface {
	ListTests(ctx context.Context) ([]api.TestRecord, error)
	StartTest(ctx context.Context) (int64, error)
}

// Dashboard lists past tests and starts new ones.
type Dashboard struct {
	notice
	client TestsClient
	guard  Guard
	nav    nav.Navigator

	mu       sync.Mutex
	tests    []api.TestRecord
	starting atomic.Bool
}

func NewDashboard(client TestsClient, guard Guard, navigator nav.Navigator) *Dashboard {
	return &Dashboard{client: client, guard: guard, nav: navigator}
}

// Mount runs the guard and loads the test list.
func (v *Dashboard) Mount(ctx context.Context) error {
	if err := v.guard.Enter(nav.ViewDashboard); err != nil {
		return err
	}
	return v.Refresh(ctx)
}

// Refresh reloads the test list.
func (v *Dashboard) Refresh(ctx context.Context) error {
	tests, err := v.client.ListTests(ctx)
	if err != nil {
		if v.guard.HandleError(err) {
			return err
		}
		v.set(NoticeFetchTests)
		logger.Warn("Dashboard", "List tests failed: %v", err)
		return err
	}

	v.mu.Lock()
	v.tests = tests
	v.mu.Unlock()
	return nil
}

// Tests returns the last loaded list.
func (v *Dashboard) Tests() []api.TestRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]api.TestRecord, len(v.tests))
	copy(out, v.tests)
	return out
}

// StartTest creates a test and navigates to its room.
func (v *Dashboard) StartTest(ctx context.Context) (int64, error) {
	if !v.starting.CompareAndSwap(false, true) {
		return 0, ErrStartPending
	}
	defer v.starting.Store(false)

	id, err := v.client.StartTest(ctx)
	if err != nil {
		if v.guard.HandleError(err) {
			return 0, err
		}
		v.set(NoticeStartTest)
		logger.Warn("Dashboard", "Start test failed: %v", err)
		return 0, err
	}

	v.clear()
	logger.Info("Dashboard", "Started test %d", id)
	v.nav.Navigate(nav.Route{View: nav.ViewTestRoom, TestID: id})
	return id, nil
}
