package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

// Device is the exclusively owned camera. One owner at a time may grab frames,
// and only one grab runs at once.
type Device struct {
	src Source

	mu    sync.Mutex
	owner string
	last  types.Frame

	grabbing sync.Mutex

	frames      atomic.Uint64
	unavailable atomic.Uint64
}

// NewDevice wraps src.
func NewDevice(src Source) *Device {
	return &Device{src: src}
}

// Acquire claims the device for owner. Re-acquiring by the same owner is a no-op.
func (d *Device) Acquire(owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.owner {
	case "":
		d.owner = owner
		logger.Debug("Capture", "Device acquired by %s", owner)
		return nil
	case owner:
		return nil
	default:
		return ErrDeviceBusy
	}
}

// Release frees the device if owner holds it.
func (d *Device) Release(owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.owner != owner {
		return ErrNotAcquired
	}
	d.owner = ""
	d.last = types.Frame{}
	logger.Debug("Capture", "Device released by %s", owner)
	return nil
}

// Owner returns the current owner, empty when free.
func (d *Device) Owner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner
}

// Grab takes one frame on behalf of owner.
func (d *Device) Grab(ctx context.Context, owner string) (types.Frame, error) {
	if d.Owner() != owner {
		return types.Frame{}, ErrNotAcquired
	}
	if !d.grabbing.TryLock() {
		return types.Frame{}, ErrDeviceBusy
	}
	defer d.grabbing.Unlock()

	frame, err := d.src.Grab(ctx)
	if err != nil {
		if errors.Is(err, ErrNoFrame) {
			d.unavailable.Add(1)
		}
		return types.Frame{}, err
	}

	d.mu.Lock()
	if d.owner == owner {
		d.last = frame
	}
	d.mu.Unlock()
	d.frames.Add(1)
	return frame, nil
}

// Last returns the most recent frame grabbed by the current owner.
func (d *Device) Last() (types.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, !d.last.Empty()
}

// Stats returns captured and unavailable frame counts.
func (d *Device) Stats() (frames, unavailable uint64) {
	return d.frames.Load(), d.unavailable.Load()
}
