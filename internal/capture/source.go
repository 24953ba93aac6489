// Package capture provides still frames for the monitoring loop.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"

	"github.com/dj-oyu/proctor-client/pkg/types"
)

var (
	// ErrNoFrame means the camera has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrDeviceBusy is returned when the device is owned elsewhere or a grab is in progress.
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrNotAcquired is returned when grabbing or releasing without ownership.
	ErrNotAcquired = errors.New("capture device not acquired")
)

// Source yields encoded frames.
type Source interface {
	Grab(ctx context.Context) (types.Frame, error)
}

// dimensions reads the intrinsic size of an encoded image without decoding it.
func dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
