package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/proctor-client/pkg/types"
)

const maxSnapshotSize = 8 << 20

// SnapshotSource fetches a still from a camera's HTTP snapshot endpoint.
type SnapshotSource struct {
	url   string
	http  *http.Client
	count atomic.Uint64
}

// NewSnapshotSource returns a source polling url. A nil client uses a 5s timeout.
func NewSnapshotSource(url string, client *http.Client) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SnapshotSource{url: url, http: client}
}

// Grab fetches one frame. 404, 503 and an empty body mean the camera is not ready.
func (s *SnapshotSource) Grab(ctx context.Context) (types.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return types.Frame{}, fmt.Errorf("snapshot request: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png")

	resp, err := s.http.Do(req)
	if err != nil {
		return types.Frame{}, fmt.Errorf("snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable, http.StatusNoContent:
		return types.Frame{}, ErrNoFrame
	default:
		return types.Frame{}, fmt.Errorf("snapshot: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return types.Frame{}, fmt.Errorf("snapshot body: %w", err)
	}
	if len(data) == 0 {
		return types.Frame{}, ErrNoFrame
	}

	w, h, err := dimensions(data)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{
		Data:       data,
		Width:      w,
		Height:     h,
		CapturedAt: time.Now(),
		FrameNum:   s.count.Add(1),
	}, nil
}
