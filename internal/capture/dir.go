package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

var frameExtensions = []string{".jpg", ".jpeg", ".png"}

// DirSource replays the images of a directory in name order, wrapping around.
// The directory is rescanned every time the cycle restarts, so frames dropped
// in by another process are picked up.
type DirSource struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files []string
	next  int
	count uint64
}

// NewDirSource returns a source reading from dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, now: time.Now}
}

// Grab returns the next image. An empty or missing directory yields ErrNoFrame.
func (s *DirSource) Grab(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.files) {
		files, err := s.scan()
		if err != nil {
			return types.Frame{}, err
		}
		s.files = files
		s.next = 0
	}
	if len(s.files) == 0 {
		return types.Frame{}, ErrNoFrame
	}

	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed since the scan.
			s.next = len(s.files)
			return types.Frame{}, ErrNoFrame
		}
		return types.Frame{}, fmt.Errorf("read frame %s: %w", path, err)
	}
	if len(data) == 0 {
		return types.Frame{}, ErrNoFrame
	}

	w, h, err := dimensions(data)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	s.count++
	return types.Frame{
		Data:       data,
		Width:      w,
		Height:     h,
		CapturedAt: s.now(),
		FrameNum:   s.count,
	}, nil
}

func (s *DirSource) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Capture", "Frame directory %s does not exist yet", s.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("scan frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains(frameExtensions, ext) {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}
