// Package recorder keeps annotated copies of frames flagged as suspicious.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/proctor-client/internal/logger"
)

var (
	ErrRecording    = errors.New("already recording")
	ErrNotRecording = errors.New("not recording")
)

// Compositor draws the current overlay onto an encoded frame.
type Compositor interface {
	Composite(frame []byte) ([]byte, error)
}

// Capture is one frame to keep.
type Capture struct {
	TestID int64
	Seq    uint64
	Data   []byte
	At     time.Time
}

// Recorder writes captures of one test to its own directory
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	comp         Compositor
	dir          string
	testID       int64
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	frameChan    chan Capture
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewRecorder creates a recorder rooted at basePath. A nil comp stores frames as captured.
func NewRecorder(basePath string, comp Compositor) *Recorder {
	return &Recorder{
		basePath: basePath,
		comp:     comp,
	}
}

// Start begins recording for testID into basePath/test-<id>.
func (r *Recorder) Start(testID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrRecording
	}

	dir := filepath.Join(r.basePath, fmt.Sprintf("test-%d", testID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}

	// Initialize state
	r.dir = dir
	r.testID = testID
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = time.Now()
	r.frameChan = make(chan Capture, 16)
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.done)

	logger.Info("Recorder", "Recording suspicious frames of test %d to %s", testID, dir)
	return nil
}

// Stop stops recording after pending captures are written.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.done)
	r.mu.Unlock()

	// Wait for write goroutine to finish
	r.wg.Wait()

	st := r.GetStatus()
	logger.Info("Recorder", "Stopped: %d frames, %d bytes, %d dropped", st.FrameCount, st.BytesWritten, st.Dropped)
	return nil
}

// SendFrame composites c and queues it for writing (non-blocking). It
// reports false when not recording for c.TestID or the queue is full.
func (r *Recorder) SendFrame(c Capture) bool {
	r.mu.RLock()
	recording := r.recording && r.testID == c.TestID
	ch := r.frameChan
	r.mu.RUnlock()

	if !recording {
		return false
	}

	if r.comp != nil {
		data, err := r.comp.Composite(c.Data)
		if err != nil {
			logger.Warn("Recorder", "Composite frame %d: %v", c.Seq, err)
		} else {
			c.Data = data
		}
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.recording || r.frameChan != ch {
		return false
	}

	select {
	case ch <- c:
		return true
	default:
		// Channel full, drop frame
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan Capture, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case c := <-frames:
			r.writeFrame(c)
		case <-done:
			// Drain remaining frames
			for {
				select {
				case c := <-frames:
					r.writeFrame(c)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(c Capture) {
	r.mu.RLock()
	dir := r.dir
	r.mu.RUnlock()

	name := fmt.Sprintf("%06d_%s.jpg", c.Seq, c.At.UTC().Format("20060102T150405.000"))
	if err := os.WriteFile(filepath.Join(dir, name), c.Data, 0o644); err != nil {
		// Log error but continue
		logger.Warn("Recorder", "Write %s: %v", name, err)
		return
	}

	r.mu.Lock()
	r.bytesWritten += uint64(len(c.Data))
	r.frameCount++
	r.mu.Unlock()
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		TestID:       r.testID,
		Dir:          r.dir,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// Close stops the recorder if it is running.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	TestID       int64         `json:"test_id"`
	Dir          string        `json:"dir"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Dropped      uint64        `json:"dropped"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}
