package types

import "time"

// Frame is one encoded still taken from the capture device.
type Frame struct {
	Data       []byte    // Encoded image (JPEG or PNG)
	Width      int       // Intrinsic frame width
	Height     int       // Intrinsic frame height
	CapturedAt time.Time // Capture timestamp
	FrameNum   uint64    // Sequential frame number per device
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// SessionPhase is the lifecycle state of a monitored test.
type SessionPhase string

const (
	PhaseActive SessionPhase = "active"
	PhaseEnded  SessionPhase = "ended"
)

// SessionOutcome is how a monitored session finished locally.
type SessionOutcome string

const (
	OutcomeCompleted SessionOutcome = "completed" // ended through the end-test action
	OutcomeAbandoned SessionOutcome = "abandoned" // left without ending, e.g. after a 401
)
