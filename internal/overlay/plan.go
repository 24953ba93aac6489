// Package overlay projects detected face regions onto a drawing surface sized
// to the live video.
package overlay

import (
	"math"

	"github.com/dj-oyu/proctor-client/internal/api"
)

// Size is a width/height pair in pixels.
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

// DefaultVideoSize is used when the video has not reported its dimensions yet.
var DefaultVideoSize = Size{W: 640, H: 480}

const (
	// FaceLabel is drawn above every box.
	FaceLabel = "Face"
	// labelLift is the gap between the label baseline and the box top.
	labelLift = 4
	// minLabelY keeps labels of boxes touching the top edge on screen.
	minLabelY = 10
)

// Op is a drawing operation.
type Op int

const (
	OpClear Op = iota
	OpStrokeRect
	OpFillText
)

func (o Op) String() string {
	switch o {
	case OpClear:
		return "clear"
	case OpStrokeRect:
		return "stroke_rect"
	case OpFillText:
		return "fill_text"
	default:
		return "unknown"
	}
}

// Command is one drawing instruction in video pixel coordinates. For OpClear,
// W and H carry the surface size.
type Command struct {
	Op   Op     `json:"op"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
	H    int    `json:"h"`
	Text string `json:"text,omitempty"`
}

// Plan turns face boxes reported in source-frame space into commands for a
// surface of the video's intrinsic size. The first command always clears.
func Plan(boxes []api.FaceBox, source, video Size) []Command {
	if !video.Valid() {
		video = DefaultVideoSize
	}
	if !source.Valid() {
		source = video
	}
	sx := float64(video.W) / float64(source.W)
	sy := float64(video.H) / float64(source.H)

	cmds := make([]Command, 0, 1+2*len(boxes))
	cmds = append(cmds, Command{Op: OpClear, W: video.W, H: video.H})

	for _, b := range boxes {
		if b.W <= 0 || b.H <= 0 {
			continue
		}
		x := scale(b.X, sx)
		y := scale(b.Y, sy)
		cmds = append(cmds,
			Command{Op: OpStrokeRect, X: x, Y: y, W: scale(b.W, sx), H: scale(b.H, sy)},
			Command{Op: OpFillText, X: x, Y: max(y-labelLift, minLabelY), Text: FaceLabel},
		)
	}
	return cmds
}

func scale(v int, f float64) int {
	return int(math.Round(float64(v) * f))
}
