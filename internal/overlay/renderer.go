package overlay

import (
	"sync"

	"github.com/dj-oyu/proctor-client/internal/api"
)

// Surface executes drawing commands.
type Surface interface {
	Apply(cmds []Command)
}

// Renderer redraws its surface only when a new result arrives.
type Renderer struct {
	mu      sync.Mutex
	surface Surface
	source  Size

	drawn   bool
	version uint64
	video   Size
	last    []Command
	redraws int
}

// NewRenderer draws onto surface; source is the coordinate space the analyzer
// reports boxes in.
func NewRenderer(surface Surface, source Size) *Renderer {
	return &Renderer{surface: surface, source: source}
}

// Update redraws for the result identified by version. Repeated calls with the
// same version and video size are no-ops. Nil or empty boxes clear the surface.
func (r *Renderer) Update(version uint64, boxes []api.FaceBox, video Size) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drawn && r.version == version && r.video == video {
		return false
	}

	cmds := Plan(boxes, r.source, video)
	r.surface.Apply(cmds)
	r.drawn = true
	r.version = version
	r.video = video
	r.last = cmds
	r.redraws++
	return true
}

// Clear wipes the surface, e.g. when the session view is left.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	video := r.video
	if !video.Valid() {
		video = DefaultVideoSize
	}
	cmds := []Command{{Op: OpClear, W: video.W, H: video.H}}
	r.surface.Apply(cmds)
	r.last = cmds
	r.drawn = false
}

// Commands returns the most recently applied command list.
func (r *Renderer) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Command, len(r.last))
	copy(out, r.last)
	return out
}

// Redraws counts how many times the surface was redrawn.
func (r *Renderer) Redraws() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redraws
}
