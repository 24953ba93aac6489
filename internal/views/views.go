// Package views holds the controllers behind the client's screens. Each view
// applies the auth guard on mount and the 401 rule on every backend call.
package views

import (
	"sync"

	"github.com/dj-oyu/proctor-client/internal/nav"
)

// User-visible notices.
const (
	NoticeFetchTests       = "Failed to fetch tests"
	NoticeStartTest        = "Failed to start test"
	NoticeProcessImage     = "Error processing image"
	NoticeEndTest          = "Error ending test"
	NoticePasswordMismatch = "Passwords do not match"
	NoticeRegistration     = "Registration failed"
	NoticeInvalidLogin     = "Invalid username or password"
	NoticeLogin            = "Login failed"
	NoticeMissingFields    = "Username and password are required"
)

// Guard is the subset of auth.Guard the views depend on.
type Guard interface {
	Enter(view nav.View) error
	HandleError(err error) bool
}

// ValidationError is a local input error raised before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// notice is the single message line a view shows to the user.
type notice struct {
	mu   sync.Mutex
	text string
}

func (n *notice) set(text string) {
	n.mu.Lock()
	n.text = text
	n.mu.Unlock()
}

func (n *notice) clear() { n.set("") }

// Notice returns the current message, empty when none.
func (n *notice) Notice() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}
