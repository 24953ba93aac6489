// Package nav models the client's screens and the transitions between them.
package nav

import (
	"fmt"
	"sync"

	"github.com/dj-oyu/proctor-client/internal/logger"
)

// View names a screen.
type View string

const (
	ViewLogin     View = "login"
	ViewRegister  View = "register"
	ViewDashboard View = "dashboard"
	ViewTestRoom  View = "test"
)

// Route is a View plus its parameters.
type Route struct {
	View   View
	TestID int64
}

func (r Route) String() string {
	if r.View == ViewTestRoom {
		return fmt.Sprintf("/%s/%d", r.View, r.TestID)
	}
	return "/" + string(r.View)
}

// Navigator moves the client to another view.
type Navigator interface {
	Navigate(Route)
}

// Router is the process-wide Navigator. Subscribers observe every transition.
type Router struct {
	mu      sync.Mutex
	current Route
	clients map[int]chan Route
	nextID  int
}

// NewRouter returns a Router positioned at start.
func NewRouter(start Route) *Router {
	return &Router{
		current: start,
		clients: make(map[int]chan Route),
	}
}

// Navigate records the transition and fans it out to subscribers.
func (r *Router) Navigate(to Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger.Debug("Nav", "%s -> %s", r.current, to)
	r.current = to
	for _, ch := range r.clients {
		select {
		case ch <- to:
		default:
			// Slow subscriber; it can still read Current.
		}
	}
}

// Current returns the active route.
func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe returns a channel receiving subsequent routes.
func (r *Router) Subscribe() (int, <-chan Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan Route, 4)
	r.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Router) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.clients[id]; ok {
		close(ch)
		delete(r.clients, id)
	}
}
