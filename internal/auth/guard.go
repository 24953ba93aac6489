// Package auth gates protected views behind the stored bearer credential.
package auth

import (
	"errors"
	"sync"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/token"
)

// ErrUnauthenticated is returned by Enter when no credential is stored. The
// caller has already been redirected and must do nothing else.
var ErrUnauthenticated = errors.New("not authenticated")

// Authorizer receives the credential for subsequent requests.
type Authorizer interface {
	Authorize(token string)
}

// Guard implements the mount check and the cross-cutting 401 rule.
type Guard struct {
	store  token.Store
	client Authorizer
	nav    nav.Navigator

	mu     sync.Mutex
	active bool // a credential is attached and has not been revoked
}

// NewGuard wires a guard to its store, API client and navigator.
func NewGuard(store token.Store, client Authorizer, navigator nav.Navigator) *Guard {
	return &Guard{
		store:  store,
		client: client,
		nav:    navigator,
	}
}

// Enter is called on mount of a protected view.
func (g *Guard) Enter(view nav.View) error {
	tok, ok := g.store.Get()
	if !ok {
		logger.Info("Auth", "No credential for %s, redirecting to login", view)
		g.nav.Navigate(nav.Route{View: nav.ViewLogin})
		return ErrUnauthenticated
	}

	g.client.Authorize(tok)
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()
	return nil
}

// HandleError applies the 401 rule to err. It returns true when err was an
// AuthError, in which case the caller must skip its own error handling.
func (g *Guard) HandleError(err error) bool {
	if err == nil || !api.IsAuth(err) {
		return false
	}
	if g.revoke() {
		logger.Warn("Auth", "Credential rejected by server, returning to login")
	}
	return true
}

// Logout clears the credential and returns to the login view.
func (g *Guard) Logout() {
	g.mu.Lock()
	g.active = true
	g.mu.Unlock()
	g.revoke()
}

// Authenticated reports whether a credential is currently attached.
func (g *Guard) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// revoke clears and redirects at most once per authenticated period.
func (g *Guard) revoke() bool {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return false
	}
	g.active = false
	g.mu.Unlock()

	if err := g.store.Clear(); err != nil {
		logger.Error("Auth", "Failed to clear credential: %v", err)
	}
	g.client.Authorize("")
	g.nav.Navigate(nav.Route{View: nav.ViewLogin})
	return true
}
