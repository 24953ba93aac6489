package views

import (
	"context"
	"sync"

	"github.com/dj-oyu/proctor-client/internal/auth"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/token"
)

type fakeAuthorizer struct {
	mu    sync.Mutex
	token string
}

func (f *fakeAuthorizer) Authorize(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = tok
}

// env is the shared wiring for view tests.
type env struct {
	store  *token.MemoryStore
	authz  *fakeAuthorizer
	router *nav.Router
	guard  *auth.Guard
}

func newEnv(loggedIn bool) *env {
	e := &env{
		store:  token.NewMemoryStore(),
		authz:  &fakeAuthorizer{},
		router: nav.NewRouter(nav.Route{View: nav.ViewDashboard}),
	}
	if loggedIn {
		_ = e.store.Set("tok-123")
	}
	e.guard = auth.NewGuard(e.store, e.authz, e.router)
	return e
}

func (e *env) view() nav.View {
	return e.router.Current().View
}

var bg = context.Background()
