package views

import (
	"context"
	"errors"
	"fmt"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/token"
)

// LoginClient exchanges credentials for a token.
type LoginClient interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Login is the sign-in screen.
type Login struct {
	notice
	client LoginClient
	store  token.Store
	nav    nav.Navigator
}

func NewLogin(client LoginClient, store token.Store, navigator nav.Navigator) *Login {
	return &Login{client: client, store: store, nav: navigator}
}

// Submit signs in, persists the token and moves to the dashboard.
func (v *Login) Submit(ctx context.Context, username, password string) error {
	v.clear()
	if username == "" || password == "" {
		err := &ValidationError{Field: "username", Message: NoticeMissingFields}
		v.set(err.Message)
		return err
	}

	tok, err := v.client.Login(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, api.ErrInvalidCredentials):
			v.set(NoticeInvalidLogin)
		case api.ServerMessage(err) != "":
			v.set(api.ServerMessage(err))
		default:
			v.set(NoticeLogin)
		}
		logger.Warn("Login", "Login for %s failed: %v", username, err)
		return err
	}

	if err := v.store.Set(tok); err != nil {
		v.set(NoticeLogin)
		return fmt.Errorf("store token: %w", err)
	}
	logger.Info("Login", "Signed in as %s", username)
	v.nav.Navigate(nav.Route{View: nav.ViewDashboard})
	return nil
}
