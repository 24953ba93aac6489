package views

import (
	"context"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/nav"
)

// RegisterClient creates accounts.
type RegisterClient interface {
	Register(ctx context.Context, username, password string, isStudent bool) error
}

// RegisterForm is the sign-up input.
type RegisterForm struct {
	Username        string
	Password        string
	ConfirmPassword string
	IsStudent       bool
}

// Validate checks the form locally.
func (f RegisterForm) Validate() error {
	if f.Username == "" || f.Password == "" {
		return &ValidationError{Field: "username", Message: NoticeMissingFields}
	}
	if f.Password != f.ConfirmPassword {
		return &ValidationError{Field: "confirm_password", Message: NoticePasswordMismatch}
	}
	return nil
}

// Register is the sign-up screen.
type Register struct {
	notice
	client RegisterClient
	nav    nav.Navigator
}

func NewRegister(client RegisterClient, navigator nav.Navigator) *Register {
	return &Register{client: client, nav: navigator}
}

// Submit validates the form, creates the account and moves to login.
// An invalid form never reaches the backend.
func (v *Register) Submit(ctx context.Context, form RegisterForm) error {
	v.clear()
	if err := form.Validate(); err != nil {
		v.set(err.Error())
		return err
	}

	if err := v.client.Register(ctx, form.Username, form.Password, form.IsStudent); err != nil {
		msg := api.ServerMessage(err)
		if msg == "" {
			msg = NoticeRegistration
		}
		v.set(msg)
		logger.Warn("Register", "Registration of %s failed: %v", form.Username, err)
		return err
	}

	logger.Info("Register", "Registered %s (student=%t)", form.Username, form.IsStudent)
	v.nav.Navigate(nav.Route{View: nav.ViewLogin})
	return nil
}
