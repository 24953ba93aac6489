package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized matches every AuthError.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by Login for a rejected username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthError is a 401 from a bearer-authenticated call.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrUnauthorized)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NetworkError covers connectivity failures, timeouts and 5xx responses.
type NetworkError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RequestError is any other non-success response, e.g. a 400 for a bad image.
type RequestError struct {
	Op      string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// IsAuth reports whether err is a 401 AuthError.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ServerMessage extracts the backend {error} text from err, if any.
func ServerMessage(err error) string {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Message
	}
	return ""
}
