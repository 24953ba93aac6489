// Package api is the request/response wrapper around the exam backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/proctor-client/internal/logger"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
	frameFileName   = "webcam.jpg"
)

// Client talks to the backend REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize sets the bearer token attached to every authenticated call.
// An empty token removes the credential.
func (c *Client) Authorize(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Authorized reports whether a bearer token is attached.
func (c *Client) Authorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ListTests returns the caller's test records.
func (c *Client) ListTests(ctx context.Context) ([]TestRecord, error) {
	var tests []TestRecord
	if err := c.do(ctx, "list tests", http.MethodGet, "/api/tests", nil, "", true, http.StatusOK, &tests); err != nil {
		return nil, err
	}
	if tests == nil {
		tests = []TestRecord{}
	}
	return tests, nil
}

// StartTest creates a new test session and returns its id.
func (c *Client) StartTest(ctx context.Context) (int64, error) {
	var resp startTestResponse
	if err := c.do(ctx, "start test", http.MethodPost, "/api/start-test", nil, "", true, http.StatusCreated, &resp); err != nil {
		return 0, err
	}
	if resp.TestID <= 0 {
		return 0, &RequestError{Op: "start test", Status: http.StatusCreated, Message: "missing test_id"}
	}
	return resp.TestID, nil
}

// SubmitFrame uploads one encoded still image for analysis.
func (c *Client) SubmitFrame(ctx context.Context, image []byte) (AnalysisResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, frameFileName))
	header.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(header)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("submit frame: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return AnalysisResult{}, fmt.Errorf("submit frame: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return AnalysisResult{}, fmt.Errorf("submit frame: build form: %w", err)
	}

	var result AnalysisResult
	if err := c.do(ctx, "submit frame", http.MethodPost, "/api/process-image", &body, mw.FormDataContentType(), true, http.StatusOK, &result); err != nil {
		return AnalysisResult{}, err
	}
	if result.FaceBoxes == nil {
		result.FaceBoxes = []FaceBox{}
	}
	return result, nil
}

// EndTest records the end of test id on the server.
func (c *Client) EndTest(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/end-test/%d", id)
	return c.do(ctx, "end test", http.MethodPost, path, nil, "", true, http.StatusOK, nil)
}

// Register creates a user account.
func (c *Client) Register(ctx context.Context, username, password string, isStudent bool) error {
	payload, err := json.Marshal(registerRequest{Username: username, Password: password, IsStudent: isStudent})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return c.do(ctx, "register", http.MethodPost, "/api/register", bytes.NewReader(payload), "application/json", false, http.StatusCreated, nil)
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	var resp loginResponse
	err = c.do(ctx, "login", http.MethodPost, "/api/login", bytes.NewReader(payload), "application/json", false, http.StatusOK, &resp)
	if err != nil {
		if IsAuth(err) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if resp.Token == "" {
		return "", &RequestError{Op: "login", Status: http.StatusOK, Message: "missing token"}
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, auth bool, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		if tok := c.bearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("API", "%s %s [%s] failed: %v", method, path, requestID, err)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	logger.Debug("API", "%s %s [%s] -> %d in %s", method, path, requestID, resp.StatusCode, time.Since(started))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Op: op}
	case resp.StatusCode >= 500:
		return &NetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(serverMessage(data, resp.Status))}
	case resp.StatusCode != want:
		return &RequestError{Op: op, Status: resp.StatusCode, Message: serverMessage(data, "")}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func serverMessage(data []byte, fallback string) string {
	var payload errorResponse
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return fallback
}
