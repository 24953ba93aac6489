package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/proctor-client/internal/journal"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

const testToken = "tok-123"

type backend struct {
	mu      sync.Mutex
	frames  int
	ended   []string
	nextID  int64
	started int
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	authed := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fn(w, r)
		}
	}
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok", "token": testToken})
	})
	mux.HandleFunc("POST /api/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"User registered successfully"}`))
	})
	mux.HandleFunc("GET /api/tests", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":7,"start_time":"2026-01-02T10:00:00","end_time":null,"status":"in_progress","suspicious_activities":2}]`))
	}))
	mux.HandleFunc("POST /api/start-test", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.started++
		b.nextID++
		id := b.nextID
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"test_id":%d}`, id)
	}))
	mux.HandleFunc("POST /api/process-image", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.frames++
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"edge_density":0.2,"faces_detected":2,"suspicious_activity":true,"face_boxes":[{"x":1,"y":20,"w":10,"h":10}]}`))
	}))
	mux.HandleFunc("POST /api/end-test/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.ended = append(b.ended, r.PathValue("id"))
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"message":"Test ended successfully"}`))
	}))
	return mux
}

func (b *backend) endedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ended...)
}

func (b *backend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

type harness struct {
	t       *testing.T
	backend *backend
	config  string
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.MkdirAll(frames, 0o755))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "0001.jpg"), buf.Bytes(), 0o644))

	cfg := fmt.Sprintf(`server:
  base_url: %s
auth:
  token_file: %s
capture:
  dir: %s
  interval: 20ms
journal:
  path: %s
evidence:
  dir: %s
logging:
  level: silent
  color: false
`, srv.URL, filepath.Join(dir, "token.json"), frames, filepath.Join(dir, "journal.db"),
		filepath.Join(dir, "evidence"))
	path := filepath.Join(dir, "proctor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	return &harness{t: t, backend: b, config: path, dir: dir}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginListLogout(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("login", "-u", "ana", "-p", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as ana")

	out, err = h.run("tests")
	require.NoError(t, err)
	assert.Contains(t, out, "in_progress")
	assert.Contains(t, out, "7")

	_, err = h.run("logout")
	require.NoError(t, err)

	_, err = h.run("tests")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proctor login")
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("login", "-u", "ana", "-p", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid username or password")
	assert.NoFileExists(t, filepath.Join(h.dir, "token.json"))
}

func TestRegisterPasswordMismatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("register", "-u", "ana", "-p", "a", "--confirm", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Passwords do not match")

	out, err := h.run("register", "-u", "ana", "-p", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered ana")
}

func TestStartRunsUntilDuration(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("login", "-u", "ana", "-p", "secret")
	require.NoError(t, err)

	out, err := h.run("start", "--duration", "300ms")
	require.NoError(t, err)
	assert.Contains(t, out, "Test 1 ended with")

	assert.Equal(t, []string{"1"}, h.backend.endedIDs())
	h.backend.mu.Lock()
	assert.Positive(t, h.backend.frames)
	h.backend.mu.Unlock()

	jr, err := journal.Open(filepath.Join(h.dir, "journal.db"))
	require.NoError(t, err)
	defer jr.Close()
	rec, err := jr.Session(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, rec.Outcome)
	assert.Positive(t, rec.SuspiciousCount)

	saved, err := os.ReadDir(filepath.Join(h.dir, "evidence", "test-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved)

	out, err = h.run("history", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")
}

func TestStartRequiresLogin(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("start", "--duration", "100ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proctor login")
	assert.Zero(t, h.backend.startCount())
}

func TestEndCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("login", "-u", "ana", "-p", "secret")
	require.NoError(t, err)

	_, err = h.run("end", "abc")
	assert.Error(t, err)

	out, err := h.run("end", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Test 7 ended")
	assert.Equal(t, []string{"7"}, h.backend.endedIDs())
}
