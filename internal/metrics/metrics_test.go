package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Ticks.Add(3)
	m.SuspiciousEvents.Add(1)
	m.UpdateSubmitLatency(250 * time.Millisecond)
	m.SetSessionActive(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "proctor_ticks_total 3")
	assert.Contains(t, text, "proctor_suspicious_events_total 1")
	assert.Contains(t, text, "proctor_submit_latency_ms 250")
	assert.Contains(t, text, "proctor_session_active 1")
}

func TestSessionActiveToggle(t *testing.T) {
	m := New()
	m.SetSessionActive(true)
	m.SetSessionActive(false)
	assert.Zero(t, m.SessionActive.Load())
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Ticks.Add(1)
	assert.Zero(t, b.Ticks.Load())
}
