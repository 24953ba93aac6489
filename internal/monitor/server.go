package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/proctor-client/internal/journal"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/metrics"
	"github.com/dj-oyu/proctor-client/internal/overlay"
	"github.com/dj-oyu/proctor-client/internal/recorder"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

// FrameSource exposes the most recent camera frame.
type FrameSource interface {
	Last() (types.Frame, bool)
}

// JournalReader is the read side of the session journal.
type JournalReader interface {
	Sessions(ctx context.Context) ([]journal.SessionRecord, error)
	Session(ctx context.Context, testID int64) (journal.SessionRecord, error)
	Results(ctx context.Context, testID int64) ([]journal.ResultRecord, error)
}

// EvidenceStatus reports the state of the evidence recorder.
type EvidenceStatus interface {
	GetStatus() recorder.RecordingStatus
}

// Options are the optional collaborators of a Server.
type Options struct {
	Frames   FrameSource
	Canvas   *overlay.Canvas
	Metrics  *metrics.Metrics
	Journal  JournalReader
	Evidence EvidenceStatus
}

// Server serves the status monitor endpoints.
type Server struct {
	cfg     Config
	monitor *Monitor
	status  *StatusBroadcaster
	opts    Options
}

// NewServer returns a configured monitor server with its broadcaster running.
func NewServer(cfg Config, monitor *Monitor, opts Options) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}

	status := NewStatusBroadcaster(monitor, cfg.StatusInterval)
	if opts.Metrics != nil {
		m := opts.Metrics
		status.OnClientCount(func(n int) { m.StreamClients.Store(int64(n)) })
	}
	status.Start()

	return &Server{
		cfg:     cfg,
		monitor: monitor,
		status:  status,
		opts:    opts,
	}
}

// Close stops the status broadcaster.
func (s *Server) Close() {
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/status/stream", s.handleStatusStream)
	r.Get("/api/overlay.jpg", s.handleOverlay)
	r.Get("/api/evidence", s.handleEvidence)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Get("/{id}", s.handleSession)
		r.Get("/{id}/results", s.handleResults)
	})

	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s -> %d (%s) [%s]",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": s.monitor.Uptime().Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, currentStatus(s.monitor))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamStatusEventsFromChannel(w, r, eventCh, useProtobuf, s.cfg.KeepAlive)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if s.opts.Canvas == nil {
		writeJSONWithStatus(w, map[string]any{"error": "overlay is not configured"}, http.StatusNotFound)
		return
	}

	var frame []byte
	if s.opts.Frames != nil {
		if f, ok := s.opts.Frames.Last(); ok {
			frame = f.Data
		}
	}
	if frame == nil {
		size := s.opts.Canvas.Size()
		blank, err := blankJPEG(size.W, size.H)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "Failed to render frame"}, http.StatusInternalServerError)
			return
		}
		frame = blank
	}

	data, err := s.opts.Canvas.Composite(frame)
	if err != nil {
		logger.Warn("Monitor", "Overlay composite failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Failed to render frame"}, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if s.opts.Evidence == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.opts.Evidence.GetStatus())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeJSON(w, []journal.SessionRecord{})
		return
	}
	sessions, err := s.opts.Journal.Sessions(r.Context())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []journal.SessionRecord{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	rec, err := s.opts.Journal.Session(r.Context(), id)
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if _, err := s.opts.Journal.Session(r.Context(), id); err != nil {
		writeJournalError(w, err)
		return
	}
	results, err := s.opts.Journal.Results(r.Context(), id)
	if err != nil {
		writeJournalError(w, err)
		return
	}
	if results == nil {
		results = []journal.ResultRecord{}
	}
	writeJSON(w, results)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if s.opts.Journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is disabled"}, http.StatusNotFound)
		return 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONWithStatus(w, map[string]any{"error": "invalid test id"}, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJournalError(w http.ResponseWriter, err error) {
	if errors.Is(err, journal.ErrNotFound) {
		writeJSONWithStatus(w, map[string]any{"error": "session not found"}, http.StatusNotFound)
		return
	}
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
