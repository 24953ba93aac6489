package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TestStatus mirrors the backend test status values.
type TestStatus string

const (
	StatusInProgress TestStatus = "in_progress"
	StatusCompleted  TestStatus = "completed"
)

// Timestamp decodes both RFC 3339 times and the zone-less ISO 8601 strings the
// backend emits for test records (treated as UTC).
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// TestRecord is one test session as listed on the dashboard.
type TestRecord struct {
	ID                   int64      `json:"id"`
	StartTime            Timestamp  `json:"start_time"`
	EndTime              *Timestamp `json:"end_time"`
	Status               TestStatus `json:"status"`
	SuspiciousActivities int        `json:"suspicious_activities"`
}

// InProgress reports whether the test has not been ended yet.
func (r TestRecord) InProgress() bool {
	return r.Status == StatusInProgress || r.EndTime == nil || r.EndTime.IsZero()
}

// FaceBox is a face region in source-frame pixel coordinates.
type FaceBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// AnalysisResult is the backend verdict for one submitted frame.
type AnalysisResult struct {
	EdgeDensity        float64   `json:"edge_density"`
	FacesDetected      int       `json:"faces_detected"`
	SuspiciousActivity bool      `json:"suspicious_activity"`
	ActivityConfidence float64   `json:"activity_confidence,omitempty"`
	FaceBoxes          []FaceBox `json:"face_boxes"`
	ProcessedAt        Timestamp `json:"processed_at"`
}

type startTestResponse struct {
	TestID int64 `json:"test_id"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	IsStudent bool   `json:"is_student"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
