package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/pkg/types"
)

// OutcomeActive marks a session that has not finished.
const OutcomeActive types.SessionOutcome = "active"

var ErrNotFound = errors.New("session not found")

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	TestID          int64                `json:"test_id"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	SuspiciousCount int                  `json:"suspicious_count"`
	Outcome         types.SessionOutcome `json:"outcome"`
}

// ResultRecord is one applied analysis result.
type ResultRecord struct {
	ID         string             `json:"id"`
	TestID     int64              `json:"test_id"`
	Seq        uint64             `json:"seq"`
	Result     api.AnalysisResult `json:"result"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// BeginSession records the start of a test. Starting a known test again
// reopens it.
func (j *Journal) BeginSession(ctx context.Context, testID int64, startedAt time.Time) error {
	query := `
		INSERT INTO sessions (test_id, started_at, outcome) VALUES (?, ?, ?)
		ON CONFLICT (test_id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = NULL,
			outcome = excluded.outcome`

	if _, err := j.conn.ExecContext(ctx, query, testID, startedAt.UTC(), OutcomeActive); err != nil {
		return fmt.Errorf("begin session %d: %w", testID, err)
	}
	return nil
}

// RecordResult stores an applied result. A repeated sequence number is ignored.
func (j *Journal) RecordResult(ctx context.Context, testID int64, seq uint64, result api.AnalysisResult) error {
	boxes := result.FaceBoxes
	if boxes == nil {
		boxes = []api.FaceBox{}
	}
	boxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return fmt.Errorf("failed to marshal face boxes: %w", err)
	}

	var processedAt any
	if !result.ProcessedAt.IsZero() {
		processedAt = result.ProcessedAt.UTC()
	}

	query := `
		INSERT OR IGNORE INTO results (
			id, test_id, seq, edge_density, faces_detected, suspicious,
			activity_confidence, face_boxes, processed_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = j.conn.ExecContext(ctx, query,
		uuid.New().String(),
		testID,
		int64(seq),
		result.EdgeDensity,
		result.FacesDetected,
		result.SuspiciousActivity,
		result.ActivityConfidence,
		string(boxesJSON),
		processedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record result %d/%d: %w", testID, seq, err)
	}
	return nil
}

// EndSession closes the session row.
func (j *Journal) EndSession(ctx context.Context, testID int64, endedAt time.Time, suspicious int, outcome types.SessionOutcome) error {
	query := `
		UPDATE sessions SET ended_at = ?, suspicious_count = ?, outcome = ?
		WHERE test_id = ?`

	res, err := j.conn.ExecContext(ctx, query, endedAt.UTC(), suspicious, outcome, testID)
	if err != nil {
		return fmt.Errorf("end session %d: %w", testID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %d: %w", testID, ErrNotFound)
	}
	return nil
}

// Session returns one session.
func (j *Journal) Session(ctx context.Context, testID int64) (SessionRecord, error) {
	row := j.conn.QueryRowContext(ctx, `
		SELECT test_id, started_at, ended_at, suspicious_count, outcome
		FROM sessions WHERE test_id = ?`, testID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

// Sessions lists all sessions, newest first.
func (j *Journal) Sessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT test_id, started_at, ended_at, suspicious_count, outcome
		FROM sessions ORDER BY started_at DESC, test_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Results returns the results of a session in apply order.
func (j *Journal) Results(ctx context.Context, testID int64) ([]ResultRecord, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT id, test_id, seq, edge_density, faces_detected, suspicious,
			activity_confidence, face_boxes, processed_at, recorded_at
		FROM results WHERE test_id = ? ORDER BY seq ASC`, testID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var (
			rec         ResultRecord
			seq         int64
			boxesJSON   string
			processedAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TestID,
			&seq,
			&rec.Result.EdgeDensity,
			&rec.Result.FacesDetected,
			&rec.Result.SuspiciousActivity,
			&rec.Result.ActivityConfidence,
			&boxesJSON,
			&processedAt,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Seq = uint64(seq)
		if err := json.Unmarshal([]byte(boxesJSON), &rec.Result.FaceBoxes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal face boxes: %w", err)
		}
		if processedAt.Valid {
			rec.Result.ProcessedAt = api.Timestamp{Time: processedAt.Time}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (SessionRecord, error) {
	var (
		rec     SessionRecord
		endedAt sql.NullTime
		outcome string
	)
	if err := s.Scan(&rec.TestID, &rec.StartedAt, &endedAt, &rec.SuspiciousCount, &outcome); err != nil {
		return SessionRecord{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	rec.Outcome = types.SessionOutcome(outcome)
	return rec, nil
}
