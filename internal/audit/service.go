package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/voicebridge/internal/pipeline"
)

// Service stores one row per pipeline run in pipeline_runs.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	var sessionID, failedStage, errText *string
	if rec.SessionID != "" {
		sessionID = &rec.SessionID
	}
	if rec.FailedStage != "" {
		failedStage = &rec.FailedStage
	}
	if rec.Error != "" {
		errText = &rec.Error
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO pipeline_runs (id, session_id, owner, mode, outcome, failed_stage, error, audio_bytes, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.RunID, sessionID, rec.Owner, string(rec.Mode), string(rec.Outcome), failedStage, errText,
		rec.AudioBytes, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

// RunQuery filters the audit trail. Owner is always applied; "" matches
// runs recorded with auth off.
type RunQuery struct {
	Owner     string
	SessionID string
	Since     *time.Time
	Limit     int
}

type RunRow struct {
	ID          string    `json:"id"`
	SessionID   *string   `json:"session_id"`
	Mode        string    `json:"mode"`
	Outcome     string    `json:"outcome"`
	FailedStage *string   `json:"failed_stage"`
	Error       *string   `json:"error"`
	AudioBytes  int       `json:"audio_bytes"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Service) ListRuns(ctx context.Context, q RunQuery) ([]RunRow, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, session_id, mode, outcome, failed_stage, error, audio_bytes, duration_ms, created_at
			  FROM pipeline_runs WHERE owner = $1`
	args := []any{q.Owner}
	argIdx := 2

	if q.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, q.SessionID)
		argIdx++
	}
	if q.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.Since)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, q.Limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[RunRow])
	if err != nil {
		return nil, fmt.Errorf("scan pipeline runs: %w", err)
	}
	return runs, nil
}
