package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/webhook"
)

// AttemptStore persists delivery attempts. Rows are written once and never
// updated.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Record(ctx context.Context, a *webhook.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var jobID any
	if a.JobID != "" {
		jobID = a.JobID
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tidehook.delivery_attempts(
			id, job_id, target_url, event_type, body, signature,
			http_status, latency_ms, outcome, attempt_number, response_body)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,0),$8,$9,$10,$11)
		RETURNING created_at`,
		a.ID, jobID, a.TargetURL, a.EventType, a.Body, a.Signature,
		a.HTTPStatus, a.LatencyMS, a.Outcome, a.AttemptNumber, a.ResponseBody,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) List(ctx context.Context, limit int) ([]*webhook.Attempt, error) {
	q := `
		SELECT id, COALESCE(job_id::text, ''), target_url, event_type, body,
		       COALESCE(signature, ''), COALESCE(http_status, 0), latency_ms,
		       outcome, attempt_number, COALESCE(response_body, ''), created_at
		FROM tidehook.delivery_attempts
		ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []*webhook.Attempt
	for rows.Next() {
		var a webhook.Attempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.TargetURL, &a.EventType, &a.Body,
			&a.Signature, &a.HTTPStatus, &a.LatencyMS, &a.Outcome,
			&a.AttemptNumber, &a.ResponseBody, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

var _ webhook.AttemptStore = (*AttemptStore)(nil)
