package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidehook/tidehook/internal/job"
)

// JobStore is the Postgres-backed job.Store. Claim relies on a single
// conditional update guarded by FOR UPDATE SKIP LOCKED, so separate engine
// instances sharing one database never double-claim a row.
type JobStore struct {
	pool     *pgxpool.Pool
	registry *job.Registry
	sched    job.Scheduler
}

func NewJobStore(pool *pgxpool.Pool, registry *job.Registry, sched job.Scheduler) *JobStore {
	return &JobStore{pool: pool, registry: registry, sched: sched}
}

const jobColumns = `id, type, payload, status, attempts, max_attempts, result,
	COALESCE(error_text, ''), cancelled, created_at, started_at, completed_at, next_eligible_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var status string
	err := row.Scan(&j.ID, &j.Type, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.Result, &j.ErrorText, &j.Cancelled, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.NextEligibleAt)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	return &j, nil
}

func (s *JobStore) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int) (*job.Job, error) {
	if !s.registry.Known(jobType) {
		return nil, job.ErrInvalidJobType
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tidehook.jobs(id, type, payload, status, attempts, max_attempts, next_eligible_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, now())
		RETURNING `+jobColumns,
		id, jobType, payload, maxAttempts)
	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *JobStore) Claim(ctx context.Context) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tidehook.jobs
		SET status='running', started_at=now(), attempts=attempts+1
		WHERE id = (
			SELECT id FROM tidehook.jobs
			WHERE status='pending' AND next_eligible_at <= now()
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1)
		RETURNING `+jobColumns)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *JobStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tidehook.jobs
		SET status='completed', result=$2, error_text=NULL, completed_at=now()
		WHERE id=$1 AND status='running'`, id, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *JobStore) Fail(ctx context.Context, id string, errorText string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var attempts, maxAttempts int
	err = tx.QueryRow(ctx, `
		SELECT attempts, max_attempts FROM tidehook.jobs
		WHERE id=$1 AND status='running'
		FOR UPDATE`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.transitionError(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("read job for fail: %w", err)
	}

	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE tidehook.jobs
			SET status='failed', error_text=$2, completed_at=now()
			WHERE id=$1`, id, errorText)
	} else {
		next := s.sched.NextEligible(time.Now().UTC(), attempts)
		_, err = tx.Exec(ctx, `
			UPDATE tidehook.jobs
			SET status='pending', error_text=$2, next_eligible_at=$3
			WHERE id=$1`, id, errorText, next)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *JobStore) FailPermanent(ctx context.Context, id string, errorText string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tidehook.jobs
		SET status='failed', error_text=$2, completed_at=now()
		WHERE id=$1 AND status='running'`, id, errorText)
	if err != nil {
		return fmt.Errorf("fail job permanently: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *JobStore) Cancel(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tidehook.jobs
		SET status='failed', cancelled=true, error_text=$2, completed_at=now()
		WHERE id=$1 AND status IN ('pending','running')`, id, job.CancelledErrorText)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *JobStore) Retry(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tidehook.jobs
		SET status='pending', attempts=0, result=NULL, error_text=NULL, cancelled=false,
		    started_at=NULL, completed_at=NULL, next_eligible_at=now()
		WHERE id=$1 AND status='failed'`, id)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM tidehook.jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *JobStore) List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM tidehook.jobs
			ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+jobColumns+` FROM tidehook.jobs
			WHERE status=$1 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *JobStore) Stats(ctx context.Context) (job.Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM tidehook.jobs GROUP BY status`)
	if err != nil {
		return job.Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var st job.Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return job.Stats{}, err
		}
		switch job.Status(status) {
		case job.StatusPending:
			st.Pending = n
		case job.StatusRunning:
			st.Running = n
		case job.StatusCompleted:
			st.Completed = n
		case job.StatusFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

// transitionError distinguishes a missing row from a row in the wrong state.
func (s *JobStore) transitionError(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM tidehook.jobs WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return job.ErrNotFound
	}
	return job.ErrInvalidTransition
}

var _ job.Store = (*JobStore)(nil)
