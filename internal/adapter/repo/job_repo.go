package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genserver/internal/domain"
)

const jobColumns = `id, user_id, type, backend, status, progress, params, prompt_id, result_urls, error_message, attempts, max_attempts, created_at, updated_at, last_checked_at`

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. All
// transitions are conditional updates so that only the first writer to
// observe a given status can move the row.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, type, backend, status, progress, params, prompt_id, result_urls, error_message, attempts, max_attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Type,
		job.Backend,
		job.Status,
		job.Progress,
		job.Params,
		job.PromptID,
		job.ResultURLs,
		job.ErrorMessage,
		job.Attempts,
		job.MaxAttempts,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetByPromptID fetches a job by its backend correlation id.
func (r *JobRepositoryPG) GetByPromptID(ctx context.Context, promptID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE prompt_id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, promptID))
}

// MarkProcessing moves pending -> processing and stores the correlation id.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID, promptID string) (bool, error) {
	query := `
UPDATE jobs
SET status = 'processing', prompt_id = $2, updated_at = now()
WHERE id = $1 AND status = 'pending';
`
	tag, err := r.pool.Exec(ctx, query, jobID, promptID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted moves processing -> completed with progress 100.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, resultURLs []string) (bool, error) {
	query := `
UPDATE jobs
SET status = 'completed', progress = 100, result_urls = $2, updated_at = now()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, jobID, resultURLs)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed moves any non-terminal status -> failed.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	query := `
UPDATE jobs
SET status = 'failed', error_message = $2, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress raises progress while the job is processing. GREATEST keeps
// progress monotone even if a slow writer reports a stale value.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress int) (bool, error) {
	query := `
UPDATE jobs
SET progress = GREATEST(progress, $2), updated_at = now()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, jobID, progress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimDue leases one due processing job, bumping attempts and
// last_checked_at in the same statement so the lease itself records the
// poll tick before any backend call happens.
func (r *JobRepositoryPG) ClaimDue(ctx context.Context, backend domain.JobBackend, interval time.Duration) (*domain.Job, error) {
	query := `
WITH due_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'processing'
      AND backend = $1
      AND last_checked_at <= now() - make_interval(secs => $2)
    ORDER BY last_checked_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE jobs
    SET attempts = attempts + 1, last_checked_at = now(), updated_at = now()
    WHERE id IN (SELECT id FROM due_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed;
`
	job, err := r.scanJob(r.pool.QueryRow(ctx, query, backend, interval.Seconds()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Type,
		&job.Backend,
		&job.Status,
		&job.Progress,
		&job.Params,
		&job.PromptID,
		&job.ResultURLs,
		&job.ErrorMessage,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastCheckedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
