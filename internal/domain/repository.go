package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. Every transition
// method is conditional on the current status and reports whether the row
// actually moved, so the first writer to observe a state wins and later
// writers become no-ops.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByPromptID(ctx context.Context, promptID string) (*Job, error)

	// MarkProcessing moves pending -> processing and stores the
	// backend-assigned correlation id.
	MarkProcessing(ctx context.Context, jobID, promptID string) (bool, error)
	// MarkCompleted moves processing -> completed with progress 100 and the
	// accumulated result URLs.
	MarkCompleted(ctx context.Context, jobID string, resultURLs []string) (bool, error)
	// MarkFailed moves any non-terminal status -> failed.
	MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error)
	// UpdateProgress raises progress while the job is processing; it never
	// lowers an already recorded value.
	UpdateProgress(ctx context.Context, jobID string, progress int) (bool, error)

	// ClaimDue leases one processing job of the given backend whose last
	// check is older than interval, bumping attempts and last_checked_at in
	// the same statement. Returns ErrNoJobAvailable when nothing is due.
	ClaimDue(ctx context.Context, backend JobBackend, interval time.Duration) (*Job, error)
}

// ArtifactRepository handles persistence for generated artifacts.
type ArtifactRepository interface {
	Insert(ctx context.Context, artifact *Artifact) error
	ListByJob(ctx context.Context, jobID, userID string) ([]Artifact, error)
}

// ModelUsageRepository tracks usage counters for reusable model references.
type ModelUsageRepository interface {
	IncrementUsage(ctx context.Context, modelID string) error
}

// TokenRepository stores integration credentials for external providers.
type TokenRepository interface {
	Token(ctx context.Context, provider string) (string, error)
	Upsert(ctx context.Context, provider, token string) error
}
