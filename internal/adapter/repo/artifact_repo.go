package repo

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"genserver/internal/domain"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository.
type ArtifactRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewArtifactRepository creates a new artifact repository backed by PostgreSQL.
func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{pool: pool}
}

// Insert persists one artifact row.
func (r *ArtifactRepositoryPG) Insert(ctx context.Context, artifact *domain.Artifact) error {
	metadata := artifact.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	query := `
INSERT INTO artifacts (id, user_id, job_id, storage_key, source_url, mime, width, height, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err = r.pool.Exec(ctx, query,
		artifact.ID,
		artifact.UserID,
		artifact.JobID,
		artifact.StorageKey,
		artifact.SourceURL,
		artifact.MIME,
		artifact.Width,
		artifact.Height,
		raw,
	)
	return err
}

// ListByJob returns the artifacts produced by a job, scoped to its owner.
func (r *ArtifactRepositoryPG) ListByJob(ctx context.Context, jobID, userID string) ([]domain.Artifact, error) {
	query := `
SELECT id, user_id, job_id, storage_key, source_url, mime, width, height, metadata, created_at
FROM artifacts
WHERE job_id = $1 AND user_id = $2
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var raw []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.JobID, &a.StorageKey, &a.SourceURL, &a.MIME, &a.Width, &a.Height, &raw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &a.Metadata)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

var _ domain.ArtifactRepository = (*ArtifactRepositoryPG)(nil)
