package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"genserver/internal/domain"
)

// ModelUsageRepositoryPG implements domain.ModelUsageRepository.
type ModelUsageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewModelUsageRepository creates a usage counter repository backed by PostgreSQL.
func NewModelUsageRepository(pool *pgxpool.Pool) *ModelUsageRepositoryPG {
	return &ModelUsageRepositoryPG{pool: pool}
}

// IncrementUsage bumps the usage counter for a reusable model reference.
func (r *ModelUsageRepositoryPG) IncrementUsage(ctx context.Context, modelID string) error {
	query := `
INSERT INTO model_usage (model_id, usage_count, last_used_at)
VALUES ($1, 1, now())
ON CONFLICT (model_id)
DO UPDATE SET usage_count = model_usage.usage_count + 1, last_used_at = now();
`
	_, err := r.pool.Exec(ctx, query, modelID)
	return err
}

var _ domain.ModelUsageRepository = (*ModelUsageRepositoryPG)(nil)
