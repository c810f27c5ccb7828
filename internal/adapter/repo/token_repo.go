package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"genserver/internal/domain"
)

// TokenRepositoryPG stores integration credentials for external providers.
// It backs the fallback lookup used when a provider API key is not supplied
// through the environment.
type TokenRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a token repository backed by PostgreSQL.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepositoryPG {
	return &TokenRepositoryPG{pool: pool}
}

// Token returns the stored credential for a provider, or "" when absent.
func (r *TokenRepositoryPG) Token(ctx context.Context, provider string) (string, error) {
	query := `SELECT token FROM integration_tokens WHERE provider = $1;`
	var token string
	if err := r.pool.QueryRow(ctx, query, provider).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Upsert stores or replaces the credential for a provider.
func (r *TokenRepositoryPG) Upsert(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	query := `
INSERT INTO integration_tokens (provider, token, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (provider)
DO UPDATE SET token = EXCLUDED.token, updated_at = now();
`
	_, err := r.pool.Exec(ctx, query, provider, token)
	return err
}

var _ domain.TokenRepository = (*TokenRepositoryPG)(nil)
