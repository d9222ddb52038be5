package credits

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepository uses organization_ai_credits(organization_id PK, credits CHECK >= 0).
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Available(ctx context.Context, organizationID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT credits FROM organization_ai_credits WHERE organization_id = $1`,
		organizationID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (r *PostgresRepository) SpendIfAvailable(ctx context.Context, organizationID string, n int64) (int64, bool, error) {
	const q = `
UPDATE organization_ai_credits
SET credits = credits - $2, updated_at = now()
WHERE organization_id = $1 AND credits >= $2
RETURNING credits
`
	var remaining int64
	err := r.db.QueryRowContext(ctx, q, organizationID, n).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	cur, err := r.Available(ctx, organizationID)
	if err != nil {
		return 0, false, err
	}
	return cur, false, nil
}

func (r *PostgresRepository) Grant(ctx context.Context, organizationID string, n int64) (int64, error) {
	const q = `
INSERT INTO organization_ai_credits (organization_id, credits, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (organization_id)
DO UPDATE SET credits = organization_ai_credits.credits + EXCLUDED.credits,
              updated_at = EXCLUDED.updated_at
RETURNING credits
`
	var total int64
	err := r.db.QueryRowContext(ctx, q, organizationID, n).Scan(&total)
	return total, err
}
