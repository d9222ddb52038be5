package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindMinutePricing(ctx context.Context, organizationID string, direction CallDirection, at time.Time) (MinutePricing, bool, error) {
	const q = `
SELECT id, organization_id, direction, rate_per_minute_minor, effective_from, effective_to, status, created_at, updated_at
FROM minute_pricing
WHERE organization_id = $1
  AND direction = $2
  AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var (
		p  MinutePricing
		to sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, organizationID, direction, at).Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Direction,
		&p.RatePerMinuteMinor,
		&p.EffectiveFrom,
		&to,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MinutePricing{}, false, nil
		}
		return MinutePricing{}, false, err
	}
	if to.Valid {
		v := to.Time
		p.EffectiveTo = &v
	}
	return p, true, nil
}
