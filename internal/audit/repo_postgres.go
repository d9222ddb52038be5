package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table has no UPDATE/DELETE grants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, organization_id, type, actor_user_id, actor_role, reference, amount_minor, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,COALESCE(NULLIF($9, '')::jsonb, '{}'::jsonb),$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OrganizationID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.Reference,
		e.AmountMinor,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
