package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callbilling/pkg/utils"
)

// PostgresStore implements Store on the calls table (see migrations/0001_init.sql).
//
// provider_call_id carries a partial unique index. cost_minor and end_time are
// written with COALESCE so a stale writer can never clear or replace them.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `id, organization_id, user_id, contact_id, phone_number, direction,
provider_call_id, status, recording_url, recording_id, duration_seconds, cost_minor,
start_time, end_time, transcription, summary, outcome, notes, billing_error,
version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		providerID sql.NullString
		cost       sql.NullInt64
		start, end sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.OrganizationID,
		&c.UserID,
		&c.ContactID,
		&c.PhoneNumber,
		&c.Direction,
		&providerID,
		&c.Status,
		&c.RecordingURL,
		&c.RecordingID,
		&c.DurationSeconds,
		&cost,
		&start,
		&end,
		&c.Transcription,
		&c.Summary,
		&c.Outcome,
		&c.Notes,
		&c.BillingError,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.ProviderCallID = providerID.String
	if cost.Valid {
		v := cost.Int64
		c.CostMinor = &v
	}
	if start.Valid {
		v := start.Time.UTC()
		c.StartTime = &v
	}
	if end.Valid {
		v := end.Time.UTC()
		c.EndTime = &v
	}
	return c, nil
}

func (p *PostgresStore) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, organization_id, user_id, contact_id, phone_number, direction,
  provider_call_id, status, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := p.db.ExecContext(ctx, q,
		c.ID,
		c.OrganizationID,
		c.UserID,
		c.ContactID,
		c.PhoneNumber,
		c.Direction,
		utils.NullString(c.ProviderCallID),
		c.Status,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrProviderCallIDAlreadySet
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(p.db.QueryRowContext(ctx, q, id))
}

func (p *PostgresStore) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return scanCall(p.db.QueryRowContext(ctx, q, providerCallID))
}

func (p *PostgresStore) FindMostRecentOutbound(ctx context.Context) (Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE direction = 'outbound' AND status IN ('initiated', 'in-progress')
ORDER BY created_at DESC
LIMIT 1`
	return scanCall(p.db.QueryRowContext(ctx, q))
}

func (p *PostgresStore) Update(ctx context.Context, c Call) (Call, error) {
	const q = `
UPDATE calls SET
  provider_call_id = COALESCE(provider_call_id, $3),
  status = $4,
  recording_url = $5,
  recording_id = $6,
  duration_seconds = $7,
  cost_minor = COALESCE(cost_minor, $8),
  start_time = COALESCE(start_time, $9),
  end_time = COALESCE(end_time, $10),
  transcription = $11,
  summary = $12,
  outcome = $13,
  notes = $14,
  billing_error = $15,
  version = version + 1,
  updated_at = $16
WHERE id = $1 AND version = $2
RETURNING version, updated_at
`
	now := p.clock().UTC()
	err := p.db.QueryRowContext(ctx, q,
		c.ID,
		c.Version,
		utils.NullString(c.ProviderCallID),
		c.Status,
		c.RecordingURL,
		c.RecordingID,
		c.DurationSeconds,
		utils.NullInt64(c.CostMinor),
		utils.NullTime(c.StartTime),
		utils.NullTime(c.EndTime),
		c.Transcription,
		c.Summary,
		c.Outcome,
		c.Notes,
		c.BillingError,
		now,
	).Scan(&c.Version, &c.UpdatedAt)
	if err == nil {
		return c, nil
	}
	if utils.IsUniqueViolation(err) {
		return Call{}, ErrProviderCallIDAlreadySet
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Call{}, err
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return Call{}, err
	}
	if !exists {
		return Call{}, ErrNotFound
	}
	return Call{}, fmt.Errorf("%w: call %s at version %d", ErrConcurrencyConflict, c.ID, c.Version)
}

func (p *PostgresStore) ListUnbilled(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + callColumns + `
FROM calls
WHERE status = 'completed' AND duration_seconds > 0 AND cost_minor IS NULL
ORDER BY updated_at ASC
LIMIT $1`
	return p.list(ctx, q, limit)
}

func (p *PostgresStore) ListByOrganization(ctx context.Context, organizationID string, f ListFilter) ([]Call, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + callColumns + `
FROM calls
WHERE organization_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at DESC
LIMIT $4`
	return p.list(ctx, q, organizationID, nullableTime(f.From), nullableTime(f.To), limit)
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
