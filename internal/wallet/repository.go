package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callbilling/pkg/utils"
)

// Repository persists wallets and their ledger.
//
// Post appends entry under a per-organization lock. Inside the lock it rejects a
// second entry with the same (type, reference) with ErrDuplicateReference (returning
// the existing entry), then calls check with the current balance, then appends the
// entry and moves the balance. Nothing else runs inside the lock.
type Repository interface {
	Create(ctx context.Context, w Wallet) error
	GetBalance(ctx context.Context, organizationID string) (Balance, error)
	Post(ctx context.Context, entry Transaction, check func(Balance) error) (Transaction, Balance, error)
	Transactions(ctx context.Context, organizationID string, limit int) ([]Transaction, error)
}

// PostgresRepository expects the wallets and wallet_transactions tables, with
// UNIQUE (organization_id, type, reference) on wallet_transactions.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, w Wallet) error {
	const q = `
INSERT INTO wallets (organization_id, currency, balance_minor, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
`
	_, err := r.db.ExecContext(ctx, q, w.OrganizationID, w.Currency, w.BalanceMinor, w.CreatedAt, w.UpdatedAt)
	if utils.IsUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

func (r *PostgresRepository) GetBalance(ctx context.Context, organizationID string) (Balance, error) {
	const q = `
SELECT organization_id, currency, balance_minor, updated_at
FROM wallets
WHERE organization_id = $1
`
	return scanBalance(r.db.QueryRowContext(ctx, q, organizationID))
}

func (r *PostgresRepository) Post(ctx context.Context, entry Transaction, check func(Balance) error) (Transaction, Balance, error) {
	var (
		out    Transaction
		outBal Balance
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serializes money operations per organization.
		bal, err := lockWallet(ctx, tx, entry.OrganizationID)
		if err != nil {
			return err
		}

		if existing, ok, err := findByReference(ctx, tx, entry.OrganizationID, entry.Type, entry.Reference); err != nil {
			return err
		} else if ok {
			out = existing
			outBal = bal
			return ErrDuplicateReference
		}

		if check != nil {
			if err := check(bal); err != nil {
				return err
			}
		}

		nb, err := applyDelta(ctx, tx, entry.OrganizationID, entry.Type.delta(entry.AmountMinor), entry.CreatedAt)
		if err != nil {
			return err
		}
		entry.BalanceAfterMinor = nb.BalanceMinor
		if err := insertTransaction(ctx, tx, entry); err != nil {
			if utils.IsUniqueViolation(err) {
				return ErrDuplicateReference
			}
			return err
		}
		out = entry
		outBal = nb
		return nil
	})
	return out, outBal, err
}

func (r *PostgresRepository) Transactions(ctx context.Context, organizationID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, organization_id, type, amount_minor, description, reference, balance_after_minor, created_at
FROM wallet_transactions
WHERE organization_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.OrganizationID,
			&t.Type,
			&t.AmountMinor,
			&t.Description,
			&t.Reference,
			&t.BalanceAfterMinor,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (Balance, error) {
	var b Balance
	if err := row.Scan(&b.OrganizationID, &b.Currency, &b.BalanceMinor, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func lockWallet(ctx context.Context, tx *sql.Tx, organizationID string) (Balance, error) {
	const q = `
SELECT organization_id, currency, balance_minor, updated_at
FROM wallets
WHERE organization_id = $1
FOR UPDATE
`
	return scanBalance(tx.QueryRowContext(ctx, q, organizationID))
}

func findByReference(ctx context.Context, tx *sql.Tx, organizationID string, typ TransactionType, reference string) (Transaction, bool, error) {
	const q = `
SELECT id, organization_id, type, amount_minor, description, reference, balance_after_minor, created_at
FROM wallet_transactions
WHERE organization_id = $1 AND type = $2 AND reference = $3
LIMIT 1
`
	var t Transaction
	err := tx.QueryRowContext(ctx, q, organizationID, typ, reference).Scan(
		&t.ID,
		&t.OrganizationID,
		&t.Type,
		&t.AmountMinor,
		&t.Description,
		&t.Reference,
		&t.BalanceAfterMinor,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

func applyDelta(ctx context.Context, tx *sql.Tx, organizationID string, deltaMinor int64, now time.Time) (Balance, error) {
	const q = `
UPDATE wallets
SET balance_minor = balance_minor + $2, updated_at = $3
WHERE organization_id = $1
RETURNING organization_id, currency, balance_minor, updated_at
`
	return scanBalance(tx.QueryRowContext(ctx, q, organizationID, deltaMinor, now))
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
INSERT INTO wallet_transactions (
  id, organization_id, type, amount_minor, description, reference, balance_after_minor, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID,
		t.OrganizationID,
		t.Type,
		t.AmountMinor,
		t.Description,
		t.Reference,
		t.BalanceAfterMinor,
		t.CreatedAt,
	)
	return err
}
