package wallet

import (
	"errors"
	"time"
)

// Wallet is the prepaid balance of one organization (1:1).
//
// Money invariant: balance == initial balance + Σcredits − Σdebits. The balance
// column is only ever changed in the same transaction that appends a Transaction.
type Wallet struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Currency       string    `json:"currency" db:"currency"`
	BalanceMinor   int64     `json:"balance_minor" db:"balance_minor"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger entry. AmountMinor is always positive; Type gives the sign.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Type           TransactionType `json:"type" db:"type"`
	AmountMinor    int64           `json:"amount_minor" db:"amount_minor"`
	Description    string          `json:"description,omitempty" db:"description"`

	// Reference is the idempotency key: call id for debits, payment/admin key for credits.
	Reference string `json:"reference" db:"reference"`

	BalanceAfterMinor int64     `json:"balance_after_minor" db:"balance_after_minor"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)

func (t TransactionType) delta(amount int64) int64 {
	if t == TransactionTypeDebit {
		return -amount
	}
	return amount
}

type Balance struct {
	OrganizationID string    `json:"organization_id"`
	Currency       string    `json:"currency"`
	BalanceMinor   int64     `json:"balance_minor"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OverdraftPolicy decides whether a debit may take the balance below zero.
type OverdraftPolicy string

const (
	OverdraftAllow  OverdraftPolicy = "allow"
	OverdraftReject OverdraftPolicy = "reject"
)

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateReference means a transaction of the same type already exists for the reference.
	ErrDuplicateReference = errors.New("duplicate transaction reference")
	ErrWalletExists       = errors.New("wallet already exists")
)
