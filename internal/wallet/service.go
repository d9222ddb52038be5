package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbilling/internal/audit"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"

	"github.com/google/uuid"
)

// AuditLogger receives one event per committed ledger mutation.
type AuditLogger interface {
	LogLedger(ctx context.Context, organizationID string, typ audit.EventType, reference string, amountMinor int64, message string) error
}

// Service provides wallet operations.
//
// Money invariants:
// - No balance change without a ledger entry, in the same atomic unit
// - Ledger is append-only
// - At most one debit and one credit per reference
// - Operations are serialized per organization, never globally
type Service struct {
	repo     Repository
	policy   OverdraftPolicy
	currency string
	audit    AuditLogger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Option func(*Service)

func WithOverdraftPolicy(p OverdraftPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

func WithAudit(a AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, policy: OverdraftAllow, currency: "USD", clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Policy() OverdraftPolicy { return s.policy }

// OpenWallet creates the organization's wallet with an initial balance.
func (s *Service) OpenWallet(ctx context.Context, organizationID string, initialBalanceMinor int64) (Balance, error) {
	if organizationID == "" || initialBalanceMinor < 0 {
		return Balance{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	w := Wallet{
		OrganizationID: organizationID,
		Currency:       s.currency,
		BalanceMinor:   initialBalanceMinor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return Balance{}, err
	}
	logger.From(ctx).Info("wallet opened",
		"organization_id", organizationID,
		"balance_minor", initialBalanceMinor,
	)
	return Balance{OrganizationID: organizationID, Currency: w.Currency, BalanceMinor: initialBalanceMinor, UpdatedAt: now}, nil
}

func (s *Service) GetBalance(ctx context.Context, organizationID string) (Balance, error) {
	if organizationID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.repo.GetBalance(ctx, organizationID)
}

func (s *Service) Transactions(ctx context.Context, organizationID string, limit int) ([]Transaction, error) {
	if organizationID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.Transactions(ctx, organizationID, limit)
}

// Debit charges amountMinor against reference (the call id). A second debit for
// the same reference fails with ErrDuplicateReference and returns the original
// transaction. ErrInsufficientFunds is only possible under OverdraftReject.
func (s *Service) Debit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (Transaction, error) {
	var check func(Balance) error
	if s.policy == OverdraftReject {
		check = func(b Balance) error {
			if b.BalanceMinor < amountMinor {
				return fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, b.BalanceMinor, amountMinor)
			}
			return nil
		}
	}
	return s.post(ctx, TransactionTypeDebit, organizationID, amountMinor, reference, description, check)
}

// Credit adds amountMinor to the wallet, at most once per reference.
func (s *Service) Credit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (Transaction, error) {
	return s.post(ctx, TransactionTypeCredit, organizationID, amountMinor, reference, description, nil)
}

func (s *Service) post(ctx context.Context, typ TransactionType, organizationID string, amountMinor int64, reference, description string, check func(Balance) error) (Transaction, error) {
	if organizationID == "" || reference == "" || amountMinor <= 0 {
		return Transaction{}, ErrInvalidArgument
	}

	entry := Transaction{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Type:           typ,
		AmountMinor:    amountMinor,
		Description:    description,
		Reference:      reference,
		CreatedAt:      s.clock().UTC(),
	}

	log := logger.From(ctx).With(
		"organization_id", organizationID,
		"type", string(typ),
		"reference", reference,
		"amount_minor", amountMinor,
	)

	out, bal, err := s.repo.Post(ctx, entry, check)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateReference):
		metrics.LedgerMutations.WithLabelValues(string(typ), "duplicate").Inc()
		log.Info("ledger mutation already applied", "transaction_id", out.ID)
		return out, err
	case errors.Is(err, ErrInsufficientFunds):
		metrics.LedgerMutations.WithLabelValues(string(typ), "insufficient").Inc()
		log.Warn("ledger mutation rejected", "error", err)
		return Transaction{}, err
	default:
		metrics.LedgerMutations.WithLabelValues(string(typ), "error").Inc()
		log.Error("ledger mutation failed", "error", err)
		return Transaction{}, err
	}

	metrics.LedgerMutations.WithLabelValues(string(typ), "ok").Inc()
	metrics.LedgerAmountMinor.WithLabelValues(string(typ)).Add(float64(amountMinor))
	log.Info("ledger mutation committed",
		"transaction_id", out.ID,
		"balance_after_minor", bal.BalanceMinor,
	)

	if s.audit != nil {
		evType := audit.EventTypeWalletDebit
		if typ == TransactionTypeCredit {
			evType = audit.EventTypeWalletCredit
		}
		if err := s.audit.LogLedger(ctx, organizationID, evType, reference, amountMinor, description); err != nil {
			log.Warn("audit append failed", "error", err)
		}
	}
	return out, nil
}
