package credits

import (
	"context"
	"errors"
	"fmt"

	"callbilling/internal/audit"
	"callbilling/pkg/logger"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientCredits matches any *InsufficientCreditsError via errors.Is.
	ErrInsufficientCredits = errors.New("insufficient ai credits")
)

// InsufficientCreditsError carries the counts callers surface to clients.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient ai credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Repository stores the per-organization AI credit counter.
type Repository interface {
	Available(ctx context.Context, organizationID string) (int64, error)
	// SpendIfAvailable decrements by n only if the counter is >= n, atomically.
	// ok is false (with the current value) when the counter is too low.
	SpendIfAvailable(ctx context.Context, organizationID string, n int64) (remaining int64, ok bool, err error)
	Grant(ctx context.Context, organizationID string, n int64) (int64, error)
}

type AuditLogger interface {
	LogLedger(ctx context.Context, organizationID string, typ audit.EventType, reference string, amountMinor int64, message string) error
}

// Gate is the check-then-spend AI credit quota. It is independent of the wallet.
type Gate struct {
	repo  Repository
	audit AuditLogger
}

func NewGate(repo Repository, a AuditLogger) *Gate {
	return &Gate{repo: repo, audit: a}
}

// Available returns the organization's credits. Unknown organizations have zero.
func (g *Gate) Available(ctx context.Context, organizationID string) (int64, error) {
	if organizationID == "" {
		return 0, ErrInvalidArgument
	}
	return g.repo.Available(ctx, organizationID)
}

// Check fails with *InsufficientCreditsError when fewer than required credits remain.
func (g *Gate) Check(ctx context.Context, organizationID string, required int64) (int64, error) {
	avail, err := g.Available(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	if avail < required {
		return avail, &InsufficientCreditsError{Required: required, Available: avail}
	}
	return avail, nil
}

// Spend atomically deducts n credits. Zero is a no-op returning the current balance.
func (g *Gate) Spend(ctx context.Context, organizationID string, n int64, reference string) (int64, error) {
	if organizationID == "" || n < 0 {
		return 0, ErrInvalidArgument
	}
	if n == 0 {
		return g.repo.Available(ctx, organizationID)
	}

	remaining, ok, err := g.repo.SpendIfAvailable(ctx, organizationID, n)
	if err != nil {
		return 0, err
	}
	if !ok {
		return remaining, &InsufficientCreditsError{Required: n, Available: remaining}
	}

	logger.From(ctx).Info("ai credits spent",
		"organization_id", organizationID,
		"reference", reference,
		"credits", n,
		"remaining", remaining,
	)
	g.logAudit(ctx, organizationID, audit.EventTypeAICreditSpend, reference, n)
	return remaining, nil
}

// Grant adds n credits (admin top-up).
func (g *Gate) Grant(ctx context.Context, organizationID string, n int64, reference string) (int64, error) {
	if organizationID == "" || n <= 0 {
		return 0, ErrInvalidArgument
	}
	total, err := g.repo.Grant(ctx, organizationID, n)
	if err != nil {
		return 0, err
	}
	logger.From(ctx).Info("ai credits granted",
		"organization_id", organizationID,
		"reference", reference,
		"credits", n,
		"total", total,
	)
	g.logAudit(ctx, organizationID, audit.EventTypeAICreditGrant, reference, n)
	return total, nil
}

func (g *Gate) logAudit(ctx context.Context, organizationID string, typ audit.EventType, reference string, n int64) {
	if g.audit == nil {
		return
	}
	if err := g.audit.LogLedger(ctx, organizationID, typ, reference, n, ""); err != nil {
		logger.From(ctx).Warn("audit append failed", "error", err)
	}
}
