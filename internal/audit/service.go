package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit events.
// Callers treat audit logging as best-effort: a failed append never rolls back money.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.OrganizationID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogLedger records a wallet or AI-credit mutation with its triggering reference.
func (s *Service) LogLedger(ctx context.Context, organizationID string, typ EventType, reference string, amountMinor int64, message string) error {
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		Type:           typ,
		Reference:      reference,
		AmountMinor:    amountMinor,
		Message:        message,
	})
}

// LogAdminAction records a privileged manual action.
func (s *Service) LogAdminAction(ctx context.Context, organizationID, actorUserID, actorRole, reference, message, metadata string) error {
	return s.Append(ctx, Event{
		OrganizationID: organizationID,
		Type:           EventTypeAdminAction,
		ActorUserID:    actorUserID,
		ActorRole:      actorRole,
		Reference:      reference,
		Message:        message,
		Metadata:       metadata,
	})
}
