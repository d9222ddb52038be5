package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbilling/pkg/logger"

	"github.com/google/uuid"
)

const maxConflictRetries = 5

// Service owns the call record lifecycle on top of a Store.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// CreateCall persists a new record: queued for outbound calls, ringing for inbound.
func (s *Service) CreateCall(ctx context.Context, in NewCall) (Call, error) {
	if err := in.validate(); err != nil {
		return Call{}, err
	}

	now := s.clock().UTC()
	c := Call{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		ContactID:      in.ContactID,
		PhoneNumber:    in.PhoneNumber,
		Direction:      in.Direction,
		ProviderCallID: in.ProviderCallID,
		Status:         CallStatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Direction == DirectionInbound {
		c.Status = CallStatusRinging
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return Call{}, err
	}

	logger.From(ctx).Info("call created",
		"call_id", c.ID,
		"organization_id", c.OrganizationID,
		"direction", c.Direction,
	)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	if id == "" {
		return Call{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, id)
}

func (s *Service) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	if providerCallID == "" {
		return Call{}, ErrInvalidArgument
	}
	return s.store.FindByProviderCallID(ctx, providerCallID)
}

func (s *Service) FindMostRecentOutbound(ctx context.Context) (Call, error) {
	return s.store.FindMostRecentOutbound(ctx)
}

// AttachProviderCallID sets the provider id exactly once.
func (s *Service) AttachProviderCallID(ctx context.Context, id, providerCallID string) (Call, error) {
	return s.Mutate(ctx, id, func(c *Call) (bool, error) {
		return c.AttachProviderCallID(providerCallID)
	})
}

// Transition validates and applies a status change. A repeated terminal
// status returns the unchanged call and no error.
func (s *Service) Transition(ctx context.Context, id string, to CallStatus, occurredAt time.Time) (Call, error) {
	return s.Mutate(ctx, id, func(c *Call) (bool, error) {
		return c.Transition(to, occurredAt)
	})
}

// Update writes c if its version still matches the stored one.
func (s *Service) Update(ctx context.Context, c Call) (Call, error) {
	return s.store.Update(ctx, c)
}

// Mutate applies fn to a fresh copy of the call and writes it back, re-reading
// and re-applying on version conflicts. fn reports whether it changed anything;
// unchanged calls are not written.
func (s *Service) Mutate(ctx context.Context, id string, fn func(*Call) (bool, error)) (Call, error) {
	if id == "" {
		return Call{}, ErrInvalidArgument
	}
	for attempt := 0; ; attempt++ {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return Call{}, err
		}
		changed, err := fn(&c)
		if err != nil {
			return c, err
		}
		if !changed {
			return c, nil
		}
		out, err := s.store.Update(ctx, c)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt+1 >= maxConflictRetries {
			return Call{}, err
		}
		if err := ctx.Err(); err != nil {
			return Call{}, fmt.Errorf("mutate call %s: %w", id, err)
		}
	}
}

func (s *Service) ListUnbilled(ctx context.Context, limit int) ([]Call, error) {
	return s.store.ListUnbilled(ctx, limit)
}

func (s *Service) ListByOrganization(ctx context.Context, organizationID string, f ListFilter) ([]Call, error) {
	if organizationID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListByOrganization(ctx, organizationID, f)
}
