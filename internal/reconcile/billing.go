package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/pricing"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"
)

// ErrBillingDeferred wraps a failed debit; the call stays unbilled with its
// BillingError set until the sweeper retries it.
var ErrBillingDeferred = errors.New("reconcile: billing deferred")

type Pricer interface {
	CalculateCallCost(ctx context.Context, req pricing.CallCostRequest) (pricing.CallCost, error)
}

type Ledger interface {
	Debit(ctx context.Context, organizationID string, amountMinor int64, reference, description string) (wallet.Transaction, error)
}

// Biller charges a finished call exactly once. Callers hold the call's lock;
// the wallet's per-reference uniqueness backs that up across processes.
type Biller struct {
	calls  *calls.Service
	pricer Pricer
	ledger Ledger
	now    func() time.Time
}

func NewBiller(callSvc *calls.Service, pricer Pricer, ledger Ledger) *Biller {
	return &Biller{calls: callSvc, pricer: pricer, ledger: ledger, now: time.Now}
}

// Bill debits the organization for call and stamps the cost. Calls that are
// not billable terminal, have no duration or already carry a cost are
// returned unchanged.
func (b *Biller) Bill(ctx context.Context, call calls.Call) (calls.Call, error) {
	if !call.NeedsBilling() {
		return call, nil
	}
	log := logger.From(ctx).With("call_id", call.ID, "organization_id", call.OrganizationID)

	at := b.now().UTC()
	if call.EndTime != nil {
		at = *call.EndTime
	}
	cost, err := b.pricer.CalculateCallCost(ctx, pricing.CallCostRequest{
		OrganizationID:  call.OrganizationID,
		Direction:       pricing.CallDirection(call.Direction),
		DurationSeconds: call.DurationSeconds,
		At:              at,
	})
	if err != nil {
		return b.deferBilling(ctx, call, fmt.Errorf("price call: %w", err))
	}

	desc := fmt.Sprintf("%s call, %ds at %d/min", call.Direction, call.DurationSeconds, cost.RatePerMinuteMinor)
	tx, err := b.ledger.Debit(ctx, call.OrganizationID, cost.TotalMinor, call.ID, desc)
	charged := cost.TotalMinor
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrDuplicateReference):
		// Already debited by an earlier attempt that failed to stamp the cost.
		if tx.AmountMinor > 0 {
			charged = tx.AmountMinor
		}
		log.Info("call debit already recorded", "amount_minor", charged)
	default:
		return b.deferBilling(ctx, call, err)
	}

	updated, err := b.calls.Mutate(ctx, call.ID, func(c *calls.Call) (bool, error) {
		return c.SetCost(charged), nil
	})
	if err != nil {
		// The ledger holds the debit; the next attempt stamps it via ErrDuplicateReference.
		return call, fmt.Errorf("stamp call cost: %w", err)
	}
	log.Info("call billed", "amount_minor", charged, "rate_per_minute_minor", cost.RatePerMinuteMinor, "rate_source", cost.Source)
	return updated, nil
}

func (b *Biller) deferBilling(ctx context.Context, call calls.Call, cause error) (calls.Call, error) {
	logger.From(ctx).Warn("call billing deferred", "call_id", call.ID, "organization_id", call.OrganizationID, "err", cause)

	msg := cause.Error()
	updated, err := b.calls.Mutate(ctx, call.ID, func(c *calls.Call) (bool, error) {
		if c.BillingError == msg || c.Billed() {
			return false, nil
		}
		c.BillingError = msg
		return true, nil
	})
	if err != nil {
		logger.From(ctx).Error("record billing error failed", "call_id", call.ID, "err", err)
		updated = call
	}
	return updated, fmt.Errorf("%w: %w", ErrBillingDeferred, cause)
}
