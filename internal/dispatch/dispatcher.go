package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/telephony"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"
)

var (
	ErrInvalidArgument  = errors.New("dispatch: invalid argument")
	ErrConcurrencyLimit = errors.New("dispatch: organization concurrent call limit reached")
)

// Request places an outbound call from an agent to PhoneNumber. The provider
// rings AgentEndpoint first (a number, or the agent's browser client when
// empty) and bridges to PhoneNumber once answered.
type Request struct {
	OrganizationID string
	UserID         string
	ContactID      string
	PhoneNumber    string
	AgentEndpoint  string
}

func (r Request) validate() error {
	var errs []error
	if strings.TrimSpace(r.OrganizationID) == "" {
		errs = append(errs, errors.New("organization id required"))
	}
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, errors.New("user id required"))
	}
	if strings.TrimSpace(r.PhoneNumber) == "" {
		errs = append(errs, errors.New("phone number required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

func (r Request) firstLeg() string {
	if ep := strings.TrimSpace(r.AgentEndpoint); ep != "" {
		return ep
	}
	return "client:" + r.UserID
}

type Dispatcher struct {
	calls    *calls.Service
	provider telephony.Provider
	tokens   *telephony.CallTokens
	urls     telephony.CallbackURLs
	slots    SlotLimiter
	callerID string
}

func NewDispatcher(
	callSvc *calls.Service,
	provider telephony.Provider,
	tokens *telephony.CallTokens,
	urls telephony.CallbackURLs,
	slots SlotLimiter,
	callerID string,
) *Dispatcher {
	return &Dispatcher{
		calls:    callSvc,
		provider: provider,
		tokens:   tokens,
		urls:     urls,
		slots:    slots,
		callerID: callerID,
	}
}

// Dispatch creates the call record and asks the provider to start it. The
// provider request runs without holding any lock. A synchronous rejection
// leaves the call failed and returns the provider error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (calls.Call, error) {
	if err := req.validate(); err != nil {
		return calls.Call{}, err
	}
	log := logger.From(ctx).With("organization_id", req.OrganizationID, "user_id", req.UserID)

	ok, err := d.slots.Acquire(ctx, req.OrganizationID)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return calls.Call{}, fmt.Errorf("acquire dispatch slot: %w", err)
	}
	if !ok {
		metrics.DispatchTotal.WithLabelValues("capped").Inc()
		return calls.Call{}, ErrConcurrencyLimit
	}

	call, err := d.calls.CreateCall(ctx, calls.NewCall{
		Direction:      calls.DirectionOutbound,
		PhoneNumber:    req.PhoneNumber,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		ContactID:      req.ContactID,
	})
	if err != nil {
		d.releaseSlot(ctx, req.OrganizationID)
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return calls.Call{}, err
	}
	log = log.With("call_id", call.ID)

	token, err := d.tokens.Sign(call.ID)
	if err != nil {
		return d.fail(ctx, call, fmt.Errorf("sign call token: %w", err))
	}

	res, err := d.provider.Dial(ctx, telephony.DialRequest{
		CallerID:             d.callerID,
		To:                   req.firstLeg(),
		AnswerURL:            d.urls.Voice(token),
		StatusCallbackURL:    d.urls.Status(token),
		RecordingCallbackURL: d.urls.Recording(token),
	})
	if err != nil {
		log.Warn("provider dial failed", "err", err)
		return d.fail(ctx, call, err)
	}

	call, err = d.calls.Mutate(ctx, call.ID, func(c *calls.Call) (bool, error) {
		changed, err := c.AttachProviderCallID(res.ProviderCallID)
		if err != nil {
			return false, err
		}
		// A status callback may already have moved the call past queued.
		if c.Status == calls.CallStatusQueued {
			moved, err := c.Transition(calls.CallStatusInitiated, time.Now())
			if err != nil {
				return false, err
			}
			changed = changed || moved
		}
		return changed, nil
	})
	if err != nil {
		// The provider is already ringing; callbacks still resolve by token.
		log.Error("attach provider call id failed", "provider_call_id", res.ProviderCallID, "err", err)
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return calls.Call{}, err
	}

	metrics.DispatchTotal.WithLabelValues("initiated").Inc()
	log.Info("call dispatched", "provider_call_id", res.ProviderCallID)
	return call, nil
}

// fail marks a call that never reached the provider as failed and frees its slot.
func (d *Dispatcher) fail(ctx context.Context, call calls.Call, cause error) (calls.Call, error) {
	d.releaseSlot(ctx, call.OrganizationID)
	result := "error"
	if errors.Is(cause, telephony.ErrProviderRejected) {
		result = "rejected"
	}
	metrics.DispatchTotal.WithLabelValues(result).Inc()

	failed, err := d.calls.Transition(ctx, call.ID, calls.CallStatusFailed, time.Now())
	if err != nil {
		logger.From(ctx).Error("mark dispatched call failed", "call_id", call.ID, "err", err)
		return call, cause
	}
	return failed, cause
}

func (d *Dispatcher) releaseSlot(ctx context.Context, organizationID string) {
	if err := d.slots.Release(context.WithoutCancel(ctx), organizationID); err != nil {
		logger.From(ctx).Warn("release dispatch slot failed", "organization_id", organizationID, "err", err)
	}
}

