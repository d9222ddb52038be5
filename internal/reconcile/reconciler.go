package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbilling/internal/calls"
	"callbilling/internal/routing"
	"callbilling/internal/telephony"
	"callbilling/pkg/logger"
	"callbilling/pkg/metrics"
)

// SlotReleaser frees an organization's outbound concurrency slot.
type SlotReleaser interface {
	Release(ctx context.Context, organizationID string) error
}

// Router resolves inbound numbers and forward destinations.
type Router interface {
	OrganizationForNumber(ctx context.Context, number string) (string, error)
	Route(ctx context.Context, organizationID string) (routing.Decision, error)
}

// Reconciler applies provider callbacks to call records and bills finished
// calls. Handle never fails: business errors are logged and the provider
// still receives a control response.
type Reconciler struct {
	calls    *calls.Service
	locker   calls.Locker
	biller   *Biller
	tokens   *telephony.CallTokens
	urls     telephony.CallbackURLs
	router   Router
	slots    SlotReleaser
	callerID string
	lockWait time.Duration
}

const defaultLockWait = 500 * time.Millisecond

type Options struct {
	Calls  *calls.Service
	Locker calls.Locker
	Biller *Biller
	Tokens *telephony.CallTokens
	URLs   telephony.CallbackURLs
	// Router is optional; without it inbound calls are not ingested.
	Router Router
	// Slots is optional; without it no concurrency slot is released.
	Slots    SlotReleaser
	CallerID string
	// LockWait bounds how long a delivery waits for the call lock.
	LockWait time.Duration
}

func NewReconciler(o Options) *Reconciler {
	if o.LockWait <= 0 {
		o.LockWait = defaultLockWait
	}
	return &Reconciler{
		calls:    o.Calls,
		locker:   o.Locker,
		biller:   o.Biller,
		tokens:   o.Tokens,
		urls:     o.URLs,
		router:   o.Router,
		slots:    o.Slots,
		callerID: o.CallerID,
		lockWait: o.LockWait,
	}
}

// applied summarizes what one delivery changed.
type applied struct {
	call          calls.Call
	firstTerminal bool
}

func (r *Reconciler) Handle(ctx context.Context, ev telephony.Event) telephony.ControlResponse {
	log := logger.From(ctx).With("event_kind", string(ev.Kind), "provider_call_id", ev.ProviderCallID, "call_status", ev.CallStatus)
	ctx = logger.With(ctx, log)

	status, known := telephony.MapStatus(ev.CallStatus)
	statusLabel := string(status)
	if !known {
		statusLabel = "none"
		if ev.CallStatus != "" {
			statusLabel = "unknown"
			log.Warn("unrecognized provider call status")
		}
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Kind), statusLabel).Inc()

	call, via, err := r.resolve(ctx, ev)
	metrics.CallResolution.WithLabelValues(via).Inc()
	if err != nil {
		log.Warn("webhook not matched to a call", "via", via, "err", err)
		return telephony.BuildControlResponse(telephony.ControlInput{Event: ev})
	}
	log = log.With("call_id", call.ID, "organization_id", call.OrganizationID)
	ctx = logger.With(ctx, log)

	res, err := r.apply(ctx, call.ID, ev, status, known)
	if err != nil {
		log.Error("webhook apply failed", "err", err)
		c := call
		return r.control(ctx, &c, ev)
	}

	if res.firstTerminal && res.call.Direction == calls.DirectionOutbound && r.slots != nil {
		if err := r.slots.Release(context.WithoutCancel(ctx), res.call.OrganizationID); err != nil {
			log.Warn("release dispatch slot failed", "err", err)
		}
	}
	return r.control(ctx, &res.call, ev)
}

// resolve finds the call for ev: signed call token, then provider call id,
// then inbound ingestion, and only when no correlation id is present the
// most recent active outbound call.
func (r *Reconciler) resolve(ctx context.Context, ev telephony.Event) (calls.Call, string, error) {
	log := logger.From(ctx)

	if ev.CallToken != "" && r.tokens != nil {
		id, err := r.tokens.Verify(ev.CallToken)
		if err == nil {
			c, err := r.calls.Get(ctx, id)
			if err == nil {
				return c, "token", nil
			}
			log.Warn("call token references missing call", "call_id", id, "err", err)
		} else {
			log.Warn("call token rejected", "err", err)
		}
	}

	if ev.ProviderCallID != "" {
		c, err := r.calls.FindByProviderCallID(ctx, ev.ProviderCallID)
		if err == nil {
			return c, "provider_id", nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, "unresolved", err
		}
		if ev.Inbound() && ev.Kind != telephony.EventRecording {
			return r.ingestInbound(ctx, ev)
		}
		return calls.Call{}, "unresolved", err
	}

	if ev.CallToken != "" {
		return calls.Call{}, "unresolved", calls.ErrNotFound
	}

	c, err := r.calls.FindMostRecentOutbound(ctx)
	if err != nil {
		return calls.Call{}, "unresolved", err
	}
	log.Warn("webhook without correlation id matched to most recent outbound call", "call_id", c.ID)
	return c, "most_recent", nil
}

func (r *Reconciler) ingestInbound(ctx context.Context, ev telephony.Event) (calls.Call, string, error) {
	if r.router == nil {
		return calls.Call{}, "unresolved", calls.ErrNotFound
	}
	orgID, err := r.router.OrganizationForNumber(ctx, ev.To)
	if err != nil {
		return calls.Call{}, "unresolved", err
	}

	c, err := r.calls.CreateCall(ctx, calls.NewCall{
		Direction:      calls.DirectionInbound,
		PhoneNumber:    ev.From,
		OrganizationID: orgID,
		ProviderCallID: ev.ProviderCallID,
	})
	if errors.Is(err, calls.ErrProviderCallIDAlreadySet) {
		// A concurrent delivery for the same call won the insert.
		c, err = r.calls.FindByProviderCallID(ctx, ev.ProviderCallID)
		if err != nil {
			return calls.Call{}, "unresolved", err
		}
		return c, "provider_id", nil
	}
	if err != nil {
		return calls.Call{}, "unresolved", err
	}
	return c, "inbound_created", nil
}

// apply runs under the call lock: status transition, idempotent field
// updates, then billing through the shared Biller.
func (r *Reconciler) apply(ctx context.Context, callID string, ev telephony.Event, status calls.CallStatus, hasStatus bool) (applied, error) {
	// A delivery that got this far is applied even if the provider hangs up.
	ctx = context.WithoutCancel(ctx)
	lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	unlock, err := r.locker.Lock(lockCtx, callID)
	cancel()
	if err != nil {
		return applied{}, fmt.Errorf("lock call %s: %w", callID, err)
	}
	defer unlock()

	log := logger.From(ctx)
	var res applied
	call, err := r.calls.Mutate(ctx, callID, func(c *calls.Call) (bool, error) {
		res.firstTerminal = false
		changed := false

		if ev.ProviderCallID != "" {
			attached, err := c.AttachProviderCallID(ev.ProviderCallID)
			if err != nil {
				log.Warn("provider call id mismatch", "stored", c.ProviderCallID, "err", err)
			}
			changed = changed || attached
		}

		if hasStatus {
			wasTerminal := c.Status.IsTerminal()
			moved, err := c.Transition(status, ev.OccurredAt)
			switch {
			case errors.Is(err, calls.ErrInvalidTransition):
				log.Info("status transition ignored", "from", c.Status, "to", status)
			case err != nil:
				return false, err
			}
			if moved && !wasTerminal && c.Status.IsTerminal() {
				res.firstTerminal = true
			}
			changed = changed || moved
		}

		if c.ApplyRecording(ev.RecordingURL, ev.RecordingID) {
			changed = true
		}
		if c.ApplyDuration(ev.DurationSeconds) {
			changed = true
		}
		if c.MarkEnded(ev.OccurredAt) {
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return applied{}, err
	}
	if res.firstTerminal {
		log.Info("call reached terminal status", "status", call.Status, "duration_seconds", call.DurationSeconds)
	}

	if call.NeedsBilling() {
		billed, err := r.biller.Bill(ctx, call)
		if err != nil {
			log.Warn("call billing failed; sweeper will retry", "err", err)
		}
		call = billed
	}
	res.call = call
	return res, nil
}

// control builds the provider response for the resolved call.
func (r *Reconciler) control(ctx context.Context, call *calls.Call, ev telephony.Event) telephony.ControlResponse {
	in := telephony.ControlInput{Call: call, Event: ev}
	if ev.Kind != telephony.EventVoice || call == nil {
		return telephony.BuildControlResponse(in)
	}
	log := logger.From(ctx)

	switch call.Direction {
	case calls.DirectionOutbound:
		in.Destination = call.PhoneNumber
		in.CallerID = r.callerID
	case calls.DirectionInbound:
		if r.router != nil {
			d, err := r.router.Route(ctx, call.OrganizationID)
			if err != nil {
				log.Error("inbound routing failed", "err", err)
			} else if d.Action == routing.ActionConnect {
				in.Destination = d.ConnectTo
			} else {
				log.Info("inbound call not routed", "reason", d.Reason)
			}
		}
	}

	if r.tokens != nil {
		tok, err := r.tokens.Sign(call.ID)
		if err != nil {
			log.Error("sign call token failed", "err", err)
		} else {
			in.RecordingCallbackURL = r.urls.Recording(tok)
		}
	}
	return telephony.BuildControlResponse(in)
}
