package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callbilling/internal/calls"
	"callbilling/pkg/logger"
)

var ErrInvalidForm = errors.New("telephony: invalid webhook form")

type EventKind string

const (
	EventVoice     EventKind = "voice"
	EventStatus    EventKind = "status"
	EventRecording EventKind = "recording"
)

// Event is a provider callback normalized to the fields reconciliation uses.
// Twilio posts application/x-www-form-urlencoded bodies.
type Event struct {
	Kind EventKind

	ProviderCallID string
	// CallStatus is the raw provider status; see MapStatus.
	CallStatus string
	Direction  string
	From       string
	To         string

	RecordingURL    string
	RecordingID     string
	DurationSeconds int

	// CallToken comes from the callback URL, not the form body.
	CallToken string

	OccurredAt time.Time
}

// Inbound reports whether the provider flagged the call as inbound.
// Twilio uses "inbound", "outbound-api" and "outbound-dial".
func (e Event) Inbound() bool {
	return strings.EqualFold(e.Direction, "inbound")
}

// ParseTwilioCallback reads a webhook request. ProviderCallSid is accepted as
// an alias of CallSid. now is used when the body carries no Timestamp.
// A malformed CallDuration is logged and dropped; only an unreadable form fails.
func ParseTwilioCallback(r *http.Request, kind EventKind, now time.Time) (Event, error) {
	if err := r.ParseForm(); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	form := r.PostForm

	ev := Event{
		Kind:           kind,
		ProviderCallID: strings.TrimSpace(form.Get("CallSid")),
		CallStatus:     strings.ToLower(strings.TrimSpace(form.Get("CallStatus"))),
		Direction:      strings.TrimSpace(form.Get("Direction")),
		From:           strings.TrimSpace(form.Get("From")),
		To:             strings.TrimSpace(form.Get("To")),
		RecordingURL:   strings.TrimSpace(form.Get("RecordingUrl")),
		RecordingID:    strings.TrimSpace(form.Get("RecordingSid")),
		CallToken:      r.URL.Query().Get(CallTokenParam),
		OccurredAt:     now.UTC(),
	}
	if ev.ProviderCallID == "" {
		ev.ProviderCallID = strings.TrimSpace(form.Get("ProviderCallSid"))
	}

	if raw := strings.TrimSpace(form.Get("CallDuration")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			logger.From(r.Context()).Warn("ignoring malformed CallDuration", "provider_call_id", ev.ProviderCallID, "call_duration", raw)
		} else {
			ev.DurationSeconds = n
		}
	}

	if raw := strings.TrimSpace(form.Get("Timestamp")); raw != "" {
		if ts, err := time.Parse(time.RFC1123Z, raw); err == nil {
			ev.OccurredAt = ts.UTC()
		}
	}
	return ev, nil
}

// MapStatus maps the provider status vocabulary onto calls.CallStatus.
// "answered" is reported by Twilio for the answered progress event.
func MapStatus(raw string) (calls.CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return calls.CallStatusQueued, true
	case "initiated":
		return calls.CallStatusInitiated, true
	case "ringing":
		return calls.CallStatusRinging, true
	case "in-progress", "answered":
		return calls.CallStatusInProgress, true
	case "completed":
		return calls.CallStatusCompleted, true
	case "busy":
		return calls.CallStatusBusy, true
	case "no-answer":
		return calls.CallStatusNoAnswer, true
	case "canceled":
		return calls.CallStatusCanceled, true
	case "failed":
		return calls.CallStatusFailed, true
	default:
		return "", false
	}
}
