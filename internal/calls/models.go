package calls

import (
	"fmt"
	"time"
)

// Call is the canonical record of one telephony call and its billing outcome.
//
// Write-once fields: ProviderCallID, CostMinor and EndTime. Status only moves
// forward through the adjacency list in transitions.go. Records are never deleted.
type Call struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	UserID         string `json:"user_id,omitempty" db:"user_id"`
	ContactID      string `json:"contact_id,omitempty" db:"contact_id"`

	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Direction   Direction `json:"direction" db:"direction"`

	// ProviderCallID is the voice provider's call id (Twilio CallSid).
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status CallStatus `json:"status" db:"status"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	RecordingID  string `json:"recording_id,omitempty" db:"recording_id"`

	// DurationSeconds is the provider-reported call duration.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	// CostMinor is nil until the wallet debit for this call is confirmed.
	CostMinor *int64 `json:"cost_minor,omitempty" db:"cost_minor"`

	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	Transcription string `json:"transcription,omitempty" db:"transcription"`
	Summary       string `json:"summary,omitempty" db:"summary"`
	Outcome       string `json:"outcome,omitempty" db:"outcome"`
	Notes         string `json:"notes,omitempty" db:"notes"`

	// BillingError holds the last deferred-billing failure for operators.
	BillingError string `json:"billing_error,omitempty" db:"billing_error"`

	// Version is bumped on every successful Update (optimistic concurrency).
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusCanceled   CallStatus = "canceled"
	CallStatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusBusy, CallStatusNoAnswer, CallStatusCanceled, CallStatusFailed:
		return true
	default:
		return false
	}
}

// IsBillable reports whether reaching s charges the organization's wallet.
func (s CallStatus) IsBillable() bool {
	return s == CallStatusCompleted
}

func (s CallStatus) Valid() bool {
	_, ok := adjacency[s]
	return ok
}

// NewCall is the input for creating a call record.
type NewCall struct {
	Direction      Direction
	PhoneNumber    string
	OrganizationID string
	UserID         string
	ContactID      string
	// ProviderCallID may be set for inbound calls, whose id is known at ingestion.
	ProviderCallID string
}

func (n NewCall) validate() error {
	if !n.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidArgument, n.Direction)
	}
	if n.PhoneNumber == "" {
		return fmt.Errorf("%w: phone number required", ErrInvalidArgument)
	}
	if n.OrganizationID == "" {
		return fmt.Errorf("%w: organization id required", ErrInvalidArgument)
	}
	if n.Direction == DirectionOutbound && n.ProviderCallID != "" {
		return fmt.Errorf("%w: outbound calls get a provider id at dispatch", ErrInvalidArgument)
	}
	return nil
}

// Billed reports whether the call's cost has been stamped.
func (c Call) Billed() bool {
	return c.CostMinor != nil
}

// NeedsBilling reports whether the call reached a billable terminal state
// with a positive duration and has not been charged yet.
func (c Call) NeedsBilling() bool {
	return c.Status.IsBillable() && c.DurationSeconds > 0 && c.CostMinor == nil
}

// ListFilter narrows ListByOrganization. Zero times are open bounds.
type ListFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}
