package calls

import (
	"fmt"
	"time"
)

var terminalStatuses = []CallStatus{
	CallStatusCompleted,
	CallStatusBusy,
	CallStatusNoAnswer,
	CallStatusCanceled,
	CallStatusFailed,
}

// adjacency lists the allowed forward moves. Skips are allowed because provider
// callbacks can be lost or arrive late (e.g. initiated -> completed).
var adjacency = map[CallStatus][]CallStatus{
	CallStatusQueued:     append([]CallStatus{CallStatusInitiated, CallStatusRinging, CallStatusInProgress}, terminalStatuses...),
	CallStatusInitiated:  append([]CallStatus{CallStatusRinging, CallStatusInProgress}, terminalStatuses...),
	CallStatusRinging:    append([]CallStatus{CallStatusInProgress}, terminalStatuses...),
	CallStatusInProgress: terminalStatuses,
	CallStatusCompleted:  nil,
	CallStatusBusy:       nil,
	CallStatusNoAnswer:   nil,
	CallStatusCanceled:   nil,
	CallStatusFailed:     nil,
}

// CanTransition reports whether from -> to is in the adjacency list.
func CanTransition(from, to CallStatus) bool {
	for _, s := range adjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the call to status `to`. Re-delivering the terminal status the
// call already holds returns (false, nil) and leaves the call untouched.
// StartTime is stamped on entering in-progress. EndTime is left to MarkEnded.
func (c *Call) Transition(to CallStatus, at time.Time) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, to)
	}
	if c.Status == to && to.IsTerminal() {
		return false, nil
	}
	if !CanTransition(c.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}

	at = at.UTC()
	c.Status = to
	if to == CallStatusInProgress && c.StartTime == nil {
		c.StartTime = &at
	}
	return true, nil
}

// MarkEnded stamps EndTime once the call sits in a billable terminal status
// with a positive duration. Non-billable endings never get an EndTime.
func (c *Call) MarkEnded(at time.Time) bool {
	if c.EndTime != nil || !c.Status.IsBillable() || c.DurationSeconds <= 0 {
		return false
	}
	at = at.UTC()
	c.EndTime = &at
	return true
}

// AttachProviderCallID sets the provider id once. Re-attaching the same value is a no-op.
func (c *Call) AttachProviderCallID(providerCallID string) (bool, error) {
	if providerCallID == "" {
		return false, fmt.Errorf("%w: provider call id required", ErrInvalidArgument)
	}
	switch c.ProviderCallID {
	case "":
		c.ProviderCallID = providerCallID
		return true, nil
	case providerCallID:
		return false, nil
	default:
		return false, fmt.Errorf("%w: call %s has %s", ErrProviderCallIDAlreadySet, c.ID, c.ProviderCallID)
	}
}

// SetCost stamps the billed cost. It never overwrites an existing value.
func (c *Call) SetCost(costMinor int64) bool {
	if c.CostMinor != nil {
		return false
	}
	c.CostMinor = &costMinor
	c.BillingError = ""
	return true
}

// ApplyRecording records recording metadata. Values already present are kept.
func (c *Call) ApplyRecording(url, id string) bool {
	changed := false
	if url != "" && c.RecordingURL == "" {
		c.RecordingURL = url
		changed = true
	}
	if id != "" && c.RecordingID == "" {
		c.RecordingID = id
		changed = true
	}
	return changed
}

// ApplyDuration sets the duration if it is still unset.
func (c *Call) ApplyDuration(seconds int) bool {
	if seconds <= 0 || c.DurationSeconds > 0 {
		return false
	}
	c.DurationSeconds = seconds
	return true
}
