package telephony

import (
	"context"
	"errors"
)

var (
	ErrInvalidArgument = errors.New("telephony: invalid argument")
	// ErrProviderRejected is a synchronous refusal by the provider (bad number,
	// unverified caller id). The call never started.
	ErrProviderRejected = errors.New("telephony: provider rejected call")
	// ErrUpstream covers transport failures and provider 5xx responses.
	ErrUpstream = errors.New("telephony: provider unavailable")
)

// Provider places outbound calls. No provider SDK calls happen outside
// implementations of this interface.
type Provider interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

// DialRequest asks the provider to start a call. AnswerURL is fetched when the
// first leg answers; its response bridges to the destination.
type DialRequest struct {
	CallerID string
	To       string

	AnswerURL            string
	StatusCallbackURL    string
	RecordingCallbackURL string
}

func (r DialRequest) validate() error {
	if r.CallerID == "" || r.To == "" {
		return errors.Join(ErrInvalidArgument, errors.New("caller id and destination required"))
	}
	if r.AnswerURL == "" || r.StatusCallbackURL == "" {
		return errors.Join(ErrInvalidArgument, errors.New("answer and status callback urls required"))
	}
	return nil
}

type DialResult struct {
	ProviderCallID string
	Status         string
}
