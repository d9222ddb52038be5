package telephony

import (
	"context"
	"errors"
	"testing"

	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	got *api.CreateCallParams
	sid string
	err error
}

func (f *fakeCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func dialRequest() DialRequest {
	return DialRequest{
		CallerID:             "+15550000000",
		To:                   "client:user-1",
		AnswerURL:            "https://x.test/webhooks/twilio/voice?ct=t",
		StatusCallbackURL:    "https://x.test/webhooks/twilio/status?ct=t",
		RecordingCallbackURL: "https://x.test/webhooks/twilio/recording?ct=t",
	}
}

func TestTwilioProvider_Dial(t *testing.T) {
	f := &fakeCreator{sid: "CA42"}
	p := &TwilioProvider{calls: f}

	res, err := p.Dial(context.Background(), dialRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "CA42" {
		t.Fatalf("expected CA42, got %q", res.ProviderCallID)
	}
	if f.got == nil || f.got.To == nil || *f.got.To != "client:user-1" {
		t.Fatalf("expected To to be forwarded")
	}
	if f.got.StatusCallback == nil || *f.got.StatusCallback != "https://x.test/webhooks/twilio/status?ct=t" {
		t.Fatalf("expected status callback to be forwarded")
	}
}

func TestTwilioProvider_DialClassifiesErrors(t *testing.T) {
	p := &TwilioProvider{calls: &fakeCreator{err: &client.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}}}
	if _, err := p.Dial(context.Background(), dialRequest()); !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}

	p = &TwilioProvider{calls: &fakeCreator{err: errors.New("connection reset")}}
	if _, err := p.Dial(context.Background(), dialRequest()); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestTwilioProvider_DialValidates(t *testing.T) {
	f := &fakeCreator{sid: "CA1"}
	p := &TwilioProvider{calls: f}
	req := dialRequest()
	req.To = ""
	if _, err := p.Dial(context.Background(), req); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if f.got != nil {
		t.Fatalf("provider must not be called on invalid input")
	}
}
