package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"callbilling/pkg/metrics"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// statusCallbackEvents are the call progress events Twilio posts to StatusCallbackURL.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// TwilioProvider dials through the Twilio Calls API.
type TwilioProvider struct {
	calls callCreator
}

func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{calls: rc.Api}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if err := req.validate(); err != nil {
		return DialResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DialResult{}, err
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.CallerID)
	params.SetUrl(req.AnswerURL)
	params.SetMethod(http.MethodPost)
	params.SetStatusCallback(req.StatusCallbackURL)
	params.SetStatusCallbackEvent(statusCallbackEvents)
	params.SetStatusCallbackMethod(http.MethodPost)
	if req.RecordingCallbackURL != "" {
		params.SetRecordingStatusCallback(req.RecordingCallbackURL)
		params.SetRecordingStatusCallbackMethod(http.MethodPost)
	}

	start := time.Now()
	resp, err := p.calls.CreateCall(params)
	metrics.ObserveUpstream(p.Name(), "create_call", start)
	if err != nil {
		return DialResult{}, classifyTwilioError(err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return DialResult{}, fmt.Errorf("%w: response without call sid", ErrUpstream)
	}

	out := DialResult{ProviderCallID: *resp.Sid}
	if resp.Status != nil {
		out.Status = string(*resp.Status)
	}
	return out, nil
}

// classifyTwilioError maps 4xx REST errors to ErrProviderRejected and
// everything else to ErrUpstream.
func classifyTwilioError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) && restErr.Status >= 400 && restErr.Status < 500 {
		return fmt.Errorf("%w: %d %s", ErrProviderRejected, restErr.Code, restErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
