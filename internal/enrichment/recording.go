package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"callbilling/pkg/metrics"
	"callbilling/pkg/utils"

	"github.com/failsafe-go/failsafe-go"
)

// TwilioRecordingFetcher downloads recordings with the account's basic auth.
// Twilio answers 404 for a short while after the recording callback, so 404
// is retried.
type TwilioRecordingFetcher struct {
	client     *http.Client
	exec       failsafe.Executor[[]byte]
	accountSID string
	authToken  string
}

func NewTwilioRecordingFetcher(accountSID, authToken string, timeout time.Duration) *TwilioRecordingFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TwilioRecordingFetcher{
		client: &http.Client{Timeout: timeout},
		exec: utils.NewHTTPRetryExecutor(utils.HTTPRetryConfig{
			MaxRetries:    4,
			BaseDelay:     500 * time.Millisecond,
			MaxDelay:      8 * time.Second,
			RetryStatuses: []int{http.StatusNotFound},
		}),
		accountSID: accountSID,
		authToken:  authToken,
	}
}

func (f *TwilioRecordingFetcher) Fetch(ctx context.Context, url string) (Recording, error) {
	if url == "" {
		return Recording{}, fmt.Errorf("%w: recording url required", ErrValidation)
	}
	// Without an extension Twilio serves WAV; MP3 is much smaller to upload.
	if path.Ext(url) == "" {
		url += ".mp3"
	}

	start := time.Now()
	body, err := utils.DoHTTP(ctx, f.exec, f.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if f.accountSID != "" {
			req.SetBasicAuth(f.accountSID, f.authToken)
		}
		return req, nil
	})
	metrics.ObserveUpstream("twilio", "fetch_recording", start)
	if err != nil {
		return Recording{}, fmt.Errorf("fetch recording: %w", err)
	}

	return Recording{
		Data:        body,
		ContentType: contentTypeFor(url),
		Filename:    path.Base(url),
	}, nil
}

func contentTypeFor(url string) string {
	switch strings.ToLower(path.Ext(url)) {
	case ".wav":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
