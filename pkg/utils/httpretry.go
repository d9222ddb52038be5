package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// HTTPStatusError is returned for non-2xx responses. Body is truncated.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPRetryConfig configures NewHTTPRetryExecutor.
type HTTPRetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RetryStatuses are retried in addition to 429 and 5xx.
	RetryStatuses []int
}

func (c HTTPRetryConfig) withDefaults() HTTPRetryConfig {
	out := c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 250 * time.Millisecond
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = 5 * time.Second
	}
	return out
}

// NewHTTPRetryExecutor retries transport errors, 429 and 5xx with jittered
// exponential backoff. The last failure is returned unwrapped.
func NewHTTPRetryExecutor(cfg HTTPRetryConfig) failsafe.Executor[[]byte] {
	cfg = cfg.withDefaults()
	extra := make(map[int]bool, len(cfg.RetryStatuses))
	for _, s := range cfg.RetryStatuses {
		extra[s] = true
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ []byte, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var se *HTTPStatusError
			if errors.As(err, &se) {
				return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 || extra[se.StatusCode]
			}
			return true
		}).
		ReturnLastFailure().
		Build()
	return failsafe.With(policy)
}

// DoHTTP sends the request built by newReq through exec and returns the body
// of a 2xx response. newReq runs once per attempt so bodies can be replayed.
func DoHTTP(ctx context.Context, exec failsafe.Executor[[]byte], client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	return exec.WithContext(ctx).Get(func() ([]byte, error) {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			snippet := strings.TrimSpace(string(body))
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: snippet}
		}
		return body, nil
	})
}
