package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(extra ...int) HTTPRetryConfig {
	return HTTPRetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, RetryStatuses: extra}
}

func getter(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoHTTP_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := DoHTTP(context.Background(), NewHTTPRetryExecutor(fastRetry()), srv.Client(), getter(srv.URL))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(body) != "ok" || hits.Load() != 3 {
		t.Fatalf("unexpected body %q after %d hits", body, hits.Load())
	}
}

func TestDoHTTP_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := DoHTTP(context.Background(), NewHTTPRetryExecutor(fastRetry()), srv.Client(), getter(srv.URL))
	var se *HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPStatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestDoHTTP_RetriesExtraStatuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ready"))
	}))
	defer srv.Close()

	body, err := DoHTTP(context.Background(), NewHTTPRetryExecutor(fastRetry(http.StatusNotFound)), srv.Client(), getter(srv.URL))
	if err != nil || string(body) != "ready" {
		t.Fatalf("expected ready, got %q %v", body, err)
	}
}
