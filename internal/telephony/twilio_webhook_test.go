package telephony

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbilling/internal/calls"
)

func formRequest(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioCallback_StatusFields(t *testing.T) {
	body := "CallSid=CA123&CallStatus=completed&Direction=outbound-api&From=%2B15550000000&To=%2B15557654321" +
		"&CallDuration=125&Timestamp=Mon%2C%2016%20Aug%202010%2003%3A45%3A01%20%2B0000"
	r := formRequest("/webhooks/twilio/status?ct=tok123", body)

	ev, err := ParseTwilioCallback(r, EventStatus, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ProviderCallID != "CA123" || ev.CallStatus != "completed" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.DurationSeconds != 125 {
		t.Fatalf("expected duration 125, got %d", ev.DurationSeconds)
	}
	if ev.CallToken != "tok123" {
		t.Fatalf("expected call token from query, got %q", ev.CallToken)
	}
	if ev.Inbound() {
		t.Fatalf("outbound-api must not be inbound")
	}
	want := time.Date(2010, 8, 16, 3, 45, 1, 0, time.UTC)
	if !ev.OccurredAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, ev.OccurredAt)
	}
}

func TestParseTwilioCallback_ProviderCallSidAlias(t *testing.T) {
	r := formRequest("/webhooks/twilio/recording", "ProviderCallSid=CA9&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2Frec%2FRE1&RecordingSid=RE1")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ev, err := ParseTwilioCallback(r, EventRecording, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ProviderCallID != "CA9" {
		t.Fatalf("expected alias to populate provider call id, got %q", ev.ProviderCallID)
	}
	if ev.RecordingURL != "https://api.twilio.com/rec/RE1" || ev.RecordingID != "RE1" {
		t.Fatalf("unexpected recording fields: %+v", ev)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Fatalf("expected fallback time")
	}
}

func TestParseTwilioCallback_BadDurationKeepsRestOfEvent(t *testing.T) {
	r := formRequest("/webhooks/twilio/status", "CallSid=CA1&CallStatus=completed&CallDuration=abc")
	ev, err := ParseTwilioCallback(r, EventStatus, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ProviderCallID != "CA1" || ev.CallStatus != "completed" || ev.DurationSeconds != 0 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseTwilioCallback_UnreadableForm(t *testing.T) {
	r := formRequest("/webhooks/twilio/status", "CallSid=%zz")
	if _, err := ParseTwilioCallback(r, EventStatus, time.Now()); !errors.Is(err, ErrInvalidForm) {
		t.Fatalf("expected ErrInvalidForm, got %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]calls.CallStatus{
		"queued":      calls.CallStatusQueued,
		"initiated":   calls.CallStatusInitiated,
		"ringing":     calls.CallStatusRinging,
		"in-progress": calls.CallStatusInProgress,
		"answered":    calls.CallStatusInProgress,
		"Completed":   calls.CallStatusCompleted,
		"busy":        calls.CallStatusBusy,
		"no-answer":   calls.CallStatusNoAnswer,
		"canceled":    calls.CallStatusCanceled,
		"failed":      calls.CallStatusFailed,
	}
	for raw, want := range cases {
		got, ok := MapStatus(raw)
		if !ok || got != want {
			t.Fatalf("MapStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := MapStatus("paused"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
