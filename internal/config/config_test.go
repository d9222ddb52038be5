package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	c := Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbilling"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{WebhookSecret: "hook-secret"},
	}
	c.ApplyDefaults()
	return c
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "production", Port: 8080},
		DB:     DBConfig{Host: "db", Port: 5432, User: "postgres", Password: "x", Name: "callbilling"},
		Redis:  RedisConfig{Host: "redis", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "aud"},
		Twilio: TwilioConfig{AccountSID: "AC1", AuthToken: "t", WebhookSecret: "s", PublicBaseURL: "https://x"},
	}
	c.ApplyDefaults()
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestApplyDefaults_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Billing.OverdraftPolicy != OverdraftAllow {
		t.Fatalf("expected allow overdraft by default, got %q", c.Billing.OverdraftPolicy)
	}
	if c.Billing.RatePerMinuteMinor != 150 {
		t.Fatalf("expected default rate 150, got %d", c.Billing.RatePerMinuteMinor)
	}
	if c.AI.TranscribeCredits != 3 || c.AI.SummarizeCredits != 3 {
		t.Fatalf("unexpected credit prices %d/%d", c.AI.TranscribeCredits, c.AI.SummarizeCredits)
	}
}

func TestValidate_RejectsUnknownOverdraftPolicy(t *testing.T) {
	c := validLocal()
	c.Billing.OverdraftPolicy = "sometimes"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown overdraft policy")
	}
}

func TestValidate_ArchiveNeedsRegion(t *testing.T) {
	c := validLocal()
	c.Recordings.S3Bucket = "recordings"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when bucket set without region")
	}
	c.Recordings.S3Region = "us-east-1"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_NAME", "callbilling")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TWILIO_WEBHOOK_SECRET", "hook")
	t.Setenv("WALLET_OVERDRAFT_POLICY", "reject")
	t.Setenv("BILLING_SWEEP_INTERVAL", "30s")
	t.Setenv("ROUTING_INBOUND_NUMBERS", "+15550001111=org_1, +15550002222=org_2")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if c.Billing.OverdraftPolicy != OverdraftReject {
		t.Fatalf("expected reject, got %q", c.Billing.OverdraftPolicy)
	}
	if c.Billing.SweepInterval != 30*time.Second {
		t.Fatalf("expected 30s sweep interval, got %s", c.Billing.SweepInterval)
	}
	if c.Routing.InboundNumbers["+15550002222"] != "org_2" {
		t.Fatalf("unexpected inbound numbers %v", c.Routing.InboundNumbers)
	}
}

func TestLoad_AggregatesParseErrors(t *testing.T) {
	t.Setenv("APP_PORT", "abc")
	t.Setenv("DB_PORT", "")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("AI_TIMEOUT", "soon")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"APP_PORT", "DB_PORT", "AI_TIMEOUT"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %s in %q", want, msg)
		}
	}
}

func TestParseNumberMap_RejectsMalformed(t *testing.T) {
	if _, err := parseNumberMap("+1555=org_1,broken"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseDestinations(t *testing.T) {
	m, err := parseDestinations("org_1=+15550003333:3|sip:agent@pbx.example.com; org_2=+15550004444")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got := m["org_1"]
	if len(got) != 2 {
		t.Fatalf("expected 2 destinations, got %v", got)
	}
	if got[0] != (RoutingDestination{Target: "+15550003333", Weight: 3}) {
		t.Fatalf("unexpected first destination %+v", got[0])
	}
	if got[1] != (RoutingDestination{Target: "sip:agent@pbx.example.com", Weight: 1}) {
		t.Fatalf("unexpected second destination %+v", got[1])
	}
	if len(m["org_2"]) != 1 {
		t.Fatalf("expected org_2 destination, got %v", m)
	}

	if _, err := parseDestinations("org_1=+1555:0"); err == nil {
		t.Fatalf("expected error for zero weight")
	}
	if _, err := parseDestinations("broken"); err == nil {
		t.Fatalf("expected error for malformed entry")
	}
}
