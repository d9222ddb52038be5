package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API and ops processes.
// Values come from env; an optional .env file is loaded first for local runs.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	Billing    BillingConfig
	AI         AIConfig
	Recordings RecordingsConfig
	Stripe     StripeConfig
	Dispatch   DispatchConfig
	Routing    RoutingConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// WebhookSecret signs the correlation token embedded in callback URLs.
	WebhookSecret string
	CallerID      string
	// PublicBaseURL is the externally reachable origin used in callback URLs.
	PublicBaseURL     string
	ValidateSignature bool
}

// Overdraft policies for wallet debits.
const (
	OverdraftAllow  = "allow"
	OverdraftReject = "reject"
)

type BillingConfig struct {
	RatePerMinuteMinor int64
	Currency           string
	OverdraftPolicy    string
	SweepInterval      time.Duration
	SweepBatchSize     int
}

type AIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
	Timeout            time.Duration
	TranscribeCredits  int64
	SummarizeCredits   int64
}

type RecordingsConfig struct {
	S3Bucket string
	S3Region string
	S3Prefix string

	// S3Endpoint targets S3-compatible storage (MinIO); empty uses AWS.
	S3Endpoint string

	// Static keys are optional; the default AWS credential chain is used otherwise.
	S3AccessKey string
	S3SecretKey string
}

func (r RecordingsConfig) ArchiveEnabled() bool {
	return r.S3Bucket != ""
}

type StripeConfig struct {
	WebhookSecret string
}

type DispatchConfig struct {
	MaxConcurrentCallsPerOrg int
	SlotTTL                  time.Duration
}

type RoutingConfig struct {
	// InboundNumbers maps a dialed E.164 number to an organization id.
	InboundNumbers map[string]string

	// Destinations lists weighted forward targets for inbound calls per organization.
	Destinations map[string][]RoutingDestination
}

type RoutingDestination struct {
	Target string
	Weight int
}

// Load reads configuration from the environment. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = collect(parseErrs)(mustInt("APP_PORT"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = collect(parseErrs)(mustInt("DB_PORT"))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = collect(parseErrs)(mustInt("REDIS_PORT"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = collectDuration(parseErrs)(optionalDuration("JWT_ACCESS_TTL"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.WebhookSecret = os.Getenv("TWILIO_WEBHOOK_SECRET")
	c.Twilio.CallerID = strings.TrimSpace(os.Getenv("TWILIO_CALLER_ID"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.Twilio.ValidateSignature = optionalBool("TWILIO_VALIDATE_SIGNATURE")

	c.Billing.RatePerMinuteMinor, parseErrs = collectInt64(parseErrs)(optionalInt64("BILLING_RATE_PER_MINUTE_MINOR"))
	c.Billing.Currency = strings.ToUpper(strings.TrimSpace(os.Getenv("BILLING_CURRENCY")))
	c.Billing.OverdraftPolicy = strings.ToLower(strings.TrimSpace(os.Getenv("WALLET_OVERDRAFT_POLICY")))
	c.Billing.SweepInterval, parseErrs = collectDuration(parseErrs)(optionalDuration("BILLING_SWEEP_INTERVAL"))
	{
		n, err := optionalInt64("BILLING_SWEEP_BATCH_SIZE")
		c.Billing.SweepBatchSize, parseErrs = collect(parseErrs)(int(n), err)
	}

	c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.AI.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")), "/")
	c.AI.TranscriptionModel = strings.TrimSpace(os.Getenv("AI_TRANSCRIPTION_MODEL"))
	c.AI.ChatModel = strings.TrimSpace(os.Getenv("AI_CHAT_MODEL"))
	c.AI.Timeout, parseErrs = collectDuration(parseErrs)(optionalDuration("AI_TIMEOUT"))
	c.AI.TranscribeCredits, parseErrs = collectInt64(parseErrs)(optionalInt64("AI_TRANSCRIBE_CREDITS"))
	c.AI.SummarizeCredits, parseErrs = collectInt64(parseErrs)(optionalInt64("AI_SUMMARIZE_CREDITS"))

	c.Recordings.S3Bucket = strings.TrimSpace(os.Getenv("RECORDINGS_S3_BUCKET"))
	c.Recordings.S3Region = strings.TrimSpace(os.Getenv("RECORDINGS_S3_REGION"))
	c.Recordings.S3Prefix = strings.Trim(strings.TrimSpace(os.Getenv("RECORDINGS_S3_PREFIX")), "/")
	c.Recordings.S3Endpoint = strings.TrimSpace(os.Getenv("RECORDINGS_S3_ENDPOINT"))
	c.Recordings.S3AccessKey = os.Getenv("RECORDINGS_S3_ACCESS_KEY")
	c.Recordings.S3SecretKey = os.Getenv("RECORDINGS_S3_SECRET_KEY")

	c.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	{
		n, err := optionalInt64("DISPATCH_MAX_CONCURRENT_PER_ORG")
		c.Dispatch.MaxConcurrentCallsPerOrg, parseErrs = collect(parseErrs)(int(n), err)
	}
	c.Dispatch.SlotTTL, parseErrs = collectDuration(parseErrs)(optionalDuration("DISPATCH_SLOT_TTL"))

	{
		m, err := parseNumberMap(os.Getenv("ROUTING_INBOUND_NUMBERS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Routing.InboundNumbers = m
	}
	{
		m, err := parseDestinations(os.Getenv("ROUTING_DESTINATIONS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Routing.Destinations = m
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills optional values. Production-only requirements are left to Validate.
func (c *Config) ApplyDefaults() {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Billing.RatePerMinuteMinor <= 0 {
		c.Billing.RatePerMinuteMinor = 150
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "USD"
	}
	if c.Billing.OverdraftPolicy == "" {
		c.Billing.OverdraftPolicy = OverdraftAllow
	}
	if c.Billing.SweepInterval <= 0 {
		c.Billing.SweepInterval = time.Minute
	}
	if c.Billing.SweepBatchSize <= 0 {
		c.Billing.SweepBatchSize = 100
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "https://api.openai.com/v1"
	}
	if c.AI.TranscriptionModel == "" {
		c.AI.TranscriptionModel = "whisper-1"
	}
	if c.AI.ChatModel == "" {
		c.AI.ChatModel = "gpt-4o-mini"
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.AI.TranscribeCredits <= 0 {
		c.AI.TranscribeCredits = 3
	}
	if c.AI.SummarizeCredits <= 0 {
		c.AI.SummarizeCredits = 3
	}
	if c.Recordings.S3Prefix == "" {
		c.Recordings.S3Prefix = "recordings"
	}
	if c.Dispatch.MaxConcurrentCallsPerOrg <= 0 {
		c.Dispatch.MaxConcurrentCallsPerOrg = 10
	}
	if c.Dispatch.SlotTTL <= 0 {
		c.Dispatch.SlotTTL = 2 * time.Hour
	}
	if c.Routing.InboundNumbers == nil {
		c.Routing.InboundNumbers = map[string]string{}
	}
	if c.Routing.Destinations == nil {
		c.Routing.Destinations = map[string][]RoutingDestination{}
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Twilio.WebhookSecret == "" {
		errs = append(errs, errors.New("TWILIO_WEBHOOK_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
	}
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
	}

	if c.Billing.RatePerMinuteMinor <= 0 {
		errs = append(errs, fmt.Errorf("BILLING_RATE_PER_MINUTE_MINOR must be > 0, got %d", c.Billing.RatePerMinuteMinor))
	}
	switch c.Billing.OverdraftPolicy {
	case OverdraftAllow, OverdraftReject:
	default:
		errs = append(errs, fmt.Errorf("WALLET_OVERDRAFT_POLICY must be allow or reject, got %q", c.Billing.OverdraftPolicy))
	}
	if c.Billing.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("BILLING_SWEEP_INTERVAL must be at least 1s, got %s", c.Billing.SweepInterval))
	}

	if c.AI.TranscribeCredits < 0 || c.AI.SummarizeCredits < 0 {
		errs = append(errs, errors.New("AI credit prices must be >= 0"))
	}
	if c.Recordings.ArchiveEnabled() && c.Recordings.S3Region == "" {
		errs = append(errs, errors.New("RECORDINGS_S3_REGION is required when RECORDINGS_S3_BUCKET is set"))
	}

	if c.Dispatch.MaxConcurrentCallsPerOrg <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CONCURRENT_PER_ORG must be > 0, got %d", c.Dispatch.MaxConcurrentCallsPerOrg))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt64(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

// parseNumberMap parses "+15550001111=org_1,+15550002222=org_2".
func parseNumberMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		number, org, ok := strings.Cut(strings.TrimSpace(pair), "=")
		number, org = strings.TrimSpace(number), strings.TrimSpace(org)
		if !ok || number == "" || org == "" {
			return nil, fmt.Errorf("ROUTING_INBOUND_NUMBERS entry must be number=organization, got %q", pair)
		}
		out[number] = org
	}
	return out, nil
}

// parseDestinations parses "org_1=+15550003333:3|sip:agent@pbx.example.com;org_2=+15550004444".
// A trailing ":N" sets the weight, which defaults to 1.
func parseDestinations(raw string) (map[string][]RoutingDestination, error) {
	out := map[string][]RoutingDestination{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, entry := range strings.Split(raw, ";") {
		org, targets, ok := strings.Cut(strings.TrimSpace(entry), "=")
		org = strings.TrimSpace(org)
		if !ok || org == "" || strings.TrimSpace(targets) == "" {
			return nil, fmt.Errorf("ROUTING_DESTINATIONS entry must be organization=target[:weight]|..., got %q", entry)
		}
		for _, t := range strings.Split(targets, "|") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			d := RoutingDestination{Target: t, Weight: 1}
			if i := strings.LastIndex(t, ":"); i > 0 {
				if w, err := strconv.Atoi(t[i+1:]); err == nil {
					if w <= 0 {
						return nil, fmt.Errorf("ROUTING_DESTINATIONS weight must be > 0, got %q", t)
					}
					d = RoutingDestination{Target: t[:i], Weight: w}
				}
			}
			out[org] = append(out[org], d)
		}
	}
	return out, nil
}

func collect(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func collectInt64(errs []error) func(int64, error) (int64, []error) {
	return func(n int64, err error) (int64, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func collectDuration(errs []error) func(time.Duration, error) (time.Duration, []error) {
	return func(d time.Duration, err error) (time.Duration, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return d, errs
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
