package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	SLA       SLAConfig
	Ticketing TicketingConfig
	Escalate  EscalationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" env-default:"helpdesk-engine"`
	Env                   string `env:"APP_ENV" env-default:"development"`
	Host                  string `env:"APP_HOST" env-default:"0.0.0.0"`
	Port                  string `env:"APP_PORT" env-default:"8080"`
	Version               string `env:"APP_VERSION" env-default:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" env-default:"30"`
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" env-default:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" env-default:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" env-default:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" env-default:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" env-default:"300"`
}

// RedisConfig holds Redis connection values and which engine concerns it backs.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB" env-default:"0"`
	UseSequence   bool   `env:"REDIS_SEQUENCE" env-default:"false"`
	UseMarkers    bool   `env:"REDIS_MARKERS" env-default:"false"`
	EventsChannel string `env:"REDIS_EVENTS_CHANNEL" env-default:"tickets:events"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"json"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret     string        `env:"AUTH_JWT_SECRET" env-default:"dev-secret"`
	TokenTTL      time.Duration `env:"AUTH_TOKEN_TTL" env-default:"12h"`
	WebhookSecret string        `env:"INBOUND_WEBHOOK_SECRET"`
}

// MailConfig configures the hosted mail provider integration.
type MailConfig struct {
	ProviderURL    string        `env:"MAIL_PROVIDER_URL"`
	APIKey         string        `env:"MAIL_PROVIDER_API_KEY"`
	Mailbox        string        `env:"MAIL_MAILBOX" env-default:"support@example.com"`
	FromName       string        `env:"MAIL_FROM_NAME" env-default:"Support"`
	RequestTimeout time.Duration `env:"MAIL_REQUEST_TIMEOUT" env-default:"10s"`
	PollEnabled    bool          `env:"MAIL_POLL_ENABLED" env-default:"false"`
	PollInterval   time.Duration `env:"MAIL_POLL_INTERVAL" env-default:"1m"`
	MarkerLease    time.Duration `env:"MAIL_MARKER_LEASE" env-default:"2m"`

	// OAuth2 client credentials replace the static API key when TokenURL is set.
	OAuthTokenURL     string   `env:"MAIL_OAUTH_TOKEN_URL"`
	OAuthClientID     string   `env:"MAIL_OAUTH_CLIENT_ID"`
	OAuthClientSecret string   `env:"MAIL_OAUTH_CLIENT_SECRET"`
	OAuthScopes       []string `env:"MAIL_OAUTH_SCOPES" env-separator:","`
}

// SLAConfig configures the breach sweep and the fallback policy table.
type SLAConfig struct {
	SweepSchedule string `env:"SLA_SWEEP_SCHEDULE" env-default:"@every 1m"`
	SweepBatch    int    `env:"SLA_SWEEP_BATCH" env-default:"200"`
	PolicyFile    string `env:"SLA_POLICY_FILE"`

	UrgentFirstResponseMinutes int `env:"SLA_URGENT_FIRST_RESPONSE_MINUTES" env-default:"30"`
	UrgentResolutionMinutes    int `env:"SLA_URGENT_RESOLUTION_MINUTES" env-default:"240"`
	HighFirstResponseMinutes   int `env:"SLA_HIGH_FIRST_RESPONSE_MINUTES" env-default:"60"`
	HighResolutionMinutes      int `env:"SLA_HIGH_RESOLUTION_MINUTES" env-default:"480"`
	NormalFirstResponseMinutes int `env:"SLA_NORMAL_FIRST_RESPONSE_MINUTES" env-default:"240"`
	NormalResolutionMinutes    int `env:"SLA_NORMAL_RESOLUTION_MINUTES" env-default:"1440"`
	LowFirstResponseMinutes    int `env:"SLA_LOW_FIRST_RESPONSE_MINUTES" env-default:"480"`
	LowResolutionMinutes       int `env:"SLA_LOW_RESOLUTION_MINUTES" env-default:"2880"`
}

// TicketingConfig holds engine-wide settings.
type TicketingConfig struct {
	OrganizationID    string   `env:"TICKETING_ORGANIZATION_ID" env-default:"default"`
	BlockedDomains    []string `env:"TICKETING_BLOCKED_DOMAINS" env-separator:"," env-default:"gmail.com,yahoo.com,outlook.com,hotmail.com,icloud.com"`
	DomainPolicyFile  string   `env:"TICKETING_DOMAIN_POLICY_FILE"`
	AllocatorAttempts int      `env:"TICKETING_ALLOCATOR_ATTEMPTS" env-default:"5"`
	UpdateAttempts    int      `env:"TICKETING_UPDATE_ATTEMPTS" env-default:"5"`
	ReopenOnReply     bool     `env:"TICKETING_REOPEN_ON_CUSTOMER_REPLY" env-default:"false"`
}

// EscalationConfig configures chat sinks for SLA breaches and urgent tickets.
type EscalationConfig struct {
	SlackToken     string `env:"ESCALATION_SLACK_TOKEN"`
	SlackChannel   string `env:"ESCALATION_SLACK_CHANNEL"`
	DiscordToken   string `env:"ESCALATION_DISCORD_TOKEN"`
	DiscordChannel string `env:"ESCALATION_DISCORD_CHANNEL"`
}

// Load reads configuration from environment variables, applying defaults where possible.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Ticketing.OrganizationID) == "" {
		errs = append(errs, errors.New("TICKETING_ORGANIZATION_ID must not be empty"))
	}
	if c.Mail.RequestTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_REQUEST_TIMEOUT must be positive"))
	}
	if c.Mail.PollEnabled && c.Mail.PollInterval <= 0 {
		errs = append(errs, errors.New("MAIL_POLL_INTERVAL must be positive"))
	}
	if c.Mail.PollEnabled && c.Mail.ProviderURL == "" {
		errs = append(errs, errors.New("MAIL_PROVIDER_URL is required when polling"))
	}
	if c.SLA.SweepBatch <= 0 {
		errs = append(errs, errors.New("SLA_SWEEP_BATCH must be positive"))
	}
	if _, err := cron.ParseStandard(c.SLA.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("SLA_SWEEP_SCHEDULE: %w", err))
	}
	if c.Mail.OAuthTokenURL != "" && c.Mail.OAuthClientID == "" {
		errs = append(errs, errors.New("MAIL_OAUTH_CLIENT_ID is required with MAIL_OAUTH_TOKEN_URL"))
	}
	if (c.Escalate.SlackToken == "") != (c.Escalate.SlackChannel == "") {
		errs = append(errs, errors.New("ESCALATION_SLACK_TOKEN and ESCALATION_SLACK_CHANNEL must be set together"))
	}
	if (c.Escalate.DiscordToken == "") != (c.Escalate.DiscordChannel == "") {
		errs = append(errs, errors.New("ESCALATION_DISCORD_TOKEN and ESCALATION_DISCORD_CHANNEL must be set together"))
	}
	if (c.Redis.UseSequence || c.Redis.UseMarkers) && !c.Redis.Enabled() {
		errs = append(errs, errors.New("REDIS_ADDR is required when redis backs sequences or markers"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}
