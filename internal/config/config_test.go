package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, "default", cfg.Ticketing.OrganizationID)
	assert.Equal(t, "@every 1m", cfg.SLA.SweepSchedule)
	assert.Equal(t, 30, cfg.SLA.UrgentFirstResponseMinutes)
	assert.Equal(t, 240, cfg.SLA.UrgentResolutionMinutes)
	assert.Equal(t, 10*time.Second, cfg.Mail.RequestTimeout)
	assert.Contains(t, cfg.Ticketing.BlockedDomains, "gmail.com")
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("TICKETING_ORGANIZATION_ID", "acme")
	t.Setenv("MAIL_REQUEST_TIMEOUT", "3s")
	t.Setenv("TICKETING_BLOCKED_DOMAINS", "free.mail,other.mail")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "acme", cfg.Ticketing.OrganizationID)
	assert.Equal(t, 3*time.Second, cfg.Mail.RequestTimeout)
	assert.Equal(t, []string{"free.mail", "other.mail"}, cfg.Ticketing.BlockedDomains)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Mail:      MailConfig{RequestTimeout: time.Second, PollInterval: time.Minute},
			SLA:       SLAConfig{SweepSchedule: "@every 1m", SweepBatch: 10},
			Ticketing: TicketingConfig{OrganizationID: "org"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty org", func(c *Config) { c.Ticketing.OrganizationID = " " }, "TICKETING_ORGANIZATION_ID"},
		{"bad cron", func(c *Config) { c.SLA.SweepSchedule = "every minute" }, "SLA_SWEEP_SCHEDULE"},
		{"poll without provider", func(c *Config) { c.Mail.PollEnabled = true }, "MAIL_PROVIDER_URL"},
		{"redis markers without addr", func(c *Config) { c.Redis.UseMarkers = true }, "REDIS_ADDR"},
		{"zero batch", func(c *Config) { c.SLA.SweepBatch = 0 }, "SLA_SWEEP_BATCH"},
		{"oauth without client", func(c *Config) { c.Mail.OAuthTokenURL = "https://auth.example/token" }, "MAIL_OAUTH_CLIENT_ID"},
		{"slack token without channel", func(c *Config) { c.Escalate.SlackToken = "xoxb-1" }, "ESCALATION_SLACK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
