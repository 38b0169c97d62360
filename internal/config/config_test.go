package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "https://rest.gohighlevel.com", cfg.CRM.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.CRM.Timeout)
	assert.Equal(t, []int{409, 422}, cfg.CRM.ConflictStatuses)
	assert.Equal(t, "/thank-you", cfg.Redirect.Path)
	assert.Equal(t, 2*time.Second, cfg.Redirect.Delay)
	assert.Equal(t, "2024-01", cfg.Consent.PolicyVersion)
	assert.Empty(t, cfg.Consent.UngatedSources)
	assert.False(t, cfg.CRMConfigured())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GHL_API_KEY", "key-123")
	t.Setenv("GHL_LOCATION_ID", "loc-1")
	t.Setenv("GHL_TIMEOUT", "5s")
	t.Setenv("GHL_CONFLICT_STATUSES", "409")
	t.Setenv("CONSENT_UNGATED_SOURCES", "contact-sales, demo-request")
	t.Setenv("ADMIN_OPERATORS", "ops@acme.com")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("REDIRECT_DELAY", "1500ms")

	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.True(t, cfg.CRMConfigured())
	assert.Equal(t, 5*time.Second, cfg.CRM.Timeout)
	assert.Equal(t, []int{409}, cfg.CRM.ConflictStatuses)
	assert.Equal(t, []string{"contact-sales", "demo-request"}, cfg.Consent.UngatedSources)
	assert.Equal(t, []string{"ops@acme.com"}, cfg.Auth.Operators)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1500*time.Millisecond, cfg.Redirect.Delay)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.yaml")
	yaml := `
server:
  addr: ":9090"
crm:
  location_id: file-loc
  conflict_statuses: [409, 422, 400]
redirect:
  path: /welcome
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("GHL_LOCATION_ID", "env-loc")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "env-loc", cfg.CRM.LocationID)
	assert.Equal(t, []int{409, 422, 400}, cfg.CRM.ConflictStatuses)
	assert.Equal(t, "/welcome", cfg.Redirect.Path)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(missingFile(t))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"non-4xx conflict status", func(c *Config) { c.CRM.ConflictStatuses = []int{409, 500} }, "500"},
		{"absolute redirect", func(c *Config) { c.Redirect.Path = "https://evil.example" }, "redirect.path"},
		{"zero rate limit", func(c *Config) { c.Server.RateLimitPerMinute = 0 }, "rate_limit"},
		{"dev secret with auth", func(c *Config) { c.Auth.Required = true }, "session_secret"},
		{"bad base url", func(c *Config) { c.CRM.BaseURL = "not a url" }, "crm.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
