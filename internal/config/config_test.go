package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("AUTH_JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DevJWTSecret, cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auth.DevSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "token", cfg.Auth.CookieName)
	assert.Equal(t, time.Minute, cfg.Admission.Window)
	assert.Equal(t, 5, cfg.Admission.GuestLimit)
	assert.Equal(t, 10, cfg.Admission.UserLimit)
	assert.Equal(t, 20, cfg.Admission.AdminLimit)
	assert.Equal(t, "memory", cfg.Admission.Backend)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("AUTH_TOKEN_TTL", "2h")
	t.Setenv("ADMISSION_BACKEND", " Redis ")
	t.Setenv("ADMISSION_USER_LIMIT", "42")
	t.Setenv("INSPECTOR_ALLOWED_AGENTS", "curl,healthcheck")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Auth.DevSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "redis", cfg.Admission.Backend)
	assert.Equal(t, 42, cfg.Admission.UserLimit)
	assert.Equal(t, []string{"curl", "healthcheck"}, cfg.Inspector.AllowedAgents)
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Config{
		App:       AppConfig{Env: "development"},
		Admission: AdmissionConfig{Backend: "memcached", GuestLimit: 1, UserLimit: 1, AdminLimit: 1},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveLimit(t *testing.T) {
	cfg := Config{
		App:       AppConfig{Env: "development"},
		Admission: AdmissionConfig{Backend: "memory", GuestLimit: 0, UserLimit: 1, AdminLimit: 1},
	}
	require.Error(t, cfg.Validate())
}

func TestSanitizeFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.Sanitize()
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, int64(1), cfg.Auth.HashConcurrency)
	assert.Equal(t, time.Minute, cfg.Admission.Window)
	assert.Equal(t, "memory", cfg.Admission.Backend)
}
