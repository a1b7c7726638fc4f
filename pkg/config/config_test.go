package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Approvals.Enabled)
	assert.Equal(t, time.Minute, cfg.Approvals.CacheTTL)
	assert.Equal(t, 100, cfg.Approvals.AuditMaxPageSize)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.CORS.AllowedMethods)
	assert.Contains(t, cfg.CORS.ExposedHeaders, "Content-Disposition")
	assert.True(t, cfg.CORS.AllowCredentials)
	assert.Equal(t, 10*time.Minute, cfg.CORS.MaxAge)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APPROVAL_CACHE_TTL", "30s")
	t.Setenv("APPROVAL_AUDIT_MAX_PAGE_SIZE", "50")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("JWT_ISSUER", "identity")
	t.Setenv("CORS_ALLOWED_METHODS", "GET")
	t.Setenv("CORS_MAX_AGE", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Approvals.CacheTTL)
	assert.Equal(t, 50, cfg.Approvals.AuditMaxPageSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "identity", cfg.JWT.Issuer)
	assert.Equal(t, []string{"GET"}, cfg.CORS.AllowedMethods)
	assert.Equal(t, time.Hour, cfg.CORS.MaxAge)
}

func TestValidateRequiresSecretInProduction(t *testing.T) {
	cfg := &Config{Env: EnvProduction, Port: 8080, JWT: JWTConfig{Secret: "dev_secret"}}
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = "s3cr3t"
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	dsn := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}.DSN()
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", dsn)
}
