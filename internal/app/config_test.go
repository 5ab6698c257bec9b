package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TENANT_ID", "acme")
	t.Setenv("JWT_SECRET", "0123456789abcdef-secret")
	t.Setenv("DATABASES", "")
	t.Setenv("SECRETS_KEY", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 600, cfg.RateLimitPerMinute)
	assert.Equal(t, 8, cfg.MaxInvokeDepth)
	assert.Equal(t, 5*time.Second, cfg.ScriptTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsWeakSecrets(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET", "short")
	_, err := LoadConfig()
	require.Error(t, err)

	setBaseEnv(t)
	t.Setenv("SECRETS_KEY", "not-hex")
	_, err = LoadConfig()
	require.Error(t, err)

	setBaseEnv(t)
	t.Setenv("TENANT_ID", "")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestDatabasesDecode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_DSN", "postgres://main/db")
	t.Setenv("DATABASES", "reports=postgres://u:p@h:5432/r?sslmode=disable; audit = postgres://a ;")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h:5432/r?sslmode=disable", cfg.Databases["reports"])
	assert.Equal(t, map[string]string{
		"main":    "postgres://main/db",
		"reports": "postgres://u:p@h:5432/r?sslmode=disable",
		"audit":   "postgres://a",
	}, cfg.DatabaseDSNs("main"))
	assert.Equal(t, []string{"audit", "main", "reports"}, cfg.DatabaseAliases("main"))

	var d Databases
	require.Error(t, d.Decode("broken"))
	require.Error(t, d.Decode("=postgres://x"))
}

func TestDatabaseDSNsExplicitMainWins(t *testing.T) {
	cfg := &Config{PGDSN: "postgres://default", Databases: Databases{"main": "postgres://explicit"}}
	assert.Equal(t, "postgres://explicit", cfg.DatabaseDSNs("main")["main"])
}
