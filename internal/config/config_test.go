package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fintera_sign")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PUBLIC_BASE_URL", "https://firmas.example.com/")
	t.Setenv("LEGACY_DUAL_WRITE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, cfg.SignatureTTL())
	assert.Equal(t, 5, cfg.EmailSendLimit)
	assert.Equal(t, 10*time.Second, cfg.TSATimeout())
	assert.Equal(t, "https://firmas.example.com", cfg.PublicBaseURL)
	assert.True(t, cfg.LegacyDualWrite)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.MasterKey)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fintera_sign")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MASTER_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASTER_KEY")

	t.Setenv("MASTER_KEY", "k")
	t.Setenv("TSA_URL", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TSA_URL")
}
