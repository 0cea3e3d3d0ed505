package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "8091", cfg.GatePort)
	assert.Equal(t, 15*time.Second, cfg.WindowWidth)
	assert.Equal(t, 1, cfg.ToleranceWindows)
	assert.Equal(t, "TKT", cfg.BarcodePrefix)
	assert.Equal(t, SigningModeMAC, cfg.SigningMode)
	assert.Equal(t, 5*time.Second, cfg.PollBaseInterval)
	assert.Equal(t, 1*time.Second, cfg.PollFastInterval)
	assert.Equal(t, 30*time.Second, cfg.PollSlowInterval)
	assert.Equal(t, 3, cfg.PollDegradedAfter)
	assert.Equal(t, 120, cfg.PollMaxFailures)
	assert.Equal(t, 5*time.Minute, cfg.PollIdleAfter)
	assert.Empty(t, cfg.SigningSecret)
	assert.Empty(t, cfg.KeyDerivationSecret)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("WINDOW_WIDTH", "30s")
	t.Setenv("TOLERANCE_WINDOWS", "2")
	t.Setenv("SIGNING_MODE", "ED25519")
	t.Setenv("SIGNING_KEY_DIR", "/etc/ticket-pass/keys")
	t.Setenv("KEY_DERIVATION_SECRET", "kdf")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("POLL_FAST_INTERVAL", "not-a-duration")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.WindowWidth)
	assert.Equal(t, 2, cfg.ToleranceWindows)
	assert.Equal(t, SigningModeEd25519, cfg.SigningMode)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, time.Second, cfg.PollFastInterval)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresSecrets(t *testing.T) {
	cfg := LoadConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY_DERIVATION_SECRET is required")
	assert.Contains(t, err.Error(), "SIGNING_SECRET is required")

	cfg.KeyDerivationSecret = "kdf"
	cfg.SigningSecret = "sig"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := LoadConfig()
	cfg.KeyDerivationSecret = "kdf"
	cfg.SigningSecret = "sig"
	cfg.WindowWidth = 500 * time.Millisecond
	cfg.ToleranceWindows = -1
	cfg.SigningMode = "rsa"
	cfg.GateRateLimit = 0
	cfg.PollMaxFailures = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WINDOW_WIDTH")
	assert.Contains(t, err.Error(), "TOLERANCE_WINDOWS")
	assert.Contains(t, err.Error(), "SIGNING_MODE")
	assert.Contains(t, err.Error(), "GATE_RATE_LIMIT")
	assert.Contains(t, err.Error(), "POLL_MAX_FAILURES")
}

func TestValidate_ProductionNeedsSealIdentity(t *testing.T) {
	cfg := LoadConfig()
	cfg.KeyDerivationSecret = "kdf"
	cfg.SigningSecret = "sig"
	cfg.Environment = "production"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECRET_SEAL_IDENTITY")

	cfg.SecretSealIdentity = "AGE-SECRET-KEY-1..."
	assert.NoError(t, cfg.Validate())
}
