package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3000, cfg.BrokerPort)
	assert.Equal(t, "coral", cfg.Voice)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.SessionRateInterval)
	assert.True(t, cfg.Playback)
	assert.NoError(t, cfg.ValidateClient())
}

func TestLoadFileReadsYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nmodel: custom-model\nrequest_timeout: 3s\n"), 0o600))
	t.Setenv("API_HOST", "http://broker.internal:3000")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TURN_DOMAIN", "relay.example")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "custom-model", cfg.Model)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "http://broker.internal:3000", cfg.BrokerURL)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "relay.example", cfg.TurnDomain)
}

func TestValidate(t *testing.T) {
	cfg := &Config{RealtimeURL: "https://x", Model: "m"}
	err := cfg.ValidateClient()
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
	assert.Contains(t, err.Error(), "broker_url")

	b := &Config{SessionRateLimit: 1}
	assert.ErrorIs(t, b.ValidateBroker(), domain.ErrConfigMissing)
	b.Secret = "s"
	assert.NoError(t, b.ValidateBroker())
}
