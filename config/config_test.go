package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
	require.NoError(t, cfg.Validate())

	tc, err := cfg.TagConfig()
	require.NoError(t, err)
	assert.Equal(t, provisioning.ModeDualKey, tc.Mode)
	assert.Equal(t, interfaces.GoogleFormatFEAA, tc.GoogleFormat)
	assert.Equal(t, interfaces.ProtocolAppleFindMy, tc.InitialProtocol)
	assert.Equal(t, 60*time.Second, tc.RotationInterval)
	assert.Equal(t, 2*time.Second, tc.RestartDelay)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: single
google_format: fe2c
rotation_interval: 30s
auth_code: fromfile
storage:
  - memory://a
  - file:///tmp/tag
`), 0o600))

	t.Setenv("HYBRIDTAG_ROTATION_INTERVAL", "45s")
	t.Setenv("HYBRIDTAG_AUTH_CODE", "from-env")

	cfg, err := Load(path, map[string]any{"auth-code": "fromflag"})
	require.NoError(t, err)

	assert.Equal(t, "single", cfg.Mode)
	assert.Equal(t, "fe2c", cfg.GoogleFormat)
	assert.Equal(t, 45*time.Second, cfg.RotationInterval)
	assert.Equal(t, "fromflag", cfg.AuthCode)
	assert.Equal(t, []string{"memory://a", "file:///tmp/tag"}, cfg.Storage)
	assert.Equal(t, 2*time.Second, cfg.RestartDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"radio", func(c *Config) { c.Radio = "bluez" }},
		{"mode", func(c *Config) { c.Mode = "triple" }},
		{"short auth code", func(c *Config) { c.AuthCode = "abc" }},
		{"google format", func(c *Config) { c.GoogleFormat = "feab" }},
		{"protocol", func(c *Config) { c.InitialProtocol = "tile" }},
		{"rotation", func(c *Config) { c.RotationInterval = 0 }},
		{"restart delay", func(c *Config) { c.RestartDelay = 500 * time.Millisecond }},
		{"apple key length", func(c *Config) { c.DefaultAppleKey = "0x0102" }},
		{"google key encoding", func(c *Config) { c.DefaultGoogleKey = "not a key!" }},
		{"no storage", func(c *Config) { c.Storage = nil }},
		{"storage scheme", func(c *Config) { c.Storage = []string{"github://o/r"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("all problems reported", func(t *testing.T) {
		cfg := Defaults()
		cfg.Radio = "bluez"
		cfg.AuthCode = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "radio")
		assert.Contains(t, err.Error(), "auth code")
	})
}

func TestDefaultIdentity(t *testing.T) {
	base := identity.Defaults()

	cfg := Defaults()
	id, err := cfg.DefaultIdentity(base)
	require.NoError(t, err)
	assert.Equal(t, base, id)

	cfg.DefaultGoogleKey = "0x" + "11223344556677889900aabbccddeeff00112233"
	id, err = cfg.DefaultIdentity(base)
	require.NoError(t, err)
	assert.Equal(t, base.Apple, id.Apple)
	assert.Equal(t, byte(0x11), id.Google[0])
	assert.Equal(t, byte(0x33), id.Google[19])
	assert.False(t, id.Provisioned)
}
