// Package config loads the tag configuration from defaults, an optional
// config file, HYBRIDTAG_* environment variables and explicitly set flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/ruteri/hybrid-tag/scheduler"
	"github.com/ruteri/hybrid-tag/storage"
	"github.com/ruteri/hybrid-tag/tag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HYBRIDTAG"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the tag daemon configuration. Keys are the flag names with
// dashes replaced by underscores.
type Config struct {
	Radio            string        `mapstructure:"radio"`
	Mode             string        `mapstructure:"mode"`
	AuthCode         string        `mapstructure:"auth_code"`
	GoogleFormat     string        `mapstructure:"google_format"`
	InitialProtocol  string        `mapstructure:"initial_protocol"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`

	// DefaultAppleKey and DefaultGoogleKey override the built-in identity
	// used until the tag is provisioned.
	DefaultAppleKey  string `mapstructure:"default_apple_key"`
	DefaultGoogleKey string `mapstructure:"default_google_key"`

	Storage        []string `mapstructure:"storage"`
	SealPassphrase string   `mapstructure:"seal_passphrase"`

	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	SystemdUnit string `mapstructure:"systemd_unit"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Radio:            "tinygo",
		Mode:             provisioning.ModeDualKey.String(),
		AuthCode:         provisioning.DefaultAuthCode,
		GoogleFormat:     interfaces.GoogleFormatFEAA.String(),
		InitialProtocol:  interfaces.ProtocolAppleFindMy.String(),
		RotationInterval: scheduler.DefaultRotationInterval,
		RestartDelay:     tag.DefaultRestartDelay,
		Storage:          []string{"file:///var/lib/hybrid-tag"},
		ListenAddr:       "127.0.0.1:8080",
		MetricsAddr:      "127.0.0.1:8090",
	}
}

// Load reads path (skipped when empty), then the environment, then overrides.
// overrides holds the flags the user set explicitly, keyed like the file.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("radio", d.Radio)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("auth_code", d.AuthCode)
	v.SetDefault("google_format", d.GoogleFormat)
	v.SetDefault("initial_protocol", d.InitialProtocol)
	v.SetDefault("rotation_interval", d.RotationInterval)
	v.SetDefault("restart_delay", d.RestartDelay)
	v.SetDefault("default_apple_key", "")
	v.SetDefault("default_google_key", "")
	v.SetDefault("storage", d.Storage)
	v.SetDefault("seal_passphrase", "")
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("systemd_unit", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for k, val := range overrides {
		v.Set(strings.ReplaceAll(k, "-", "_"), val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Radio {
	case "tinygo", "sim":
	default:
		fail("radio must be tinygo or sim, got %q", c.Radio)
	}
	if _, err := provisioning.ParseMode(c.Mode); err != nil {
		fail("mode: %w", err)
	}
	if len(c.AuthCode) != provisioning.AuthCodeLen {
		fail("auth code must be %d bytes, got %d", provisioning.AuthCodeLen, len(c.AuthCode))
	}
	if _, err := interfaces.ParseGoogleFormat(c.GoogleFormat); err != nil {
		fail("google format: %w", err)
	}
	if _, err := interfaces.ParseProtocol(c.InitialProtocol); err != nil {
		fail("initial protocol: %w", err)
	}
	if c.RotationInterval <= 0 {
		fail("rotation interval must be positive, got %s", c.RotationInterval)
	}
	if c.RestartDelay < tag.MinRestartDelay {
		fail("restart delay must be at least %s, got %s", tag.MinRestartDelay, c.RestartDelay)
	}
	if c.DefaultAppleKey != "" {
		if _, err := cryptoutils.ParseAppleKey(c.DefaultAppleKey); err != nil {
			fail("default apple key: %w", err)
		}
	}
	if c.DefaultGoogleKey != "" {
		if _, err := cryptoutils.ParseGoogleKey(c.DefaultGoogleKey); err != nil {
			fail("default google key: %w", err)
		}
	}
	if len(c.Storage) == 0 {
		fail("at least one storage URI is required")
	}
	for _, uri := range c.Storage {
		if err := storage.ValidateURI(uri); err != nil {
			fail("storage: %w", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// TagConfig converts c into the driver configuration. c must be valid.
func (c *Config) TagConfig() (tag.Config, error) {
	mode, err := provisioning.ParseMode(c.Mode)
	if err != nil {
		return tag.Config{}, err
	}
	format, err := interfaces.ParseGoogleFormat(c.GoogleFormat)
	if err != nil {
		return tag.Config{}, err
	}
	proto, err := interfaces.ParseProtocol(c.InitialProtocol)
	if err != nil {
		return tag.Config{}, err
	}
	return tag.Config{
		Mode:             mode,
		AuthCode:         c.AuthCode,
		GoogleFormat:     format,
		InitialProtocol:  proto,
		RotationInterval: c.RotationInterval,
		RestartDelay:     c.RestartDelay,
	}, nil
}

// DefaultIdentity returns the built-in identity with any configured key overrides applied.
func (c *Config) DefaultIdentity(base interfaces.Identity) (interfaces.Identity, error) {
	id := base
	if c.DefaultAppleKey != "" {
		k, err := cryptoutils.ParseAppleKey(c.DefaultAppleKey)
		if err != nil {
			return id, err
		}
		id.Apple = k
	}
	if c.DefaultGoogleKey != "" {
		k, err := cryptoutils.ParseGoogleKey(c.DefaultGoogleKey)
		if err != nil {
			return id, err
		}
		id.Google = k
	}
	return id, nil
}
