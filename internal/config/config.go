// Package config loads alarm settings from defaults, an optional YAML file and
// ALARM_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ALARM_AUTH_SECRET_KEY for auth.secret_key.
const EnvPrefix = "ALARM"

// Config is a nil-safe read view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields a Config that returns zero values.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

// Load reads the configuration. path may be empty, in which case alarm.yaml is
// searched for in the working directory and /etc/alarm; a missing file is not
// an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("alarm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/alarm")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return New(v), nil
}

// SetDefaults installs the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.path", "alarm.db")

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.install_token_ttl", "168h")
	v.SetDefault("auth.install_command_ttl", "1h")
	v.SetDefault("auth.admin_token", "")

	v.SetDefault("ingest.source_label", "vector")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 20.0)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "alarm/blocklist")
	v.SetDefault("mqtt.client_id", "alarm-server")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.connect_timeout", "10s")

	v.SetDefault("install.script_url", "https://alarm.sgt.me.uk/install.sh")
}

// Viper exposes the underlying instance.
func (c *Config) Viper() *viper.Viper { return c.v }

func (c *Config) GetString(key string) string { return c.v.GetString(key) }

func (c *Config) GetInt(key string) int { return c.v.GetInt(key) }

func (c *Config) GetFloat64(key string) float64 { return c.v.GetFloat64(key) }

func (c *Config) GetBool(key string) bool { return c.v.GetBool(key) }

func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

func (c *Config) GetStringSlice(key string) []string { return c.v.GetStringSlice(key) }

func (c *Config) IsSet(key string) bool { return c.v.IsSet(key) }

// Sub returns the subtree at key. A missing subtree yields an empty Config,
// never nil.
func (c *Config) Sub(key string) *Config {
	return New(c.v.Sub(key))
}

// Unmarshal decodes the whole configuration into target.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Addr returns the listen address built from server.host and server.port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetString("server.host"), c.GetInt("server.port"))
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.GetString("auth.secret_key") == "" {
		return errors.New("auth.secret_key is required (set ALARM_AUTH_SECRET_KEY)")
	}
	if c.GetString("database.path") == "" {
		return errors.New("database.path is required")
	}
	if c.GetBool("mqtt.enabled") && c.GetString("mqtt.broker") == "" {
		return errors.New("mqtt.broker is required when mqtt.enabled is set")
	}
	return nil
}
