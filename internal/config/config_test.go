package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestViperConfigGetString(t *testing.T) {
	v := viper.New()
	v.Set("name", "test")
	cfg := New(v)

	if got := cfg.GetString("name"); got != "test" {
		t.Errorf("GetString('name') = %q, want %q", got, "test")
	}
}

func TestViperConfigGetInt(t *testing.T) {
	v := viper.New()
	v.Set("port", 8080)
	cfg := New(v)

	if got := cfg.GetInt("port"); got != 8080 {
		t.Errorf("GetInt('port') = %d, want %d", got, 8080)
	}
}

func TestViperConfigGetBool(t *testing.T) {
	v := viper.New()
	v.Set("enabled", true)
	cfg := New(v)

	if got := cfg.GetBool("enabled"); !got {
		t.Error("GetBool('enabled') = false, want true")
	}
}

func TestViperConfigGetDuration(t *testing.T) {
	v := viper.New()
	v.Set("timeout", "5s")
	cfg := New(v)

	want := 5 * time.Second
	if got := cfg.GetDuration("timeout"); got != want {
		t.Errorf("GetDuration('timeout') = %v, want %v", got, want)
	}
}

func TestViperConfigIsSet(t *testing.T) {
	v := viper.New()
	v.Set("exists", true)
	cfg := New(v)

	if !cfg.IsSet("exists") {
		t.Error("IsSet('exists') = false, want true")
	}
	if cfg.IsSet("missing") {
		t.Error("IsSet('missing') = true, want false")
	}
}

func TestViperConfigSub(t *testing.T) {
	v := viper.New()
	v.Set("mqtt.enabled", true)
	v.Set("mqtt.qos", 1)
	cfg := New(v)

	sub := cfg.Sub("mqtt")
	if sub == nil {
		t.Fatal("Sub('mqtt') = nil")
	}
	if got := sub.GetBool("enabled"); !got {
		t.Error("sub.GetBool('enabled') = false, want true")
	}
	if got := sub.GetInt("qos"); got != 1 {
		t.Errorf("sub.GetInt('qos') = %d, want %d", got, 1)
	}
}

func TestViperConfigSubMissing(t *testing.T) {
	v := viper.New()
	cfg := New(v)

	sub := cfg.Sub("nonexistent")
	if sub == nil {
		t.Fatal("Sub('nonexistent') should return empty Config, not nil")
	}
	// Should return zero values without panic.
	if got := cfg.GetString("anything"); got != "" {
		t.Errorf("empty config GetString() = %q, want empty", got)
	}
	_ = sub
}

func TestViperConfigUnmarshal(t *testing.T) {
	v := viper.New()
	v.Set("host", "localhost")
	v.Set("port", 9090)
	cfg := New(v)

	var target struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}
	if err := cfg.Unmarshal(&target); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if target.Host != "localhost" {
		t.Errorf("Host = %q, want %q", target.Host, "localhost")
	}
	if target.Port != 9090 {
		t.Errorf("Port = %d, want %d", target.Port, 9090)
	}
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	// Should not panic and return zero values.
	if got := cfg.GetString("key"); got != "" {
		t.Errorf("nil viper GetString() = %q, want empty", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetString("server.base_path"); got != "/api" {
		t.Errorf("server.base_path = %q, want /api", got)
	}
	if got := cfg.GetDuration("auth.access_ttl"); got != 15*time.Minute {
		t.Errorf("auth.access_ttl = %v, want 15m", got)
	}
	if got := cfg.GetDuration("auth.install_command_ttl"); got != time.Hour {
		t.Errorf("auth.install_command_ttl = %v, want 1h", got)
	}
	if got := cfg.GetString("ingest.source_label"); got != "vector" {
		t.Errorf("ingest.source_label = %q, want vector", got)
	}
	if got := cfg.GetStringSlice("server.trusted_proxies"); len(got) != 0 {
		t.Errorf("server.trusted_proxies = %v, want none", got)
	}
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alarm.yaml")
	body := "server:\n  port: 9000\n  trusted_proxies:\n    - 10.0.0.1\n    - 172.16.0.0/12\ndatabase:\n  path: /var/lib/alarm/alarm.db\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALARM_AUTH_SECRET_KEY", "from-env")
	t.Setenv("ALARM_SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GetString("database.path"); got != "/var/lib/alarm/alarm.db" {
		t.Errorf("database.path = %q", got)
	}
	if got := cfg.GetStringSlice("server.trusted_proxies"); len(got) != 2 || got[1] != "172.16.0.0/12" {
		t.Errorf("server.trusted_proxies = %v", got)
	}
	if got := cfg.GetString("auth.secret_key"); got != "from-env" {
		t.Errorf("auth.secret_key = %q, want from-env", got)
	}
	if got := cfg.GetInt("server.port"); got != 9100 {
		t.Errorf("server.port = %d, env should override the file", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := New(v)
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() without a secret key should fail")
	}

	v.Set("auth.secret_key", "s")
	v.Set("mqtt.enabled", true)
	v.Set("mqtt.broker", "")
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with mqtt enabled and no broker should fail")
	}

	v.Set("mqtt.broker", "tcp://broker:1883")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
