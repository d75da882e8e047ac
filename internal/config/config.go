// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration accepts "90s", "15m", "2h" and day-suffixed forms like "1d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
	Assist   AssistConfig   `yaml:"assist"`
}

type ServerConfig struct {
	Addr          string   `yaml:"addr"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	IdleTimeout   Duration `yaml:"idle_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type NotifyConfig struct {
	MaxSubscriptions int `yaml:"max_subscriptions"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

type AssistConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8330",
			ShutdownGrace: Duration(2 * time.Second),
		},
		Database: DatabaseConfig{Path: "lantern.db"},
		Session: SessionConfig{
			IdleTimeout:   Duration(15 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Notify: NotifyConfig{MaxSubscriptions: 32},
		Auth: AuthConfig{
			TokenTTL: Duration(24 * time.Hour),
		},
	}
}

// Load reads path and merges it over the defaults. A missing file is not
// an error; the defaults are returned so the daemon can run out of the
// box.
func Load(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Session.IdleTimeout.Std() <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.SweepInterval.Std() <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if c.Notify.MaxSubscriptions <= 0 {
		return fmt.Errorf("notify.max_subscriptions must be positive")
	}
	return nil
}
