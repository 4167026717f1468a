package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Chat transports.
const (
	TransportSocket = "socket"
	TransportPoll   = "poll"
)

// Chat send paths.
const (
	SendViaREST   = "rest"
	SendViaSocket = "socket"
)

// Config represents the global ~/.courtdesk/config.toml.
type Config struct {
	DefaultProfile string    `toml:"default_profile" validate:"omitempty,max=64"`
	APIBaseURL     string    `toml:"api_base_url" validate:"required,url"`
	WSBaseURL      string    `toml:"ws_base_url" validate:"required,url"`
	RequestTimeout Duration  `toml:"request_timeout" validate:"gt=0"`
	Timezone       string    `toml:"timezone" validate:"omitempty,timezone"`
	LogLevel       string    `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Reconnect      Reconnect `toml:"reconnect"`
	Chat           Chat      `toml:"chat"`
}

// Reconnect configures the push channel's reconnect delay. The delay doubles
// after each failed attempt up to MaxDelay; MaxDelay equal to Delay gives a
// fixed cadence.
type Reconnect struct {
	Delay    Duration `toml:"delay" validate:"gt=0"`
	MaxDelay Duration `toml:"max_delay" validate:"gtefield=Delay"`
}

// Chat configures how conversations are transported.
type Chat struct {
	Transport    string   `toml:"transport" validate:"oneof=socket poll"`
	SendVia      string   `toml:"send_via" validate:"oneof=rest socket"`
	PollInterval Duration `toml:"poll_interval" validate:"gt=0"`
}

// Duration is a time.Duration written as a Go duration string ("3s") in TOML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "http://localhost:8000"
	}
	if c.WSBaseURL == "" {
		c.WSBaseURL = "ws://localhost:8000"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(15 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = Duration(3 * time.Second)
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = Duration(30 * time.Second)
	}
	if c.Chat.Transport == "" {
		c.Chat.Transport = TransportSocket
	}
	if c.Chat.SendVia == "" {
		c.Chat.SendVia = SendViaREST
	}
	if c.Chat.PollInterval == 0 {
		c.Chat.PollInterval = Duration(2 * time.Second)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the configured display time zone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads config from the given path, applies defaults and validates it.
// Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
