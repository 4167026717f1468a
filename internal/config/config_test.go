package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Reconnect.MaxDelay = Duration(time.Minute)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Reconnect.MaxDelay.D() != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", loaded.Reconnect.MaxDelay.D())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Reconnect.Delay.D() != 3*time.Second {
		t.Errorf("Delay = %v, want 3s", cfg.Reconnect.Delay.D())
	}
	if cfg.Chat.PollInterval.D() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Chat.PollInterval.D())
	}
	if cfg.Chat.Transport != TransportSocket || cfg.Chat.SendVia != SendViaREST {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestLoadPartialAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `api_base_url = "https://court.example"
ws_base_url = "wss://court.example"

[reconnect]
delay = "5s"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reconnect.Delay.D() != 5*time.Second {
		t.Errorf("Delay = %v, want 5s", cfg.Reconnect.Delay.D())
	}
	if cfg.Reconnect.MaxDelay.D() != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.Reconnect.MaxDelay.D())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"poll transport", func(c *Config) { c.Chat.Transport = TransportPoll }, false},
		{"fixed cadence", func(c *Config) { c.Reconnect.MaxDelay = c.Reconnect.Delay }, false},
		{"bad transport", func(c *Config) { c.Chat.Transport = "carrier-pigeon" }, true},
		{"bad send_via", func(c *Config) { c.Chat.SendVia = "fax" }, true},
		{"max below delay", func(c *Config) { c.Reconnect.MaxDelay = Duration(time.Second) }, true},
		{"bad api url", func(c *Config) { c.APIBaseURL = "not a url" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	if cfg.Location() != time.Local {
		t.Error("empty timezone should use time.Local")
	}
	cfg.Timezone = "UTC"
	if cfg.Location().String() != "UTC" {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
