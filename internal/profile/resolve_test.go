package profile

import (
	"testing"

	"github.com/courtdesk/courtdesk/internal/config"
)

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("COURTDESK_HOME", t.TempDir())
	t.Setenv("COURTDESK_PROFILE", "")

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve(\"\") without config = %q, want %q", got, DefaultName)
	}

	cfg := config.Default()
	cfg.DefaultProfile = "clerk"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "clerk" {
		t.Errorf("Resolve(\"\") = %q, want clerk", got)
	}
	t.Setenv("COURTDESK_PROFILE", "registry")
	if got := Resolve(""); got != "registry" {
		t.Errorf("Resolve(\"\") with env = %q, want registry", got)
	}
	if got := Resolve("judge"); got != "judge" {
		t.Errorf("Resolve(judge) = %q, want judge", got)
	}
}
