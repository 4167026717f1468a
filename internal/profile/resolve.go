package profile

import (
	"os"

	"github.com/courtdesk/courtdesk/internal/config"
)

// DefaultName is used when nothing selects a profile.
const DefaultName = "main"

// Resolve picks the active profile. The --profile flag wins, then
// $COURTDESK_PROFILE, then default_profile in config.toml.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("COURTDESK_PROFILE"); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
