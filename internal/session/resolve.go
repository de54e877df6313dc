package session

import (
	"os"

	"github.com/matheus3301/desk/internal/config"
)

const (
	// DefaultProfileName is used when nothing else names a profile.
	DefaultProfileName = "main"
	// ProfileEnv selects a profile for every command run from a shell.
	ProfileEnv = "DESK_PROFILE"
)

// Resolve picks the profile to operate on. The --profile flag wins, then
// $DESK_PROFILE, then default_profile from config.toml, then "main". An
// unreadable config.toml is treated as absent.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(ProfileEnv); name != "" {
		return name
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}
