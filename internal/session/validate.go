package session

import (
	"fmt"
	"regexp"
)

// Profile names become directory names under profiles/, so they are kept to
// lowercase letters, digits, '-' and '_', and must start with a letter or digit.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name can be used as a profile.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use up to 64 of a-z 0-9 - _, starting with a letter or digit", name)
	}
	return nil
}
