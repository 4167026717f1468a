package profile

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// maxSocketPath is the usable sun_path length on macOS, the shorter of the
// supported platforms.
const maxSocketPath = 103

var (
	namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
	names       = newNameValidator()
)

func newNameValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("profilename", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateName reports whether name can be used as a profile. The name
// becomes a directory under BaseDir, and the daemon socket inside it must
// fit a Unix socket address.
func ValidateName(name string) error {
	if err := names.Var(name, "required,max=64,profilename"); err != nil {
		return fmt.Errorf("invalid profile name %q: use 1-64 lowercase letters, digits, '-' or '_'", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("profile %q: socket path %s is longer than %d bytes, set COURTDESK_HOME to a shorter directory", name, p, maxSocketPath)
	}
	return nil
}
