package court

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the credential was rejected and could not be
	// refreshed. Stored credentials have been cleared.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidLogin means the token endpoint rejected the username or password.
	ErrInvalidLogin = errors.New("invalid username or password")
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError is a non-2xx response from the court API.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Is lets callers match by status with the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}
