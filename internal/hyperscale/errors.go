package hyperscale

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response, or a 2xx response whose body failed a
// structural check.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NonConformantError reports that the masking service rejected values that do
// not fit the assigned algorithm while fail-on-non-conformant was set.
type NonConformantError struct {
	API     APIError
	Columns []string
}

func (e *NonConformantError) Error() string {
	if len(e.Columns) == 0 {
		return "non-conformant data: " + e.API.Message
	}
	return fmt.Sprintf("non-conformant data in %v: %s", e.Columns, e.API.Message)
}

func (e *NonConformantError) Unwrap() error { return &e.API }

// IsNonConformant reports whether err is or wraps a NonConformantError.
func IsNonConformant(err error) bool {
	var nc *NonConformantError
	return errors.As(err, &nc)
}
