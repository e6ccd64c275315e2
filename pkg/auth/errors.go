package auth

import "fmt"

// ConfigurationError reports a missing required identifier. It is raised
// synchronously, before any network call is attempted.
type ConfigurationError struct {
	Field string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

// AuthenticationError reports a failed token exchange or role assumption.
// StatusCode and Body carry the provider response for diagnostics when the
// failure came from a non-success HTTP status.
type AuthenticationError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (%s, status %d): %s", e.Op, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Op)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
