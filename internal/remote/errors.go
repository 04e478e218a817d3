package remote

import (
	"errors"
	"fmt"
)

// ErrExpiredCredential is matched by every error caused by a stale access token.
// Callers recover by refreshing the credential and retrying the same call.
var ErrExpiredCredential = errors.New("remote: access token expired")

// APIError represents a non-credential failure reported by the remote API,
// including 4xx/5xx responses and malformed payloads.
type APIError struct {
	Operation  string // The endpoint that failed (e.g., "list_folder", "download")
	StatusCode int    // HTTP status code, if applicable (0 for transport errors)
	Summary    string // Error summary from the API or the transport
	Err        error  // Underlying error, if any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Summary)
	}

	return fmt.Sprintf("api error during %s: %s", e.Operation, e.Summary)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ExpiredCredentialError is returned when the API rejects the access token as expired.
// It matches ErrExpiredCredential through errors.Is.
type ExpiredCredentialError struct {
	Operation string
	Summary   string
}

func (e *ExpiredCredentialError) Error() string {
	return fmt.Sprintf("expired credential during %s: %s", e.Operation, e.Summary)
}

func (e *ExpiredCredentialError) Is(target error) bool {
	return target == ErrExpiredCredential
}

// AuthExhaustedError is returned once the refresh budget of a call site is spent
// and the remote still reports an expired credential.
type AuthExhaustedError struct {
	Operation string // The operation that kept failing
	Attempts  int    // Number of attempts made, including the first one
	Err       error  // The last expired-credential error
}

func (e *AuthExhaustedError) Error() string {
	return fmt.Sprintf("credential still expired during %s after %d attempts", e.Operation, e.Attempts)
}

func (e *AuthExhaustedError) Unwrap() error {
	return e.Err
}

// IsExpiredCredential reports whether err was caused by a stale access token.
func IsExpiredCredential(err error) bool {
	return errors.Is(err, ErrExpiredCredential)
}
