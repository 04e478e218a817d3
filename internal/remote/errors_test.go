package remote

import (
	"errors"
	"fmt"
	"testing"
)

// TestAPIError_Error verifies error message formatting
func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &APIError{
				Operation:  "list_folder",
				StatusCode: 409,
				Summary:    "path/not_found/",
			},
			wantFormat: "api error during list_folder (HTTP 409): path/not_found/",
		},
		{
			name: "without HTTP status code",
			err: &APIError{
				Operation: "download",
				Summary:   "connection reset by peer",
			},
			wantFormat: "api error during download: connection reset by peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

func TestExpiredCredentialError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("listing /a: %w", &ExpiredCredentialError{Operation: "list_folder", Summary: "expired_access_token/"})

	if !errors.Is(err, ErrExpiredCredential) {
		t.Fatal("expected wrapped ExpiredCredentialError to match ErrExpiredCredential")
	}

	if !IsExpiredCredential(err) {
		t.Fatal("IsExpiredCredential() = false, want true")
	}

	if IsExpiredCredential(&APIError{Operation: "download", StatusCode: 500}) {
		t.Fatal("APIError must not be reported as expired credential")
	}
}

func TestAuthExhaustedError_Unwrap(t *testing.T) {
	inner := &ExpiredCredentialError{Operation: "download"}
	err := &AuthExhaustedError{Operation: "download", Attempts: 2, Err: inner}

	expected := "credential still expired during download after 2 attempts"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	if !errors.Is(err, ErrExpiredCredential) {
		t.Error("AuthExhaustedError should unwrap to the expired credential error")
	}

	var target *AuthExhaustedError
	if !errors.As(fmt.Errorf("task failed: %w", err), &target) {
		t.Error("errors.As should find AuthExhaustedError through wrapping")
	}
}
