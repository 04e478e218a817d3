package remote

import (
	"context"
	"fmt"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
)

// DefaultRefreshBudget is how many credential refreshes a single call site may trigger.
const DefaultRefreshBudget = 1

// CredentialRefresher refreshes the access token of a client.
type CredentialRefresher interface {
	RefreshCredential(ctx context.Context) error
}

// WithRefresh runs fn and, while it fails with an expired credential and the
// budget allows it, refreshes the credential and runs fn again. Once the budget
// is spent an *AuthExhaustedError is returned. Any other error is returned as is.
func WithRefresh(ctx context.Context, r CredentialRefresher, budget int, operation string, fn func(ctx context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx)

	attempts := 0

	for {
		attempts++

		err := fn(ctx)
		if err == nil || !IsExpiredCredential(err) {
			return err
		}

		if attempts > budget {
			return &AuthExhaustedError{Operation: operation, Attempts: attempts, Err: err}
		}

		logger.InfoContext(ctx, "access token expired, refreshing and retrying", "operation", operation, "attempt", attempts)

		if rerr := r.RefreshCredential(ctx); rerr != nil {
			return fmt.Errorf("failed to refresh credential during %s: %w", operation, rerr)
		}
	}
}
