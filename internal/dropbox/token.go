package dropbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoRefreshToken is returned when a refresh is requested but the client was
// configured with a bare access token.
var ErrNoRefreshToken = errors.New("dropbox: no refresh token configured")

// TokenSource holds the access token shared by every request of a Client.
// Refreshes are serialized: callers that queued behind an in-flight refresh
// reuse its result instead of hitting the token endpoint again.
type TokenSource struct {
	mu          sync.RWMutex
	token       *oauth2.Token
	refreshedAt time.Time

	oauth        *oauth2.Config
	refreshToken string
	now          func() time.Time
}

// NewTokenSource creates a token source. oauth may be nil, in which case the
// token can never be refreshed.
func NewTokenSource(accessToken, refreshToken string, oauth *oauth2.Config) *TokenSource {
	return &TokenSource{
		token:        &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
		oauth:        oauth,
		refreshToken: refreshToken,
		now:          time.Now,
	}
}

// Token implements oauth2.TokenSource. It never refreshes on its own.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.token == nil || ts.token.AccessToken == "" {
		return nil, errors.New("dropbox: no access token available")
	}

	return ts.token, nil
}

// Refresh exchanges the refresh token for a new access token.
func (ts *TokenSource) Refresh(ctx context.Context) error {
	requested := ts.now()

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.refreshedAt.After(requested) {
		return nil
	}

	if ts.oauth == nil || ts.refreshToken == "" {
		return ErrNoRefreshToken
	}

	token, err := ts.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.refreshToken}).Token()
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}

	// Dropbox does not rotate refresh tokens, keep ours if none came back.
	if token.RefreshToken != "" {
		ts.refreshToken = token.RefreshToken
	}

	ts.token = token
	ts.refreshedAt = ts.now()

	return nil
}
