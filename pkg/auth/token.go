package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AccessToken returns a currently-valid LWA bearer token. The cached token
// is reused while more than five minutes of lifetime remain; otherwise a
// refresh-token grant is performed against the token endpoint and the
// result replaces the cache. Refreshes are single-flighted: concurrent
// callers racing on an expired cache perform exactly one exchange.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()

	token, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Token store read failed, refreshing")
	}
	if token != nil && token.TTL() > tokenExpiryBuffer {
		m.logger.Debug().Time("expires_at", token.ExpiresAt).Msg("Using cached access token")
		return token.Value, nil
	}

	token, err = m.refreshToken(ctx)
	if err != nil {
		tokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	tokenRefreshesTotal.WithLabelValues("success").Inc()

	if err := m.store.Put(ctx, token); err != nil {
		m.logger.Warn().Err(err).Msg("Token store write failed")
	}

	m.logger.Info().
		Time("expires_at", token.ExpiresAt).
		Msg("Access token refreshed")

	return token.Value, nil
}

// refreshToken performs the refresh-token grant: a form-encoded POST with
// the trimmed client id, client secret, and refresh token.
func (m *Manager) refreshToken(ctx context.Context) (*Token, error) {
	conf := &oauth2.Config{
		ClientID:     strings.TrimSpace(m.cfg.ClientID),
		ClientSecret: strings.TrimSpace(m.cfg.ClientSecret),
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	if m.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
	}

	src := conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: strings.TrimSpace(m.cfg.RefreshToken),
	})

	grant, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, &AuthenticationError{
				Op:         "token_exchange",
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
				Err:        err,
			}
		}
		return nil, &AuthenticationError{Op: "token_exchange", Err: err}
	}

	expiresAt := grant.Expiry
	if expiresAt.IsZero() {
		// Providers that omit expires_in get a conservative lifetime.
		expiresAt = time.Now().Add(time.Hour)
	}

	return &Token{Value: grant.AccessToken, ExpiresAt: expiresAt}, nil
}
