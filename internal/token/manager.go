// Package token manages Vendor API access tokens: one cached token per
// authorization, refreshed ahead of expiry, with concurrent requests for the
// same authorization coalesced into a single exchange.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"vendorsync/internal/metrics"
	"vendorsync/internal/model"
)

// ExpiryMargin is subtracted from the reported token lifetime so a token is
// refreshed before the Vendor API actually rejects it.
const ExpiryMargin = 180 * time.Second

// CredentialSource resolves client credentials per authorization.
type CredentialSource interface {
	Credential(authorizationUK string) (model.Credential, bool)
}

type Manager struct {
	creds    CredentialSource
	authURL  string
	scope    string
	http     *http.Client
	log      *zap.Logger
	retries  int
	backoff  time.Duration
	mu       sync.RWMutex
	cache    map[string]model.AccessToken
	inflight singleflight.Group
}

func NewManager(creds CredentialSource, authURL string, scopes []string, log *zap.Logger) *Manager {
	return &Manager{
		creds:   creds,
		authURL: authURL,
		scope:   strings.Join(scopes, ","),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
		retries: 3,
		backoff: 500 * time.Millisecond,
		cache:   map[string]model.AccessToken{},
	}
}

// Token returns a valid access token for the authorization, exchanging
// credentials when the cache is empty or the cached token is near expiry.
// Concurrent callers for the same authorization share one exchange.
func (m *Manager) Token(ctx context.Context, authorizationUK string) (model.AccessToken, error) {
	m.mu.RLock()
	tok, ok := m.cache[authorizationUK]
	m.mu.RUnlock()
	if ok && !tok.Expired(0) {
		return tok, nil
	}

	v, err, _ := m.inflight.Do(authorizationUK, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have refreshed
		// between our cache miss and the Do.
		m.mu.RLock()
		tok, ok := m.cache[authorizationUK]
		m.mu.RUnlock()
		if ok && !tok.Expired(0) {
			return tok, nil
		}
		fresh, err := m.exchange(ctx, authorizationUK)
		if err != nil {
			metrics.TokenExchanges.WithLabelValues("error").Inc()
			return model.AccessToken{}, err
		}
		metrics.TokenExchanges.WithLabelValues("ok").Inc()
		m.mu.Lock()
		m.cache[authorizationUK] = fresh
		m.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return model.AccessToken{}, err
	}
	return v.(model.AccessToken), nil
}

// Invalidate drops the cached token for an authorization. Called when a
// Vendor API call comes back 401 despite a cached token.
func (m *Manager) Invalidate(authorizationUK string) {
	m.mu.Lock()
	delete(m.cache, authorizationUK)
	m.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *Manager) exchange(ctx context.Context, authorizationUK string) (model.AccessToken, error) {
	cred, ok := m.creds.Credential(authorizationUK)
	if !ok {
		return model.AccessToken{}, &model.AuthError{
			AuthorizationUK: authorizationUK,
			Reason:          model.AuthInvalidCredential,
			Err:             fmt.Errorf("no credential configured"),
		}
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {cred.ClientID},
		"client_secret": {cred.ClientSecret},
		"scope":         {m.scope},
	}

	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.AccessToken{}, &model.AuthError{AuthorizationUK: authorizationUK, Reason: model.AuthUnavailable, Err: ctx.Err()}
			case <-time.After(m.backoff << (attempt - 1)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
		if err != nil {
			return model.AccessToken{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := m.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		tok, retry, err := m.decode(resp, authorizationUK)
		if err == nil {
			m.log.Debug("token exchanged", zap.String("authorization_uk", authorizationUK))
			return tok, nil
		}
		if !retry {
			return model.AccessToken{}, err
		}
		lastErr = err
	}
	return model.AccessToken{}, &model.AuthError{AuthorizationUK: authorizationUK, Reason: model.AuthUnavailable, Err: lastErr}
}

func (m *Manager) decode(resp *http.Response, authorizationUK string) (model.AccessToken, bool, error) {
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusOK:
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
			return model.AccessToken{}, false, &model.AuthError{
				AuthorizationUK: authorizationUK,
				Reason:          model.AuthUnavailable,
				Err:             fmt.Errorf("malformed token response"),
			}
		}
		ttl := time.Duration(body.ExpiresIn)*time.Second - ExpiryMargin
		if ttl < 0 {
			ttl = 0
		}
		return model.AccessToken{Token: body.AccessToken, Expiry: time.Now().Add(ttl)}, false, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return model.AccessToken{}, false, &model.AuthError{
			AuthorizationUK: authorizationUK,
			Reason:          model.AuthInvalidCredential,
			Err:             fmt.Errorf("token endpoint returned %d", resp.StatusCode),
		}
	default:
		return model.AccessToken{}, true, &model.AuthError{
			AuthorizationUK: authorizationUK,
			Reason:          model.AuthUnavailable,
			Err:             fmt.Errorf("token endpoint returned %d", resp.StatusCode),
		}
	}
}
