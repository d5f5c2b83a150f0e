package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"vendorsync/internal/model"
)

type credMap map[string]model.Credential

func (m credMap) Credential(uk string) (model.Credential, bool) {
	c, ok := m[uk]
	return c, ok
}

func testCreds() credMap {
	return credMap{
		"auth-us-01": {AuthorizationUK: "auth-us-01", ClientID: "cid", ClientSecret: "shh"},
	}
}

func tokenServer(t *testing.T, calls *int64, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "cid" {
			w.WriteHeader(400)
			return
		}
		n := atomic.LoadInt64(calls)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenCoalescing(t *testing.T) {
	var calls int64
	srv := tokenServer(t, &calls, 3600)
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, []string{"scope.a", "scope.b"}, zap.NewNop())

	const n = 25
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background(), "auth-us-01")
			tokens[i], errs[i] = tok.Token, err
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected exactly 1 exchange, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("callers received different tokens: %q vs %q", tokens[i], tokens[0])
		}
	}
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	var calls int64
	srv := tokenServer(t, &calls, 3600)
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		if _, err := m.Token(context.Background(), "auth-us-01"); err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("cached token refetched: %d calls", got)
	}
}

func TestTokenRefreshWithinMargin(t *testing.T) {
	var calls int64
	// expires_in below the safety margin: every call needs a fresh token
	srv := tokenServer(t, &calls, 60)
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, nil, zap.NewNop())
	if _, err := m.Token(context.Background(), "auth-us-01"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := m.Token(context.Background(), "auth-us-01"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("near-expiry token not refreshed: %d calls", got)
	}
}

func TestInvalidateForcesReExchange(t *testing.T) {
	var calls int64
	srv := tokenServer(t, &calls, 3600)
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, nil, zap.NewNop())
	first, err := m.Token(context.Background(), "auth-us-01")
	if err != nil {
		t.Fatal(err)
	}
	m.Invalidate("auth-us-01")
	second, err := m.Token(context.Background(), "auth-us-01")
	if err != nil {
		t.Fatal(err)
	}
	if first.Token == second.Token {
		t.Fatalf("invalidated token reused")
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected 2 exchanges, got %d", got)
	}
}

func TestMissingCredential(t *testing.T) {
	m := NewManager(testCreds(), "http://127.0.0.1:0", nil, zap.NewNop())
	_, err := m.Token(context.Background(), "auth-xx-99")
	var aErr *model.AuthError
	if !errors.As(err, &aErr) || aErr.Reason != model.AuthInvalidCredential {
		t.Fatalf("expected InvalidCredential, got %v", err)
	}
}

func TestRejectedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, nil, zap.NewNop())
	_, err := m.Token(context.Background(), "auth-us-01")
	var aErr *model.AuthError
	if !errors.As(err, &aErr) || aErr.Reason != model.AuthInvalidCredential {
		t.Fatalf("expected InvalidCredential, got %v", err)
	}
}

func TestUnavailableAfterRetries(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewManager(testCreds(), srv.URL, nil, zap.NewNop())
	m.retries = 2
	m.backoff = time.Millisecond

	_, err := m.Token(context.Background(), "auth-us-01")
	var aErr *model.AuthError
	if !errors.As(err, &aErr) || aErr.Reason != model.AuthUnavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("expected initial call + 2 retries, got %d", got)
	}
}
