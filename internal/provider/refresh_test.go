package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.New("test-secret", false)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	return c
}

// tokenEndpoint is a fake OAuth token endpoint recording refresh calls.
type tokenEndpoint struct {
	refreshCalls    int
	failAll         bool
	rotateRefresh   bool
	lastGrantType   string
	lastRefreshUsed string
	lastCode        string
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		e.lastGrantType = r.PostFormValue("grant_type")
		e.lastRefreshUsed = r.PostFormValue("refresh_token")
		e.lastCode = r.PostFormValue("code")
		e.refreshCalls++

		if e.failAll {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}

		resp := map[string]interface{}{
			"access_token": fmt.Sprintf("access-%d", e.refreshCalls),
			"expires_in":   3600,
			"token_type":   "Bearer",
		}
		if e.rotateRefresh {
			resp["refresh_token"] = fmt.Sprintf("refresh-%d", e.refreshCalls)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func seedAccount(
	t *testing.T,
	s *store.SQLiteStore,
	c *crypto.Cipher,
	accessToken, refreshToken string,
	expiresAt time.Time,
) *model.MailAccount {
	t.Helper()

	accessEnc, err := c.Encrypt(accessToken)
	if err != nil {
		t.Fatalf("encrypting access token: %v", err)
	}
	refreshEnc := ""
	if refreshToken != "" {
		refreshEnc, err = c.Encrypt(refreshToken)
		if err != nil {
			t.Fatalf("encrypting refresh token: %v", err)
		}
	}

	acct := model.MailAccount{
		ID:              "acct-1",
		OwnerID:         "user-1",
		Provider:        model.ProviderGmail,
		Address:         "user@example.com",
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expiresAt,
		Status:          model.StatusConnected,
	}
	if err := s.UpsertAccount(context.Background(), acct); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	return &acct
}

func newTestManager(t *testing.T, s *store.SQLiteStore, c *crypto.Cipher, tokenURL string) *TokenManager {
	t.Helper()
	return NewTokenManager(s, c, map[model.Provider]*TokenSource{
		model.ProviderGmail: NewTokenSource(model.OAuthClientConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			TokenURL:     tokenURL,
		}),
	}, nil)
}

func TestExchangeAuthorizationCodeGrant(t *testing.T) {
	endpoint := &tokenEndpoint{rotateRefresh: true}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	ts := NewTokenSource(model.OAuthClientConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
		RedirectURI:  "https://app.example.com/callback",
	})

	token, err := ts.Exchange(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if token.AccessToken != "access-1" {
		t.Errorf("access token %q, want access-1", token.AccessToken)
	}
	if endpoint.lastGrantType != "authorization_code" {
		t.Errorf("grant_type %q, want authorization_code", endpoint.lastGrantType)
	}
	if endpoint.lastCode != "auth-code-1" {
		t.Errorf("code %q not passed through", endpoint.lastCode)
	}
}

func TestAccessTokenFreshTokenNoRefresh(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "current-token", "refresh-1", time.Now().Add(time.Hour))
	m := newTestManager(t, s, c, srv.URL)

	token, err := m.AccessToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "current-token" {
		t.Errorf("got token %q, want stored token", token)
	}
	if endpoint.refreshCalls != 0 {
		t.Errorf("fresh token triggered %d refresh calls", endpoint.refreshCalls)
	}
}

func TestAccessTokenProactiveRefreshWhenStale(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	// Token expires within the 60s skew window.
	acct := seedAccount(t, s, c, "stale-token", "refresh-1", time.Now().Add(30*time.Second))
	m := newTestManager(t, s, c, srv.URL)

	token, err := m.AccessToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "access-1" {
		t.Errorf("got token %q, want refreshed token", token)
	}
	if endpoint.refreshCalls != 1 {
		t.Errorf("got %d refresh calls, want 1", endpoint.refreshCalls)
	}
	if endpoint.lastGrantType != "refresh_token" {
		t.Errorf("got grant_type %q, want refresh_token", endpoint.lastGrantType)
	}

	// New expiry and token must be persisted.
	stored, err := s.GetAccountByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("loading account: %v", err)
	}
	got, err := c.Decrypt(stored.AccessTokenEnc)
	if err != nil {
		t.Fatalf("decrypting persisted token: %v", err)
	}
	if got != "access-1" {
		t.Errorf("persisted token %q, want access-1", got)
	}
	if !stored.ExpiresAt.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry not advanced: %v", stored.ExpiresAt)
	}
}

func TestRefreshPreservesRefreshTokenWhenNotRotated(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{rotateRefresh: false}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "stale", "original-refresh", time.Now().Add(-time.Minute))
	m := newTestManager(t, s, c, srv.URL)

	if _, err := m.AccessToken(context.Background(), acct); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	stored, err := s.GetAccountByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("loading account: %v", err)
	}
	got, err := c.Decrypt(stored.RefreshTokenEnc)
	if err != nil {
		t.Fatalf("decrypting refresh token: %v", err)
	}
	if got != "original-refresh" {
		t.Errorf("refresh token %q, want original preserved", got)
	}
}

func TestRefreshFailureMarksAccountExpired(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{failAll: true}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "stale", "bad-refresh", time.Now().Add(-time.Minute))
	m := newTestManager(t, s, c, srv.URL)

	_, err := m.AccessToken(context.Background(), acct)
	if !IsAuthExpired(err) {
		t.Fatalf("got %v, want AuthExpiredError", err)
	}

	stored, err := s.GetAccountByID(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("loading account: %v", err)
	}
	if stored.Status != model.StatusExpired {
		t.Errorf("account status %q, want expired", stored.Status)
	}
}

func TestRefreshWithoutCredentialMarksExpired(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "stale", "", time.Now().Add(-time.Minute))
	m := newTestManager(t, s, c, srv.URL)

	_, err := m.AccessToken(context.Background(), acct)
	if !IsAuthExpired(err) {
		t.Fatalf("got %v, want AuthExpiredError", err)
	}
	if endpoint.refreshCalls != 0 {
		t.Errorf("refresh attempted with no credential")
	}
}

func TestWithRefreshReactiveRetryOnce(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "revoked-token", "refresh-1", time.Now().Add(time.Hour))
	m := newTestManager(t, s, c, srv.URL)

	calls := 0
	err := WithRefresh(context.Background(), m, acct, func(token string) error {
		calls++
		if token == "revoked-token" {
			return &AuthError{Provider: model.ProviderGmail, Message: "401"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefresh failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("call ran %d times, want 2 (original + one retry)", calls)
	}
	if endpoint.refreshCalls != 1 {
		t.Errorf("got %d refresh calls, want 1", endpoint.refreshCalls)
	}
}

func TestWithRefreshRetryStillUnauthorized(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "revoked", "refresh-1", time.Now().Add(time.Hour))
	m := newTestManager(t, s, c, srv.URL)

	calls := 0
	err := WithRefresh(context.Background(), m, acct, func(string) error {
		calls++
		return &AuthError{Provider: model.ProviderGmail, Message: "401"}
	})
	if !IsAuthExpired(err) {
		t.Fatalf("got %v, want AuthExpiredError", err)
	}
	if calls != 2 {
		t.Errorf("call ran %d times, want exactly 2", calls)
	}

	stored, err2 := s.GetAccountByID(context.Background(), acct.ID)
	if err2 != nil {
		t.Fatalf("loading account: %v", err2)
	}
	if stored.Status != model.StatusExpired {
		t.Errorf("account status %q, want expired", stored.Status)
	}
}

func TestWithRefreshNonAuthErrorNotRetried(t *testing.T) {
	s := newTestStore(t)
	c := newTestCipher(t)
	endpoint := &tokenEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	acct := seedAccount(t, s, c, "token", "refresh-1", time.Now().Add(time.Hour))
	m := newTestManager(t, s, c, srv.URL)

	calls := 0
	wantErr := &TransientError{Provider: model.ProviderGmail, Message: "503"}
	err := WithRefresh(context.Background(), m, acct, func(string) error {
		calls++
		return wantErr
	})
	if !IsTransient(err) {
		t.Fatalf("got %v, want TransientError", err)
	}
	if calls != 1 {
		t.Errorf("transient error retried: %d calls", calls)
	}
	if endpoint.refreshCalls != 0 {
		t.Errorf("transient error triggered a refresh")
	}
}
