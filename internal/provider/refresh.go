package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/store"
)

// expirySkew is subtracted from the stored expiry when deciding
// whether a token is stale, so a token about to expire mid-call is
// refreshed proactively.
const expirySkew = 60 * time.Second

// TokenSource performs the OAuth2 token grants for one provider at
// its configured token endpoint.
type TokenSource struct {
	config *oauth2.Config
}

// NewTokenSource creates a token source for one OAuth provider. The
// token endpoint stays overridable so tests can point it at a local
// server.
func NewTokenSource(cfg model.OAuthClientConfig) *TokenSource {
	return &TokenSource{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Refresh performs the refresh-token grant. The returned token's
// refresh token is empty when the provider does not rotate it.
func (ts *TokenSource) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := ts.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// Exchange performs the authorization-code grant used by the external
// consent callback when first connecting an account.
func (ts *TokenSource) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := ts.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

// TokenManager resolves a usable bearer token for an account,
// refreshing and persisting proactively or on demand. It owns the
// invariant that an account whose refresh fails is flipped to
// expired.
type TokenManager struct {
	store   store.Store
	cipher  *crypto.Cipher
	sources map[model.Provider]*TokenSource
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewTokenManager creates a TokenManager over the given store and
// cipher with one TokenSource per OAuth provider.
func NewTokenManager(
	s store.Store,
	cipher *crypto.Cipher,
	sources map[model.Provider]*TokenSource,
	logger *slog.Logger,
) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		store:   s,
		cipher:  cipher,
		sources: sources,
		logger:  logger,
		now:     time.Now,
	}
}

// AccessToken returns a bearer token for the account, refreshing
// first when the stored token is stale. A failed refresh flips the
// account to expired and returns *AuthExpiredError.
func (m *TokenManager) AccessToken(ctx context.Context, acct *model.MailAccount) (string, error) {
	token, err := m.cipher.DecryptOrLegacy(acct.AccessTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypting access token for %s: %w", acct.ID, err)
	}

	if token != "" && !acct.TokenStale(m.now(), expirySkew) {
		return token, nil
	}

	return m.refresh(ctx, acct)
}

// ForceRefresh discards the current token and performs a refresh
// regardless of the stored expiry. Used after a 401/403.
func (m *TokenManager) ForceRefresh(ctx context.Context, acct *model.MailAccount) (string, error) {
	return m.refresh(ctx, acct)
}

// MarkExpired flips the account status to expired and persists it.
// The status may never remain connected after an authorization
// failure, so persistence errors are logged but not returned.
func (m *TokenManager) MarkExpired(ctx context.Context, acct *model.MailAccount) {
	acct.Status = model.StatusExpired
	if err := m.store.SetAccountStatus(ctx, acct.ID, model.StatusExpired); err != nil {
		m.logger.Error("persisting expired status",
			"account_id", acct.ID, "err", err)
	}
}

func (m *TokenManager) refresh(ctx context.Context, acct *model.MailAccount) (string, error) {
	source, ok := m.sources[acct.Provider]
	if !ok {
		return "", &AuthError{
			Provider: acct.Provider,
			Message:  "no token source configured",
		}
	}

	refreshToken, err := m.cipher.DecryptOrLegacy(acct.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypting refresh token for %s: %w", acct.ID, err)
	}
	if refreshToken == "" {
		m.MarkExpired(ctx, acct)
		return "", &AuthExpiredError{
			Provider:  acct.Provider,
			AccountID: acct.ID,
			Cause:     fmt.Errorf("no refresh credential stored"),
		}
	}

	token, err := source.Refresh(ctx, refreshToken)
	if err != nil {
		m.MarkExpired(ctx, acct)
		return "", &AuthExpiredError{
			Provider:  acct.Provider,
			AccountID: acct.ID,
			Cause:     err,
		}
	}

	// Some providers rotate the refresh token, others omit it on
	// refresh; keep the previous one in that case.
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	accessEnc, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypting access token for %s: %w", acct.ID, err)
	}
	refreshEnc, err := m.cipher.Encrypt(newRefresh)
	if err != nil {
		return "", fmt.Errorf("encrypting refresh token for %s: %w", acct.ID, err)
	}

	expiresAt := token.Expiry
	if err := m.store.UpdateAccountTokens(ctx, acct.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return "", fmt.Errorf("persisting refreshed tokens for %s: %w", acct.ID, err)
	}

	acct.AccessTokenEnc = accessEnc
	acct.RefreshTokenEnc = refreshEnc
	acct.ExpiresAt = expiresAt
	acct.Status = model.StatusConnected

	m.logger.Debug("refreshed bearer token",
		"account_id", acct.ID, "provider", acct.Provider,
		"expires_at", expiresAt)

	return token.AccessToken, nil
}

// WithRefresh runs call with a valid bearer token. When the call
// fails on authorization it performs exactly one reactive refresh and
// one retry; a failed refresh or a still-unauthorized retry flips the
// account to expired and returns *AuthExpiredError. Nothing else is
// retried.
func WithRefresh(
	ctx context.Context,
	m *TokenManager,
	acct *model.MailAccount,
	call func(token string) error,
) error {
	token, err := m.AccessToken(ctx, acct)
	if err != nil {
		return err
	}

	err = call(token)
	if err == nil || !IsAuthError(err) {
		return err
	}

	token, refreshErr := m.ForceRefresh(ctx, acct)
	if refreshErr != nil {
		return refreshErr
	}

	if err := call(token); err != nil {
		if IsAuthError(err) {
			m.MarkExpired(ctx, acct)
			return &AuthExpiredError{
				Provider:  acct.Provider,
				AccountID: acct.ID,
				Cause:     err,
			}
		}
		return err
	}

	return nil
}
