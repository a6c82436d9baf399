package model

import "time"

// Provider identifies the external system backing a mail account.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderIMAP    Provider = "imap"
	ProviderChat    Provider = "chat"
)

// Account status constants.
const (
	StatusConnected    = "connected"
	StatusExpired      = "expired"
	StatusDisconnected = "disconnected"
)

// MailAccount is one connected mailbox or messaging channel.
// Credential fields hold ciphertext produced by the crypto package;
// plaintext secrets never appear on this struct.
type MailAccount struct {
	// ID is the internal unique identifier for this account.
	ID string `db:"id"`

	// OwnerID identifies the user who connected the account.
	OwnerID string `db:"owner_id"`

	// Provider identifies which adapter serves this account.
	Provider Provider `db:"provider"`

	// Address is the mailbox address or channel login.
	Address string `db:"address"`

	// AccessTokenEnc is the encrypted OAuth bearer token, empty for
	// password-based providers.
	AccessTokenEnc string `db:"access_token_enc"`

	// RefreshTokenEnc is the encrypted OAuth refresh token.
	RefreshTokenEnc string `db:"refresh_token_enc"`

	// PasswordEnc is the encrypted IMAP/SMTP password.
	PasswordEnc string `db:"password_enc"`

	// ExpiresAt is when the current bearer token expires.
	ExpiresAt time.Time `db:"expires_at"`

	// Status is connected, expired, or disconnected.
	Status string `db:"status"`

	// Endpoint configuration for the IMAP/SMTP provider.
	IMAPHost     string `db:"imap_host"`
	IMAPPort     int    `db:"imap_port"`
	IMAPSecure   bool   `db:"imap_secure"`
	SMTPHost     string `db:"smtp_host"`
	SMTPPort     int    `db:"smtp_port"`
	SMTPSecure   bool   `db:"smtp_secure"`
	SMTPStartTLS bool   `db:"smtp_starttls"`

	// LastUID is the IMAP incremental-sync high-water mark. It only
	// moves forward, and only after a full enumeration of the open
	// UID range has completed.
	LastUID uint32 `db:"last_uid"`

	// SyncingUntil is the advisory sync lock. A sync run whose start
	// time is before this instant must skip.
	SyncingUntil time.Time `db:"syncing_until"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UsesOAuth reports whether the account authenticates with bearer
// tokens rather than a stored password.
func (a *MailAccount) UsesOAuth() bool {
	return a.Provider == ProviderGmail || a.Provider == ProviderOutlook
}

// TokenStale reports whether the bearer token is expired or will be
// within the skew window.
func (a *MailAccount) TokenStale(now time.Time, skew time.Duration) bool {
	if a.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(a.ExpiresAt)
}
