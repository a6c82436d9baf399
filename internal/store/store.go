package store

import (
	"context"
	"time"

	"github.com/nhle/mailhub/internal/model"
)

// AccountFilter controls account list queries.
type AccountFilter struct {
	OwnerID  *string
	Provider *model.Provider
	Status   *string
	Limit    int
}

// Store defines the persistence interface for mail accounts and send
// items. Message content is never persisted.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, acct model.MailAccount) error
	GetAccountByID(ctx context.Context, id string) (*model.MailAccount, error)
	GetAccounts(ctx context.Context, filter AccountFilter) ([]model.MailAccount, error)
	DeleteAccount(ctx context.Context, id string) error

	// SetAccountStatus updates only the status column.
	SetAccountStatus(ctx context.Context, id, status string) error

	// UpdateAccountTokens persists a refreshed bearer token, the
	// (possibly unchanged) refresh token, and the new expiry.
	UpdateAccountTokens(ctx context.Context, id, accessTokenEnc, refreshTokenEnc string, expiresAt time.Time) error

	// === Sync cursor (IMAP) ===

	// ClaimSyncLock atomically claims the advisory sync lock when it
	// is not held (syncing_until in the past). It reports whether the
	// claim succeeded; callers that lose the claim must skip.
	ClaimSyncLock(ctx context.Context, id string, until time.Time) (bool, error)

	// ClearSyncLock releases the advisory lock unconditionally.
	ClearSyncLock(ctx context.Context, id string) error

	// AdvanceSyncCursor moves last_uid forward. The cursor never
	// moves backwards: a smaller value is a no-op.
	AdvanceSyncCursor(ctx context.Context, id string, uid uint32) error

	// === Send items ===

	UpsertSendItem(ctx context.Context, item model.SendItem) error
	GetSendItemByID(ctx context.Context, id string) (*model.SendItem, error)
	GetSendItems(ctx context.Context, accountID string, limit int) ([]model.SendItem, error)
}
