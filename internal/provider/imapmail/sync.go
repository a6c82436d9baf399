package imapmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/store"
)

// defaultLockTTL is how long one sync run holds the advisory lock.
const defaultLockTTL = 55 * time.Second

// Fetcher retrieves inbox messages above a UID cursor and reports
// the highest UID seen.
type Fetcher interface {
	FetchSince(
		ctx context.Context,
		acct *model.MailAccount,
		fromUID uint32,
	) ([]model.Message, uint32, error)
}

// SyncEngine runs incremental inbox syncs. Concurrency control is an
// advisory lock in the account row: the claimant that wins the
// conditional update runs, everyone else skips. The UID cursor only
// advances after a full enumeration of the open range, so a crashed
// run re-delivers rather than loses mail.
type SyncEngine struct {
	store   store.Store
	fetcher Fetcher
	logger  *slog.Logger
	lockTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSyncEngine creates a sync engine over the given store and
// fetcher.
func NewSyncEngine(s store.Store, f Fetcher, logger *slog.Logger) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncEngine{
		store:   s,
		fetcher: f,
		logger:  logger,
		lockTTL: defaultLockTTL,
		now:     time.Now,
	}
}

// Sync runs one incremental pass for the account. A run that loses
// the lock claim returns Skipped without touching the mailbox.
func (e *SyncEngine) Sync(
	ctx context.Context,
	acct *model.MailAccount,
) (*provider.SyncResult, error) {
	claimed, err := e.store.ClaimSyncLock(ctx, acct.ID, e.now().Add(e.lockTTL))
	if err != nil {
		return nil, fmt.Errorf("claiming sync lock for %s: %w", acct.ID, err)
	}
	if !claimed {
		return &provider.SyncResult{Skipped: true, LastUID: acct.LastUID}, nil
	}
	defer func() {
		if err := e.store.ClearSyncLock(context.WithoutCancel(ctx), acct.ID); err != nil {
			e.logger.Warn("clearing sync lock",
				"account_id", acct.ID, "err", err)
		}
	}()

	messages, maxUID, err := e.fetcher.FetchSince(ctx, acct, acct.LastUID)
	if err != nil {
		return nil, fmt.Errorf("fetching new mail for %s: %w", acct.ID, err)
	}

	result := &provider.SyncResult{
		NewMessages: len(messages),
		LastUID:     acct.LastUID,
	}

	if maxUID > acct.LastUID {
		if err := e.store.AdvanceSyncCursor(ctx, acct.ID, maxUID); err != nil {
			return nil, fmt.Errorf("advancing sync cursor for %s: %w", acct.ID, err)
		}
		acct.LastUID = maxUID
		result.LastUID = maxUID
	}

	e.logger.Debug("sync pass complete",
		"account_id", acct.ID,
		"new_messages", result.NewMessages,
		"last_uid", result.LastUID)

	return result, nil
}
