// Package mailbox fans unified mailbox operations out across every
// connected account and merges the results, isolating per-account
// failures. It also owns the account connect/disconnect lifecycle and
// the send-item ledger.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/store"
)

// maxAccountsPerProvider caps how many accounts of one provider kind
// take part in a fan-out.
const maxAccountsPerProvider = 3

// callTimeout bounds every per-account provider call.
const callTimeout = 30 * time.Second

// AccountError reports one account whose call failed during a
// fan-out. The overall operation still succeeds.
type AccountError struct {
	AccountID string `json:"accountId"`
	Address   string `json:"accountEmail"`
	Error     string `json:"error"`
}

// Aggregator routes unified operations to per-provider adapters.
type Aggregator struct {
	store     store.Store
	providers map[model.Provider]provider.Provider
	logger    *slog.Logger
}

// NewAggregator creates an aggregator over the registered adapters.
func NewAggregator(
	s store.Store,
	providers map[model.Provider]provider.Provider,
	logger *slog.Logger,
) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:     s,
		providers: providers,
		logger:    logger,
	}
}

// ListFolder lists the folder across every eligible account of the
// owner, merged and sorted newest first. Accounts whose call fails
// are reported in the error list, not as an overall failure.
func (g *Aggregator) ListFolder(
	ctx context.Context,
	ownerID string,
	folder provider.Folder,
) ([]model.Message, []AccountError, error) {
	accounts, err := g.eligibleAccounts(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu        sync.Mutex
		merged    []model.Message
		accErrors []AccountError
		wg        sync.WaitGroup
	)

	for i := range accounts {
		acct := accounts[i]
		adapter, ok := g.providers[acct.Provider]
		if !ok {
			continue
		}
		// Push-based channels have nothing to list; their accounts
		// are healthy, not failed.
		if _, ok := adapter.(provider.Folderless); ok {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			messages, err := adapter.List(callCtx, &acct, folder)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.logger.Warn("account list failed",
					"account_id", acct.ID,
					"provider", acct.Provider,
					"folder", folder,
					"err", err)
				accErrors = append(accErrors, AccountError{
					AccountID: acct.ID,
					Address:   acct.Address,
					Error:     err.Error(),
				})
				return
			}
			merged = append(merged, messages...)
		}()
	}
	wg.Wait()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date.After(merged[j].Date)
	})
	sort.Slice(accErrors, func(i, j int) bool {
		return accErrors[i].AccountID < accErrors[j].AccountID
	})

	return merged, accErrors, nil
}

// GetMessage fetches one full message from the account that owns it.
func (g *Aggregator) GetMessage(
	ctx context.Context,
	accountID, messageID string,
) (*model.Message, error) {
	acct, adapter, err := g.route(ctx, accountID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return adapter.Get(callCtx, acct, messageID)
}

// Modify applies an action to messages of one account.
func (g *Aggregator) Modify(
	ctx context.Context,
	accountID string,
	ids []string,
	action provider.Action,
) ([]provider.ActionResult, error) {
	acct, adapter, err := g.route(ctx, accountID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return adapter.Modify(callCtx, acct, ids, action)
}

// Sync runs an incremental sync on the account, when its provider
// supports one.
func (g *Aggregator) Sync(
	ctx context.Context,
	accountID string,
) (*provider.SyncResult, error) {
	acct, adapter, err := g.route(ctx, accountID)
	if err != nil {
		return nil, err
	}

	syncer, ok := adapter.(provider.Syncer)
	if !ok {
		return nil, &provider.ValidationError{
			Message: fmt.Sprintf("%s accounts do not support incremental sync", acct.Provider),
		}
	}
	return syncer.Sync(ctx, acct)
}

// EmptyTrash empties the trash on the account, when its provider
// supports a batch empty.
func (g *Aggregator) EmptyTrash(
	ctx context.Context,
	accountID string,
) (int, error) {
	acct, adapter, err := g.route(ctx, accountID)
	if err != nil {
		return 0, err
	}

	emptier, ok := adapter.(provider.TrashEmptier)
	if !ok {
		return 0, &provider.ValidationError{
			Message: fmt.Sprintf("%s accounts do not support emptying trash", acct.Provider),
		}
	}
	return emptier.EmptyTrash(ctx, acct)
}

// route loads the account and resolves its adapter.
func (g *Aggregator) route(
	ctx context.Context,
	accountID string,
) (*model.MailAccount, provider.Provider, error) {
	acct, err := g.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	adapter, ok := g.providers[acct.Provider]
	if !ok {
		return nil, nil, &provider.ValidationError{
			Message: fmt.Sprintf("no adapter registered for provider %q", acct.Provider),
		}
	}
	return acct, adapter, nil
}

// eligibleAccounts returns the owner's non-disconnected accounts,
// capped per provider kind.
func (g *Aggregator) eligibleAccounts(
	ctx context.Context,
	ownerID string,
) ([]model.MailAccount, error) {
	accounts, err := g.store.GetAccounts(ctx, store.AccountFilter{
		OwnerID: &ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing accounts for %s: %w", ownerID, err)
	}

	perProvider := make(map[model.Provider]int)
	eligible := make([]model.MailAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Status == model.StatusDisconnected {
			continue
		}
		if perProvider[acct.Provider] >= maxAccountsPerProvider {
			continue
		}
		perProvider[acct.Provider]++
		eligible = append(eligible, acct)
	}
	return eligible, nil
}
