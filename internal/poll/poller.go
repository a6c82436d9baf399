// Package poll runs the background sync loop: the OAuth providers
// are polled on demand by callers, but IMAP accounts need a periodic
// cursor sync to notice new mail.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/mailhub/internal/mailbox"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/store"
)

// syncTimeout bounds one account's sync pass.
const syncTimeout = 30 * time.Second

// defaultInterval is the polling cadence when none is configured.
const defaultInterval = 2 * time.Minute

// Poller periodically syncs every connected IMAP account.
type Poller struct {
	store      store.Store
	aggregator *mailbox.Aggregator
	logger     *slog.Logger
	interval   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a poller. interval <= 0 selects the default cadence.
func New(
	s store.Store,
	aggregator *mailbox.Aggregator,
	interval time.Duration,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		store:      s,
		aggregator: aggregator,
		logger:     logger,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the polling loop. Calling Start on a running poller
// is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.loop()
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial pass before the first tick.
	p.SyncAll(context.Background())

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.SyncAll(context.Background())
		}
	}
}

// SyncAll runs one sync pass over every connected IMAP account.
// Per-account failures are logged, not propagated: one broken
// mailbox must not stall the others.
func (p *Poller) SyncAll(ctx context.Context) {
	imapKind := model.ProviderIMAP
	status := model.StatusConnected
	accounts, err := p.store.GetAccounts(ctx, store.AccountFilter{
		Provider: &imapKind,
		Status:   &status,
	})
	if err != nil {
		p.logger.Error("listing imap accounts", "err", err)
		return
	}

	for _, acct := range accounts {
		syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		result, err := p.aggregator.Sync(syncCtx, acct.ID)
		cancel()

		switch {
		case provider.IsAuthExpired(err):
			p.logger.Warn("account credentials expired",
				"account_id", acct.ID, "address", acct.Address)
		case err != nil:
			p.logger.Warn("sync pass failed",
				"account_id", acct.ID, "err", err)
		case result.Skipped:
			p.logger.Debug("sync skipped, lock held", "account_id", acct.ID)
		case result.NewMessages > 0:
			p.logger.Info("new mail",
				"account_id", acct.ID,
				"count", result.NewMessages,
				"last_uid", result.LastUID)
		}
	}
}
