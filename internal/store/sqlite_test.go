package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/store"
	"github.com/nhle/mailhub/tests/testutil"
)

func seedAccount(t *testing.T, s *store.SQLiteStore, id, owner string, p model.Provider) model.MailAccount {
	t.Helper()
	acct := model.MailAccount{
		ID:       id,
		OwnerID:  owner,
		Provider: p,
		Address:  id + "@example.com",
		Status:   model.StatusConnected,
	}
	if err := s.UpsertAccount(context.Background(), acct); err != nil {
		t.Fatalf("seeding account %s: %v", id, err)
	}
	return acct
}

func TestAccountRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	acct := model.MailAccount{
		ID:           "acct-1",
		OwnerID:      "user-1",
		Provider:     model.ProviderIMAP,
		Address:      "dana@example.org",
		PasswordEnc:  "enc:pw",
		Status:       model.StatusConnected,
		IMAPHost:     "imap.example.org",
		IMAPPort:     993,
		IMAPSecure:   true,
		SMTPHost:     "smtp.example.org",
		SMTPPort:     587,
		SMTPStartTLS: true,
	}
	if err := s.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("upserting account: %v", err)
	}

	got, err := s.GetAccountByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("getting account: %v", err)
	}
	if got.Address != "dana@example.org" || got.Provider != model.ProviderIMAP {
		t.Errorf("got %s/%s, want dana@example.org/imap", got.Address, got.Provider)
	}
	if !got.IMAPSecure || got.SMTPSecure || !got.SMTPStartTLS {
		t.Errorf("TLS flags not preserved: %+v", got)
	}
	if got.PasswordEnc != "enc:pw" {
		t.Errorf("password ciphertext not preserved: %q", got.PasswordEnc)
	}
}

func TestGetAccountByIDNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetAccountByID(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestGetAccountsFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "g1", "user-1", model.ProviderGmail)
	seedAccount(t, s, "g2", "user-1", model.ProviderGmail)
	seedAccount(t, s, "i1", "user-1", model.ProviderIMAP)
	seedAccount(t, s, "o1", "user-2", model.ProviderOutlook)
	if err := s.SetAccountStatus(ctx, "g2", model.StatusDisconnected); err != nil {
		t.Fatalf("setting status: %v", err)
	}

	owner := "user-1"
	accounts, err := s.GetAccounts(ctx, store.AccountFilter{OwnerID: &owner})
	if err != nil {
		t.Fatalf("listing by owner: %v", err)
	}
	if len(accounts) != 3 {
		t.Errorf("owner filter returned %d accounts, want 3", len(accounts))
	}

	kind := model.ProviderGmail
	status := model.StatusConnected
	accounts, err = s.GetAccounts(ctx, store.AccountFilter{
		OwnerID:  &owner,
		Provider: &kind,
		Status:   &status,
	})
	if err != nil {
		t.Fatalf("listing connected gmail: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "g1" {
		t.Errorf("got %v, want just g1", accounts)
	}

	accounts, err = s.GetAccounts(ctx, store.AccountFilter{OwnerID: &owner, Limit: 2})
	if err != nil {
		t.Fatalf("listing with limit: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("limit ignored, got %d accounts", len(accounts))
	}
}

func TestDeleteAccount(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "acct-1", "user-1", model.ProviderGmail)
	if err := s.DeleteAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("deleting account: %v", err)
	}
	if _, err := s.GetAccountByID(ctx, "acct-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("account still present after delete: %v", err)
	}
}

func TestUpdateAccountTokensReconnects(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "acct-1", "user-1", model.ProviderGmail)
	if err := s.SetAccountStatus(ctx, "acct-1", model.StatusExpired); err != nil {
		t.Fatalf("expiring account: %v", err)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := s.UpdateAccountTokens(ctx, "acct-1", "enc:new-access", "enc:new-refresh", expiry); err != nil {
		t.Fatalf("updating tokens: %v", err)
	}

	got, err := s.GetAccountByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("getting account: %v", err)
	}
	if got.AccessTokenEnc != "enc:new-access" || got.RefreshTokenEnc != "enc:new-refresh" {
		t.Errorf("tokens not persisted: %+v", got)
	}
	if got.Status != model.StatusConnected {
		t.Errorf("status = %q, want connected after token refresh", got.Status)
	}
	if !got.ExpiresAt.Equal(expiry) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expiry)
	}
}

func TestClaimSyncLockSingleWinner(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "acct-1", "user-1", model.ProviderIMAP)
	until := time.Now().Add(time.Minute)

	claimed, err := s.ClaimSyncLock(ctx, "acct-1", until)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim lost, want win")
	}

	claimed, err = s.ClaimSyncLock(ctx, "acct-1", until.Add(time.Minute))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim won while lock held")
	}

	if err := s.ClearSyncLock(ctx, "acct-1"); err != nil {
		t.Fatalf("clearing lock: %v", err)
	}
	claimed, err = s.ClaimSyncLock(ctx, "acct-1", until)
	if err != nil {
		t.Fatalf("claim after clear: %v", err)
	}
	if !claimed {
		t.Fatal("claim after clear lost, want win")
	}
}

func TestClaimSyncLockAfterExpiry(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "acct-1", "user-1", model.ProviderIMAP)

	claimed, err := s.ClaimSyncLock(ctx, "acct-1", time.Now().Add(-time.Second))
	if err != nil || !claimed {
		t.Fatalf("claim with past deadline: claimed=%v err=%v", claimed, err)
	}

	// The previous holder's deadline has passed, so a new claimant wins.
	claimed, err = s.ClaimSyncLock(ctx, "acct-1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !claimed {
		t.Fatal("claim after expiry lost, want win")
	}
}

func TestAdvanceSyncCursorMonotonic(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedAccount(t, s, "acct-1", "user-1", model.ProviderIMAP)

	if err := s.AdvanceSyncCursor(ctx, "acct-1", 50); err != nil {
		t.Fatalf("advancing cursor: %v", err)
	}
	if err := s.AdvanceSyncCursor(ctx, "acct-1", 30); err != nil {
		t.Fatalf("regressing cursor: %v", err)
	}

	got, err := s.GetAccountByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("getting account: %v", err)
	}
	if got.LastUID != 50 {
		t.Errorf("last_uid = %d, want 50 (cursor must not regress)", got.LastUID)
	}
}

func TestSendItemUpsertIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	item := model.SendItem{
		ID:        "send-1",
		AccountID: "acct-1",
		Recipient: "to@example.com",
		Subject:   "hello",
		Provider:  model.ProviderGmail,
		Status:    model.SendStatusFailed,
		Error:     "upstream down",
	}
	if err := s.UpsertSendItem(ctx, item); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	item.Status = model.SendStatusSent
	item.Error = ""
	item.MessageID = "msg-9"
	if err := s.UpsertSendItem(ctx, item); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	items, err := s.GetSendItems(ctx, "acct-1", 0)
	if err != nil {
		t.Fatalf("listing send items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d rows for resubmitted id, want 1", len(items))
	}
	if items[0].Status != model.SendStatusSent || items[0].MessageID != "msg-9" {
		t.Errorf("resubmit did not replace row: %+v", items[0])
	}

	got, err := s.GetSendItemByID(ctx, "send-1")
	if err != nil {
		t.Fatalf("getting send item: %v", err)
	}
	if got.Error != "" {
		t.Errorf("stale error kept after successful resend: %q", got.Error)
	}
}

func TestGetSendItemsNewestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"s1", "s2", "s3"} {
		item := model.SendItem{
			ID:        id,
			AccountID: "acct-1",
			Recipient: "to@example.com",
			Provider:  model.ProviderGmail,
			Status:    model.SendStatusSent,
			CreatedAt: time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC),
		}
		if err := s.UpsertSendItem(ctx, item); err != nil {
			t.Fatalf("upserting %s: %v", id, err)
		}
	}

	items, err := s.GetSendItems(ctx, "acct-1", 2)
	if err != nil {
		t.Fatalf("listing send items: %v", err)
	}
	if len(items) != 2 || items[0].ID != "s3" || items[1].ID != "s2" {
		t.Errorf("got %v, want s3 then s2", items)
	}
}
