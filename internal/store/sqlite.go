package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailhub/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertAccount inserts or replaces a mail account row.
// If the account has no ID, a new UUID is generated.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct model.MailAccount) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO mail_accounts (
			id, owner_id, provider, address,
			access_token_enc, refresh_token_enc, password_enc,
			expires_at, status,
			imap_host, imap_port, imap_secure,
			smtp_host, smtp_port, smtp_secure, smtp_starttls,
			last_uid, syncing_until,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?,
			?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?,
			?, ?
		)`,
		acct.ID, acct.OwnerID, string(acct.Provider), acct.Address,
		acct.AccessTokenEnc, acct.RefreshTokenEnc, acct.PasswordEnc,
		acct.ExpiresAt.UTC(), acct.Status,
		acct.IMAPHost, acct.IMAPPort, boolToInt(acct.IMAPSecure),
		acct.SMTPHost, acct.SMTPPort, boolToInt(acct.SMTPSecure), boolToInt(acct.SMTPStartTLS),
		acct.LastUID, acct.SyncingUntil.UTC(),
		acct.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", acct.ID, err)
	}

	return nil
}

// GetAccountByID retrieves a single account by its ID.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, id string) (*model.MailAccount, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM mail_accounts WHERE id = ?", id)

	acct, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}

	return &acct, nil
}

// GetAccounts retrieves accounts matching the provided filter.
func (s *SQLiteStore) GetAccounts(ctx context.Context, filter AccountFilter) ([]model.MailAccount, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnerID != nil {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.Provider != nil {
		conditions = append(conditions, "provider = ?")
		args = append(args, string(*filter.Provider))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}

	query := "SELECT * FROM mail_accounts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.MailAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	return accounts, rows.Err()
}

// DeleteAccount removes an account by ID.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mail_accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return nil
}

// SetAccountStatus updates only the status column.
func (s *SQLiteStore) SetAccountStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE mail_accounts SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting account %s status: %w", id, err)
	}
	return nil
}

// UpdateAccountTokens persists a refreshed token pair and expiry.
func (s *SQLiteStore) UpdateAccountTokens(
	ctx context.Context,
	id, accessTokenEnc, refreshTokenEnc string,
	expiresAt time.Time,
) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_accounts
		SET access_token_enc = ?, refresh_token_enc = ?, expires_at = ?,
		    status = 'connected', updated_at = ?
		WHERE id = ?`,
		accessTokenEnc, refreshTokenEnc, expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating tokens for account %s: %w", id, err)
	}
	return nil
}

// ClaimSyncLock atomically claims the advisory sync lock. The UPDATE
// only matches when the existing lock has expired, so exactly one of
// any number of concurrent claimants wins.
func (s *SQLiteStore) ClaimSyncLock(ctx context.Context, id string, until time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mail_accounts
		SET syncing_until = ?, updated_at = ?
		WHERE id = ? AND syncing_until < ?`,
		until.UTC(), time.Now().UTC(), id, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claiming sync lock for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming sync lock for %s: %w", id, err)
	}

	return n == 1, nil
}

// ClearSyncLock releases the advisory lock unconditionally.
func (s *SQLiteStore) ClearSyncLock(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_accounts
		SET syncing_until = ?, updated_at = ?
		WHERE id = ?`,
		time.Time{}, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing sync lock for %s: %w", id, err)
	}
	return nil
}

// AdvanceSyncCursor moves last_uid forward, never backwards.
func (s *SQLiteStore) AdvanceSyncCursor(ctx context.Context, id string, uid uint32) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_accounts
		SET last_uid = ?, updated_at = ?
		WHERE id = ? AND last_uid < ?`,
		uid, time.Now().UTC(), id, uid,
	)
	if err != nil {
		return fmt.Errorf("advancing sync cursor for %s: %w", id, err)
	}
	return nil
}

// UpsertSendItem inserts or replaces a send record. Resubmitting with
// the same ID is idempotent.
func (s *SQLiteStore) UpsertSendItem(ctx context.Context, item model.SendItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO send_items (
			id, account_id, recipient, subject, body,
			provider, provider_message_id, provider_thread_id,
			status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AccountID, item.Recipient, item.Subject, item.Body,
		string(item.Provider), item.MessageID, item.ThreadID,
		item.Status, item.Error, item.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting send item %s: %w", item.ID, err)
	}

	return nil
}

// GetSendItemByID retrieves a single send record.
func (s *SQLiteStore) GetSendItemByID(ctx context.Context, id string) (*model.SendItem, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM send_items WHERE id = ?", id)

	item, err := scanSendItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("send item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting send item %s: %w", id, err)
	}

	return &item, nil
}

// GetSendItems retrieves recent send records for an account, newest first.
func (s *SQLiteStore) GetSendItems(ctx context.Context, accountID string, limit int) ([]model.SendItem, error) {
	query := "SELECT * FROM send_items WHERE account_id = ? ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying send items: %w", err)
	}
	defer rows.Close()

	var items []model.SendItem
	for rows.Next() {
		item, err := scanSendItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// accountScanner abstracts sqlx.Row and sqlx.Rows for shared scanning.
type accountScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountFields(sc accountScanner) (model.MailAccount, error) {
	var (
		acct         model.MailAccount
		provider     string
		imapSecure   int
		smtpSecure   int
		smtpStartTLS int
	)

	err := sc.Scan(
		&acct.ID, &acct.OwnerID, &provider, &acct.Address,
		&acct.AccessTokenEnc, &acct.RefreshTokenEnc, &acct.PasswordEnc,
		&acct.ExpiresAt, &acct.Status,
		&acct.IMAPHost, &acct.IMAPPort, &imapSecure,
		&acct.SMTPHost, &acct.SMTPPort, &smtpSecure, &smtpStartTLS,
		&acct.LastUID, &acct.SyncingUntil,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return model.MailAccount{}, err
	}

	acct.Provider = model.Provider(provider)
	acct.IMAPSecure = imapSecure != 0
	acct.SMTPSecure = smtpSecure != 0
	acct.SMTPStartTLS = smtpStartTLS != 0

	return acct, nil
}

// scanAccount scans an account row from a sqlx.Rows result set.
func scanAccount(rows *sqlx.Rows) (model.MailAccount, error) {
	acct, err := scanAccountFields(rows)
	if err != nil {
		return model.MailAccount{}, fmt.Errorf("scanning account row: %w", err)
	}
	return acct, nil
}

// scanAccountRow scans a single account row from a sqlx.Row.
func scanAccountRow(row *sqlx.Row) (model.MailAccount, error) {
	return scanAccountFields(row)
}

func scanSendItemFields(sc accountScanner) (model.SendItem, error) {
	var (
		item     model.SendItem
		provider string
	)

	err := sc.Scan(
		&item.ID, &item.AccountID, &item.Recipient, &item.Subject, &item.Body,
		&provider, &item.MessageID, &item.ThreadID,
		&item.Status, &item.Error, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return model.SendItem{}, err
	}

	item.Provider = model.Provider(provider)
	return item, nil
}

// scanSendItem scans a send item row from a sqlx.Rows result set.
func scanSendItem(rows *sqlx.Rows) (model.SendItem, error) {
	item, err := scanSendItemFields(rows)
	if err != nil {
		return model.SendItem{}, fmt.Errorf("scanning send item row: %w", err)
	}
	return item, nil
}

// scanSendItemRow scans a single send item row from a sqlx.Row.
func scanSendItemRow(row *sqlx.Row) (model.SendItem, error) {
	return scanSendItemFields(row)
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
