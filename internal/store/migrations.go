package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mail_accounts (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	provider          TEXT NOT NULL CHECK(provider IN ('gmail', 'outlook', 'imap', 'chat')),
	address           TEXT NOT NULL,
	access_token_enc  TEXT NOT NULL DEFAULT '',
	refresh_token_enc TEXT NOT NULL DEFAULT '',
	password_enc      TEXT NOT NULL DEFAULT '',
	expires_at        DATETIME NOT NULL DEFAULT '0001-01-01 00:00:00+00:00',
	status            TEXT NOT NULL DEFAULT 'connected'
	                  CHECK(status IN ('connected', 'expired', 'disconnected')),
	imap_host         TEXT NOT NULL DEFAULT '',
	imap_port         INTEGER NOT NULL DEFAULT 993,
	imap_secure       INTEGER NOT NULL DEFAULT 1,
	smtp_host         TEXT NOT NULL DEFAULT '',
	smtp_port         INTEGER NOT NULL DEFAULT 587,
	smtp_secure       INTEGER NOT NULL DEFAULT 0,
	smtp_starttls     INTEGER NOT NULL DEFAULT 1,
	last_uid          INTEGER NOT NULL DEFAULT 0,
	syncing_until     DATETIME NOT NULL DEFAULT '0001-01-01 00:00:00+00:00',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mail_accounts_owner ON mail_accounts(owner_id);
CREATE INDEX IF NOT EXISTS idx_mail_accounts_owner_provider
	ON mail_accounts(owner_id, provider);
CREATE INDEX IF NOT EXISTS idx_mail_accounts_status ON mail_accounts(status);

CREATE TABLE IF NOT EXISTS send_items (
	id                  TEXT PRIMARY KEY,
	account_id          TEXT NOT NULL,
	recipient           TEXT NOT NULL,
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	provider            TEXT NOT NULL,
	provider_message_id TEXT NOT NULL DEFAULT '',
	provider_thread_id  TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'sent',
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_send_items_account ON send_items(account_id);
CREATE INDEX IF NOT EXISTS idx_send_items_created ON send_items(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
