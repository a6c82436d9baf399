// Package provider defines the contract every mail provider adapter
// implements, the abstract folder and action vocabulary shared across
// adapters, and the OAuth token refresh engine.
package provider

import (
	"context"

	"github.com/nhle/mailhub/internal/model"
)

// Folder is an abstract mailbox name. Each adapter translates it to
// its provider's native label, folder id, or mailbox.
type Folder string

const (
	FolderInbox     Folder = "inbox"
	FolderImportant Folder = "important"
	FolderSent      Folder = "sent"
	FolderDrafts    Folder = "drafts"
	FolderSpam      Folder = "spam"
	FolderTrash     Folder = "trash"
)

// Action is an abstract modify operation on one or more messages.
type Action string

const (
	ActionRead    Action = "read"
	ActionUnread  Action = "unread"
	ActionStar    Action = "star"
	ActionUnstar  Action = "unstar"
	ActionArchive Action = "archive"
	ActionSpam    Action = "spam"
	ActionUnspam  Action = "unspam"
	ActionTrash   Action = "trash"
	ActionUntrash Action = "untrash"
	ActionDelete  Action = "delete"
)

// SendRequest is a normalized compose payload.
type SendRequest struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string

	// Text and HTML bodies; either may be empty but not both.
	Text string
	HTML string

	Attachments []Attachment

	// Threading headers, appended verbatim when non-empty.
	InReplyTo  string
	References string

	// ThreadID asks the provider to attach the message to an
	// existing native thread where supported.
	ThreadID string
}

// Attachment carries one outbound attachment in memory.
type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// SendResult reports the provider identifiers of a sent message.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// ActionResult is the outcome of a modify action for a single id.
type ActionResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SyncResult reports the outcome of one incremental sync run.
type SyncResult struct {
	// Skipped is true when another run holds the advisory lock.
	Skipped bool

	// NewMessages is the number of messages found above the cursor.
	NewMessages int

	// LastUID is the cursor value after the run.
	LastUID uint32
}

// Provider is the common operation set every adapter implements.
type Provider interface {
	// Provider returns the provider kind this adapter serves.
	Provider() model.Provider

	// List retrieves recent messages in the abstract folder,
	// newest first, without bodies.
	List(ctx context.Context, acct *model.MailAccount, folder Folder) ([]model.Message, error)

	// Get retrieves one message with decoded bodies and attachment
	// descriptors.
	Get(ctx context.Context, acct *model.MailAccount, id string) (*model.Message, error)

	// Modify applies an action to each id concurrently and returns
	// every per-id outcome. When any sub-call failed the returned
	// error is a *PartialBatchError carrying the same results.
	Modify(ctx context.Context, acct *model.MailAccount, ids []string, action Action) ([]ActionResult, error)

	// Send delivers a composed message.
	Send(ctx context.Context, acct *model.MailAccount, req SendRequest) (*SendResult, error)
}

// Syncer is implemented by adapters that support cursor-based
// incremental sync (IMAP).
type Syncer interface {
	Sync(ctx context.Context, acct *model.MailAccount) (*SyncResult, error)
}

// TrashEmptier is implemented by adapters that can bulk-delete the
// trash folder.
type TrashEmptier interface {
	EmptyTrash(ctx context.Context, acct *model.MailAccount) (int, error)
}

// Folderless marks adapters whose channel keeps no folder state
// (push-based messaging). Folder listings skip their accounts rather
// than reporting them as failed.
type Folderless interface {
	Folderless()
}
