package model

import "time"

// Message is the normalized view of one provider message. It is
// produced on demand from the provider's wire representation and is
// never persisted by this layer.
type Message struct {
	// AccountID and AccountEmail tag the message with its source
	// account when results from several accounts are merged.
	AccountID    string `json:"account_id"`
	AccountEmail string `json:"account_email"`

	// ID is the provider's message identifier (Gmail message id,
	// Graph message id, IMAP UID rendered as decimal).
	ID string `json:"id"`

	// ThreadID is the provider's native thread/conversation id.
	ThreadID string `json:"thread_id"`

	// Labels holds provider labels or folder names attached to the
	// message.
	Labels []string `json:"labels,omitempty"`

	Unread  bool `json:"unread"`
	Starred bool `json:"starred"`

	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`

	// Snippet is the provider-supplied preview line.
	Snippet string `json:"snippet"`

	// TextBody and HTMLBody are only populated on single-message
	// reads, never on list calls.
	TextBody string `json:"text_body,omitempty"`
	HTMLBody string `json:"html_body,omitempty"`

	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// AttachmentRef describes an attachment without carrying its content.
type AttachmentRef struct {
	// ID is the provider attachment identifier used to fetch content.
	ID string `json:"id"`

	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`

	// ContentID is the normalized MIME Content-ID (angle brackets
	// stripped) when the part is referenced inline from HTML.
	ContentID string `json:"content_id,omitempty"`

	// Inline marks parts carried with an inline disposition.
	Inline bool `json:"inline,omitempty"`
}

// Send item status constants.
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
)

// SendItem is the persisted record of one outbound send attempt.
// Resubmitting with the same ID updates the existing row.
type SendItem struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	Recipient string    `db:"recipient"`
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	Provider  Provider  `db:"provider"`
	MessageID string    `db:"provider_message_id"`
	ThreadID  string    `db:"provider_thread_id"`
	Status    string    `db:"status"`
	Error     string    `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
