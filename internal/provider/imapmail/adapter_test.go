package imapmail

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

func TestMessageIDRoundTrip(t *testing.T) {
	cases := []struct {
		mailbox string
		uid     uint32
	}{
		{"INBOX", 42},
		{"Sent", 1},
		{"INBOX.Archive", 99},
		{"Trash", 4294967295},
	}
	for _, tc := range cases {
		id := makeID(tc.mailbox, tc.uid)
		mailbox, uid, err := parseID(id)
		if err != nil {
			t.Errorf("parseID(%q) failed: %v", id, err)
			continue
		}
		if mailbox != tc.mailbox || uid != tc.uid {
			t.Errorf("parseID(%q) = %q/%d, want %q/%d",
				id, mailbox, uid, tc.mailbox, tc.uid)
		}
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "INBOX", "INBOX:", ":42", "INBOX:nan"} {
		if _, _, err := parseID(id); err == nil {
			t.Errorf("parseID(%q) accepted malformed id", id)
		}
	}
}

func TestMailboxForFolders(t *testing.T) {
	cases := map[provider.Folder]string{
		provider.FolderInbox:  "INBOX",
		provider.FolderSent:   "Sent",
		provider.FolderDrafts: "Drafts",
		provider.FolderSpam:   "Junk",
		provider.FolderTrash:  "Trash",
	}
	for folder, want := range cases {
		got, err := mailboxFor(folder)
		if err != nil {
			t.Errorf("mailboxFor(%s) failed: %v", folder, err)
			continue
		}
		if got != want {
			t.Errorf("mailboxFor(%s) = %q, want %q", folder, got, want)
		}
	}
}

func TestMailboxForImportantUnsupported(t *testing.T) {
	_, err := mailboxFor(provider.FolderImportant)
	var verr *provider.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestNormalizeEnvelope(t *testing.T) {
	acct := &model.MailAccount{
		ID:      "imap-1",
		Address: "user@mail.example.com",
	}
	date := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID: 77,
		Envelope: &imap.Envelope{
			Subject:   "status update",
			Date:      date,
			MessageID: "<abc@mail.example.com>",
			From: []imap.Address{
				{Name: "Ann", Mailbox: "ann", Host: "example.com"},
			},
			To: []imap.Address{
				{Mailbox: "user", Host: "mail.example.com"},
			},
		},
		Flags: []imap.Flag{imap.FlagSeen, imap.FlagFlagged},
	}

	msg := normalizeEnvelope(acct, "INBOX", buf)

	if msg.ID != "INBOX:77" {
		t.Errorf("id %q", msg.ID)
	}
	if msg.AccountID != "imap-1" || msg.AccountEmail != "user@mail.example.com" {
		t.Errorf("account tagging missing: %+v", msg)
	}
	if msg.From != "Ann <ann@example.com>" {
		t.Errorf("from %q", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "user@mail.example.com" {
		t.Errorf("to %v", msg.To)
	}
	if msg.Unread {
		t.Error("seen message reported unread")
	}
	if !msg.Starred {
		t.Error("flagged message not starred")
	}
	if !msg.Date.Equal(date) {
		t.Errorf("date %v", msg.Date)
	}
	if msg.ThreadID != "<abc@mail.example.com>" {
		t.Errorf("thread id %q", msg.ThreadID)
	}
}

func TestNormalizeEnvelopeUnseenByDefault(t *testing.T) {
	acct := &model.MailAccount{ID: "imap-1", Address: "u@example.com"}
	buf := &imapclient.FetchMessageBuffer{UID: 5}

	msg := normalizeEnvelope(acct, "INBOX", buf)
	if !msg.Unread {
		t.Error("message without flags should be unread")
	}
}

func TestComposeRawCarriesThreadingAndMessageID(t *testing.T) {
	acct := &model.MailAccount{Address: "user@mail.example.com"}
	raw, err := composeRaw(acct, provider.SendRequest{
		To:         []string{"dest@example.com"},
		Subject:    "re: status update",
		Text:       "looks good",
		InReplyTo:  "<abc@mail.example.com>",
		References: "<root@mail.example.com> <abc@mail.example.com>",
	}, "<generated@mail.example.com>")
	if err != nil {
		t.Fatalf("composeRaw failed: %v", err)
	}

	mime := string(raw)
	if !strings.Contains(mime, "Message-Id: <generated@mail.example.com>") &&
		!strings.Contains(mime, "Message-ID: <generated@mail.example.com>") {
		t.Errorf("message id missing:\n%s", mime)
	}
	if !strings.Contains(mime, "<abc@mail.example.com>") {
		t.Errorf("in-reply-to missing:\n%s", mime)
	}
	if !strings.Contains(mime, "<root@mail.example.com>") {
		t.Errorf("references missing:\n%s", mime)
	}
}
