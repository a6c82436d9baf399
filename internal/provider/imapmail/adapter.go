package imapmail

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/mimeutil"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/store"
)

// listWindow bounds how far back a folder listing searches.
const listWindow = 30 * 24 * time.Hour

// listLimit caps messages returned per folder listing.
const listLimit = 50

// folderMailboxes maps abstract folders to conventional mailbox
// names. FolderImportant is absent: plain IMAP has no flagged view.
var folderMailboxes = map[provider.Folder]string{
	provider.FolderInbox:  "INBOX",
	provider.FolderSent:   "Sent",
	provider.FolderDrafts: "Drafts",
	provider.FolderSpam:   "Junk",
	provider.FolderTrash:  "Trash",
}

// Adapter implements provider.Provider for IMAP/SMTP accounts.
// Message ids are mailbox-qualified ("Mailbox:UID") because UIDs are
// only unique within one mailbox.
type Adapter struct {
	cipher *crypto.Cipher
	engine *SyncEngine
	logger *slog.Logger
}

// New creates an IMAP adapter with its sync engine bound to the
// given store.
func New(cipher *crypto.Cipher, s store.Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		cipher: cipher,
		logger: logger,
	}
	a.engine = NewSyncEngine(s, a, logger)
	return a
}

// Provider returns the provider kind.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderIMAP
}

// List searches the folder's mailbox for recent messages and returns
// their envelopes, newest first.
func (a *Adapter) List(
	ctx context.Context,
	acct *model.MailAccount,
	folder provider.Folder,
) ([]model.Message, error) {
	mailbox, err := mailboxFor(folder)
	if err != nil {
		return nil, err
	}

	client, err := dial(ctx, a.cipher, acct)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		Since: time.Now().Add(-listWindow),
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", mailbox, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > listLimit {
		uids = uids[len(uids)-listLimit:]
	}

	messages, _, err := a.fetchEnvelopes(client, acct, mailbox, imap.UIDSetNum(uids...), 0)
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Date.After(messages[j].Date)
	})
	return messages, nil
}

// fetchEnvelopes fetches envelope and flag data for a UID set in the
// currently selected mailbox, skipping UIDs at or below skipThrough,
// and reports the highest UID seen.
func (a *Adapter) fetchEnvelopes(
	client *imapclient.Client,
	acct *model.MailAccount,
	mailbox string,
	uidSet imap.UIDSet,
	skipThrough uint32,
) ([]model.Message, uint32, error) {
	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var messages []model.Message
	var maxUID uint32

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		uid := uint32(buf.UID)
		if uid > maxUID {
			maxUID = uid
		}
		if uid <= skipThrough {
			continue
		}
		messages = append(messages, normalizeEnvelope(acct, mailbox, buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, maxUID, fmt.Errorf("fetching envelopes: %w", err)
	}
	return messages, maxUID, nil
}

// Get fetches and parses one full message.
func (a *Adapter) Get(
	ctx context.Context,
	acct *model.MailAccount,
	id string,
) (*model.Message, error) {
	mailbox, uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	client, err := dial(ctx, a.cipher, acct)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message %s: %w", id, err)
	}

	normalized := normalizeEnvelope(acct, mailbox, buf)

	if raw := buf.FindBodySection(bodySection); raw != nil {
		body, err := mimeutil.Parse(raw)
		if err == nil {
			normalized.TextBody = body.Text
			normalized.HTMLBody = body.HTML
			normalized.Attachments = body.Attachments
		} else {
			a.logger.Debug("parsing message body",
				"account_id", acct.ID, "message_id", id, "err", err)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return &normalized, fmt.Errorf("closing fetch: %w", err)
	}
	return &normalized, nil
}

// Modify applies the action to each id concurrently. Every id opens
// its own connection because an IMAP session is single-stream.
func (a *Adapter) Modify(
	ctx context.Context,
	acct *model.MailAccount,
	ids []string,
	action provider.Action,
) ([]provider.ActionResult, error) {
	if len(ids) == 0 {
		return nil, &provider.ValidationError{Message: "no message ids"}
	}

	results := make([]provider.ActionResult, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			err := a.modifyOne(ctx, acct, id, action)
			results[idx] = provider.ActionResult{ID: id, OK: err == nil}
			if err != nil {
				results[idx].Error = err.Error()
			}
		}(i, id)
	}
	wg.Wait()

	for _, r := range results {
		if !r.OK {
			return results, &provider.PartialBatchError{Results: results}
		}
	}
	return results, nil
}

func (a *Adapter) modifyOne(
	ctx context.Context,
	acct *model.MailAccount,
	id string,
	action provider.Action,
) error {
	mailbox, uid, err := parseID(id)
	if err != nil {
		return err
	}

	switch action {
	case provider.ActionArchive:
		return &provider.ValidationError{
			Message: "archive is not supported for imap accounts",
		}
	case provider.ActionRead, provider.ActionUnread,
		provider.ActionStar, provider.ActionUnstar,
		provider.ActionSpam, provider.ActionUnspam,
		provider.ActionTrash, provider.ActionUntrash,
		provider.ActionDelete:
	default:
		return &provider.ValidationError{
			Message: fmt.Sprintf("unknown action %q", action),
		}
	}

	client, err := dial(ctx, a.cipher, acct)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	switch action {
	case provider.ActionRead:
		return storeFlags(client, uidSet, imap.StoreFlagsAdd, imap.FlagSeen)
	case provider.ActionUnread:
		return storeFlags(client, uidSet, imap.StoreFlagsDel, imap.FlagSeen)
	case provider.ActionStar:
		return storeFlags(client, uidSet, imap.StoreFlagsAdd, imap.FlagFlagged)
	case provider.ActionUnstar:
		return storeFlags(client, uidSet, imap.StoreFlagsDel, imap.FlagFlagged)
	case provider.ActionSpam:
		return moveTo(client, uidSet, "Junk")
	case provider.ActionUnspam, provider.ActionUntrash:
		return moveTo(client, uidSet, "INBOX")
	case provider.ActionTrash:
		return moveTo(client, uidSet, "Trash")
	case provider.ActionDelete:
		if err := storeFlags(client, uidSet, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
			return err
		}
		if err := client.Expunge().Close(); err != nil {
			return fmt.Errorf("expunging: %w", err)
		}
		return nil
	}
	return nil
}

func storeFlags(
	client *imapclient.Client,
	uidSet imap.UIDSet,
	op imap.StoreFlagsOp,
	flags ...imap.Flag,
) error {
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flags: %w", err)
	}
	return nil
}

func moveTo(client *imapclient.Client, uidSet imap.UIDSet, mailbox string) error {
	if _, err := client.Move(uidSet, mailbox).Wait(); err != nil {
		return fmt.Errorf("moving to %s: %w", mailbox, err)
	}
	return nil
}

// Send delivers the message over SMTP and appends a copy to the Sent
// mailbox. The append is best effort: a failure is logged, not
// returned.
func (a *Adapter) Send(
	ctx context.Context,
	acct *model.MailAccount,
	req provider.SendRequest,
) (*provider.SendResult, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "missing recipient"}
	}

	messageID := mimeutil.GenerateMessageID(acct.Address)
	raw, err := composeRaw(acct, req, messageID)
	if err != nil {
		return nil, err
	}

	if err := sendSMTP(ctx, a.cipher, acct, req, raw); err != nil {
		return nil, err
	}

	if err := a.appendToSent(ctx, acct, raw); err != nil {
		a.logger.Debug("appending sent copy",
			"account_id", acct.ID, "err", err)
	}

	return &provider.SendResult{MessageID: messageID}, nil
}

// appendToSent stores a copy of an outbound message in the Sent
// mailbox with the Seen flag.
func (a *Adapter) appendToSent(
	ctx context.Context,
	acct *model.MailAccount,
	raw []byte,
) error {
	client, err := dial(ctx, a.cipher, acct)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	appendCmd := client.Append("Sent", int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return fmt.Errorf("writing append data: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing append: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("appending to Sent: %w", err)
	}
	return nil
}

// Sync runs one incremental sync pass over the account's inbox.
func (a *Adapter) Sync(
	ctx context.Context,
	acct *model.MailAccount,
) (*provider.SyncResult, error) {
	return a.engine.Sync(ctx, acct)
}

// FetchSince opens the inbox and fetches every message with a UID
// strictly greater than fromUID, reporting the highest UID seen.
func (a *Adapter) FetchSince(
	ctx context.Context,
	acct *model.MailAccount,
	fromUID uint32,
) ([]model.Message, uint32, error) {
	client, err := dial(ctx, a.cipher, acct)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = client.Logout().Wait() }()

	selected, err := client.Select("INBOX", nil).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("selecting INBOX: %w", err)
	}
	if selected.NumMessages == 0 {
		return nil, 0, nil
	}

	// fromUID+1:* — a server answers x:* with the last message even
	// when its UID is below x, so fetchEnvelopes skips those.
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(fromUID+1), 0)

	return a.fetchEnvelopes(client, acct, "INBOX", uidSet, fromUID)
}

func mailboxFor(folder provider.Folder) (string, error) {
	if folder == provider.FolderImportant {
		return "", &provider.ValidationError{
			Message: "important view is not supported for imap accounts",
		}
	}
	mailbox, ok := folderMailboxes[folder]
	if !ok {
		return "", &provider.ValidationError{
			Message: fmt.Sprintf("unknown folder %q", folder),
		}
	}
	return mailbox, nil
}

// makeID builds a mailbox-qualified message id.
func makeID(mailbox string, uid uint32) string {
	return fmt.Sprintf("%s:%d", mailbox, uid)
}

// parseID splits a mailbox-qualified message id. The split is on the
// last colon: mailbox names may contain one.
func parseID(id string) (string, uint32, error) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, &provider.ValidationError{
			Message: fmt.Sprintf("malformed imap message id %q", id),
		}
	}
	uid, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, &provider.ValidationError{
			Message: fmt.Sprintf("malformed imap message id %q", id),
		}
	}
	return id[:idx], uint32(uid), nil
}

// normalizeEnvelope converts a fetched envelope to the shared model.
func normalizeEnvelope(
	acct *model.MailAccount,
	mailbox string,
	buf *imapclient.FetchMessageBuffer,
) model.Message {
	out := model.Message{
		AccountID:    acct.ID,
		AccountEmail: acct.Address,
		ID:           makeID(mailbox, uint32(buf.UID)),
		Unread:       true,
	}

	if buf.Envelope != nil {
		out.Subject = buf.Envelope.Subject
		out.Date = buf.Envelope.Date
		out.ThreadID = buf.Envelope.MessageID
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				out.From = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				out.From = from.Addr()
			}
		}
		for _, to := range buf.Envelope.To {
			out.To = append(out.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			out.Unread = false
		case imap.FlagFlagged:
			out.Starred = true
		}
		out.Labels = append(out.Labels, string(flag))
	}

	return out
}

// composeRaw builds the raw MIME message for SMTP delivery.
func composeRaw(
	acct *model.MailAccount,
	req provider.SendRequest,
	messageID string,
) ([]byte, error) {
	attachments := make([]mimeutil.ComposeAttachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, mimeutil.ComposeAttachment{
			Filename: att.Filename,
			MIMEType: att.MIMEType,
			Content:  att.Content,
		})
	}

	raw, err := mimeutil.Compose(mimeutil.ComposeRequest{
		From:        acct.Address,
		To:          req.To,
		Cc:          req.Cc,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Attachments: attachments,
		MessageID:   messageID,
		InReplyTo:   req.InReplyTo,
		References:  req.References,
	})
	if err != nil {
		return nil, fmt.Errorf("composing message: %w", err)
	}
	return raw, nil
}
