// Package gmail implements the provider adapter for the Gmail REST
// API: label-based folders, messages.list/get/modify, raw MIME send.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nhle/mailhub/internal/mimeutil"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// listPageSize bounds every list and trash-pagination call.
const listPageSize = 50

// fetchConcurrency caps parallel per-message metadata fetches.
const fetchConcurrency = 5

// emptyTrashMaxPages bounds trash pagination so a provider that keeps
// returning page tokens cannot loop us forever.
const emptyTrashMaxPages = 25

// folderLabels maps abstract folders to Gmail label ids.
var folderLabels = map[provider.Folder]string{
	provider.FolderInbox:     "INBOX",
	provider.FolderImportant: "STARRED",
	provider.FolderSent:      "SENT",
	provider.FolderDrafts:    "DRAFT",
	provider.FolderSpam:      "SPAM",
	provider.FolderTrash:     "TRASH",
}

// Adapter implements provider.Provider for Gmail.
type Adapter struct {
	client *Client
	tokens *provider.TokenManager
	logger *slog.Logger
}

// New creates a Gmail adapter. baseURL is empty in production.
func New(tokens *provider.TokenManager, baseURL string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client: NewClient(baseURL),
		tokens: tokens,
		logger: logger,
	}
}

// Provider returns the provider kind.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderGmail
}

// List retrieves recent messages carrying the folder's label.
func (a *Adapter) List(
	ctx context.Context,
	acct *model.MailAccount,
	folder provider.Folder,
) ([]model.Message, error) {
	label, ok := folderLabels[folder]
	if !ok {
		return nil, &provider.ValidationError{
			Message: fmt.Sprintf("unknown folder %q", folder),
		}
	}

	var refs []MessageRef
	err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		var list ListResponse
		path := fmt.Sprintf(
			"/messages?labelIds=%s&maxResults=%d",
			url.QueryEscape(label), listPageSize,
		)
		if err := a.client.Get(ctx, token, path, &list); err != nil {
			return err
		}
		refs = list.Messages
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing gmail %s: %w", folder, err)
	}

	return a.fetchMetadata(ctx, acct, refs)
}

// fetchMetadata loads headers and snippets for a batch of message
// refs with bounded concurrency.
func (a *Adapter) fetchMetadata(
	ctx context.Context,
	acct *model.MailAccount,
	refs []MessageRef,
) ([]model.Message, error) {
	results := make([]*model.Message, len(refs))

	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			var msg Message
			err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
				path := "/messages/" + url.PathEscape(id) +
					"?format=metadata&metadataHeaders=From&metadataHeaders=To" +
					"&metadataHeaders=Subject&metadataHeaders=Date"
				return a.client.Get(ctx, token, path, &msg)
			})
			if err != nil {
				a.logger.Debug("fetching gmail metadata",
					"message_id", id, "err", err)
				return
			}

			normalized := a.normalize(acct, &msg, false)
			results[idx] = &normalized
		}(i, ref.ID)
	}
	wg.Wait()

	messages := make([]model.Message, 0, len(refs))
	for _, m := range results {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	return messages, nil
}

// Get retrieves one message in full format with decoded bodies.
func (a *Adapter) Get(
	ctx context.Context,
	acct *model.MailAccount,
	id string,
) (*model.Message, error) {
	var msg Message
	err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		path := "/messages/" + url.PathEscape(id) + "?format=full"
		return a.client.Get(ctx, token, path, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("getting gmail message %s: %w", id, err)
	}

	normalized := a.normalize(acct, &msg, true)
	return &normalized, nil
}

// Modify applies the action to each id concurrently and reports every
// per-id outcome.
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

// modifyOne applies one action to one message id.
func (a *Adapter) modifyOne(
	ctx context.Context,
	acct *model.MailAccount,
	id string,
	action provider.Action,
) error {
	escaped := url.PathEscape(id)

	return provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		switch action {
		case provider.ActionRead:
			return a.modifyLabels(ctx, token, escaped, nil, []string{"UNREAD"})
		case provider.ActionUnread:
			return a.modifyLabels(ctx, token, escaped, []string{"UNREAD"}, nil)
		case provider.ActionStar:
			return a.modifyLabels(ctx, token, escaped, []string{"STARRED"}, nil)
		case provider.ActionUnstar:
			return a.modifyLabels(ctx, token, escaped, nil, []string{"STARRED"})
		case provider.ActionArchive:
			return a.modifyLabels(ctx, token, escaped, nil, []string{"INBOX"})
		case provider.ActionSpam:
			return a.modifyLabels(ctx, token, escaped, []string{"SPAM"}, []string{"INBOX"})
		case provider.ActionUnspam:
			return a.modifyLabels(ctx, token, escaped, []string{"INBOX"}, []string{"SPAM"})
		case provider.ActionTrash:
			return a.client.Post(ctx, token, "/messages/"+escaped+"/trash", nil, nil)
		case provider.ActionUntrash:
			return a.client.Post(ctx, token, "/messages/"+escaped+"/untrash", nil, nil)
		case provider.ActionDelete:
			return a.client.Delete(ctx, token, "/messages/"+escaped)
		default:
			return &provider.ValidationError{
				Message: fmt.Sprintf("unknown action %q", action),
			}
		}
	})
}

func (a *Adapter) modifyLabels(
	ctx context.Context,
	token, escapedID string,
	add, remove []string,
) error {
	return a.client.Post(ctx, token, "/messages/"+escapedID+"/modify", ModifyRequest{
		AddLabelIDs:    add,
		RemoveLabelIDs: remove,
	}, nil)
}

// Send composes the request as raw MIME and delivers it through
// messages.send.
func (a *Adapter) Send(
	ctx context.Context,
	acct *model.MailAccount,
	req provider.SendRequest,
) (*provider.SendResult, error) {
	raw, err := composeRaw(acct, req)
	if err != nil {
		return nil, err
	}

	var sent Message
	err = provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		return a.client.Post(ctx, token, "/messages/send", SendRequest{
			Raw:      base64.URLEncoding.EncodeToString(raw),
			ThreadID: req.ThreadID,
		}, &sent)
	})
	if err != nil {
		return nil, fmt.Errorf("sending gmail message: %w", err)
	}

	return &provider.SendResult{
		MessageID: sent.ID,
		ThreadID:  sent.ThreadID,
	}, nil
}

// CreateDraft stores the composed message in the drafts folder.
func (a *Adapter) CreateDraft(
	ctx context.Context,
	acct *model.MailAccount,
	req provider.SendRequest,
) (string, error) {
	raw, err := composeRaw(acct, req)
	if err != nil {
		return "", err
	}

	var draft DraftResponse
	err = provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		return a.client.Post(ctx, token, "/drafts", DraftRequest{
			Message: SendRequest{
				Raw:      base64.URLEncoding.EncodeToString(raw),
				ThreadID: req.ThreadID,
			},
		}, &draft)
	})
	if err != nil {
		return "", fmt.Errorf("creating gmail draft: %w", err)
	}

	return draft.ID, nil
}

// EmptyTrash paginates all trash ids and batch-deletes them. On an
// authorization failure mid-pagination the token is refreshed once
// and the walk resumes from the same page token.
func (a *Adapter) EmptyTrash(
	ctx context.Context,
	acct *model.MailAccount,
) (int, error) {
	var ids []string
	pageToken := ""
	refreshed := false

	token, err := a.tokens.AccessToken(ctx, acct)
	if err != nil {
		return 0, err
	}

	for page := 0; page < emptyTrashMaxPages; page++ {
		path := fmt.Sprintf("/messages?labelIds=TRASH&maxResults=%d", listPageSize)
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var list ListResponse
		err := a.client.Get(ctx, token, path, &list)
		if err != nil {
			if provider.IsAuthError(err) && !refreshed {
				refreshed = true
				token, err = a.tokens.ForceRefresh(ctx, acct)
				if err != nil {
					return 0, err
				}
				// Resume from the same page cursor.
				page--
				continue
			}
			return 0, fmt.Errorf("listing trash: %w", err)
		}

		for _, ref := range list.Messages {
			ids = append(ids, ref.ID)
		}

		pageToken = list.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	err = provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		return a.client.Post(ctx, token, "/messages/batchDelete", BatchDeleteRequest{
			IDs: ids,
		}, nil)
	})
	if err != nil {
		return 0, fmt.Errorf("batch deleting trash: %w", err)
	}

	return len(ids), nil
}

// composeRaw builds the raw MIME message for send and draft calls.
func composeRaw(acct *model.MailAccount, req provider.SendRequest) ([]byte, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "missing recipient"}
	}

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
		InReplyTo:   req.InReplyTo,
		References:  req.References,
	})
	if err != nil {
		return nil, fmt.Errorf("composing message: %w", err)
	}
	return raw, nil
}

// normalize converts a Gmail wire message to the shared model.
func (a *Adapter) normalize(
	acct *model.MailAccount,
	msg *Message,
	withBody bool,
) model.Message {
	out := model.Message{
		AccountID:    acct.ID,
		AccountEmail: acct.Address,
		ID:           msg.ID,
		ThreadID:     msg.ThreadID,
		Labels:       msg.LabelIDs,
		Snippet:      msg.Snippet,
	}

	for _, label := range msg.LabelIDs {
		switch label {
		case "UNREAD":
			out.Unread = true
		case "STARRED":
			out.Starred = true
		}
	}

	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		out.Date = time.UnixMilli(ms)
	}

	if msg.Payload != nil {
		out.From = headerValue(msg.Payload.Headers, "From")
		out.Subject = headerValue(msg.Payload.Headers, "Subject")
		if to := headerValue(msg.Payload.Headers, "To"); to != "" {
			out.To = strings.Split(to, ", ")
		}
		if out.Date.IsZero() {
			if d, err := time.Parse(time.RFC1123Z, headerValue(msg.Payload.Headers, "Date")); err == nil {
				out.Date = d
			}
		}

		if withBody {
			walkPayload(&out, msg.Payload)
		}
	}

	return out
}

// walkPayload runs depth first over the Gmail payload tree, keeping
// the first HTML and first plain-text leaves and collecting
// attachment descriptors.
func walkPayload(out *model.Message, part *Part) {
	if len(part.Parts) > 0 {
		for i := range part.Parts {
			walkPayload(out, &part.Parts[i])
		}
		return
	}

	switch {
	case part.Filename != "" || part.Body.AttachmentID != "":
		out.Attachments = append(out.Attachments, model.AttachmentRef{
			ID:        part.Body.AttachmentID,
			Filename:  part.Filename,
			MIMEType:  part.MimeType,
			Size:      part.Body.Size,
			ContentID: mimeutil.NormalizeCID(headerValue(part.Headers, "Content-Id")),
			Inline:    strings.HasPrefix(headerValue(part.Headers, "Content-Disposition"), "inline"),
		})

	case strings.HasPrefix(part.MimeType, "text/html") && out.HTMLBody == "":
		if data, err := decodeBody(part.Body.Data); err == nil {
			out.HTMLBody = string(data)
		}

	case strings.HasPrefix(part.MimeType, "text/plain") && out.TextBody == "":
		if data, err := decodeBody(part.Body.Data); err == nil {
			out.TextBody = string(data)
		}
	}
}

// decodeBody handles both the padded and unpadded base64url variants
// the API emits.
func decodeBody(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

// headerValue finds a header by case-insensitive name.
func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
