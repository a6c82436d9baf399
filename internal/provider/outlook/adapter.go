// Package outlook implements the provider adapter for a Microsoft
// Graph style mail API: well-known folders, PATCH-based flags,
// move-based foldering, JSON sendMail.
package outlook

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nhle/mailhub/internal/mimeutil"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

const listPageSize = 50

// emptyTrashMaxPages bounds trash pagination.
const emptyTrashMaxPages = 25

// listSelect keeps list payloads to the fields we render.
const listSelect = "id,conversationId,subject,bodyPreview,receivedDateTime," +
	"isRead,flag,from,toRecipients,hasAttachments"

// folderIDs maps abstract folders to Graph well-known folder names.
// FolderImportant is absent: it is a flagged-message filter over the
// inbox, not a folder of its own.
var folderIDs = map[provider.Folder]string{
	provider.FolderInbox:  "inbox",
	provider.FolderSent:   "sentitems",
	provider.FolderDrafts: "drafts",
	provider.FolderSpam:   "junkemail",
	provider.FolderTrash:  "deleteditems",
}

// Adapter implements provider.Provider for Graph-style mail accounts.
type Adapter struct {
	client *Client
	tokens *provider.TokenManager
	logger *slog.Logger
}

// New creates a Graph adapter. baseURL is empty in production.
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
	return model.ProviderOutlook
}

// List retrieves recent messages from the folder, newest first.
// The important folder lists flagged inbox messages.
func (a *Adapter) List(
	ctx context.Context,
	acct *model.MailAccount,
	folder provider.Folder,
) ([]model.Message, error) {
	path, err := listPath(folder)
	if err != nil {
		return nil, err
	}

	var list ListResponse
	err = provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		return a.client.Get(ctx, token, path, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("listing outlook %s: %w", folder, err)
	}

	messages := make([]model.Message, 0, len(list.Value))
	for i := range list.Value {
		messages = append(messages, a.normalize(acct, &list.Value[i], false))
	}
	return messages, nil
}

func listPath(folder provider.Folder) (string, error) {
	query := url.Values{}
	query.Set("$select", listSelect)
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$top", fmt.Sprint(listPageSize))

	folderID, ok := folderIDs[folder]
	if folder == provider.FolderImportant {
		folderID = "inbox"
		query.Set("$filter", "flag/flagStatus eq 'flagged'")
	} else if !ok {
		return "", &provider.ValidationError{
			Message: fmt.Sprintf("unknown folder %q", folder),
		}
	}

	return "/mailFolders/" + folderID + "/messages?" + query.Encode(), nil
}

// Get retrieves one message with its body and attachment list.
func (a *Adapter) Get(
	ctx context.Context,
	acct *model.MailAccount,
	id string,
) (*model.Message, error) {
	var msg Message
	err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		path := "/messages/" + url.PathEscape(id) + "?$expand=attachments"
		return a.client.Get(ctx, token, path, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("getting outlook message %s: %w", id, err)
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
			return a.patchRead(ctx, token, escaped, true)
		case provider.ActionUnread:
			return a.patchRead(ctx, token, escaped, false)
		case provider.ActionStar:
			return a.patchFlag(ctx, token, escaped, "flagged")
		case provider.ActionUnstar:
			return a.patchFlag(ctx, token, escaped, "notFlagged")
		case provider.ActionArchive:
			// No inbox-label concept here; archive is a label
			// removal on the webmail provider only.
			return &provider.ValidationError{
				Message: "archive is not supported for outlook accounts",
			}
		case provider.ActionSpam:
			return a.move(ctx, token, escaped, "junkemail")
		case provider.ActionUnspam:
			return a.move(ctx, token, escaped, "inbox")
		case provider.ActionTrash:
			return a.move(ctx, token, escaped, "deleteditems")
		case provider.ActionUntrash:
			return a.move(ctx, token, escaped, "inbox")
		case provider.ActionDelete:
			return a.client.Delete(ctx, token, "/messages/"+escaped)
		default:
			return &provider.ValidationError{
				Message: fmt.Sprintf("unknown action %q", action),
			}
		}
	})
}

func (a *Adapter) patchRead(ctx context.Context, token, escapedID string, read bool) error {
	return a.client.Patch(ctx, token, "/messages/"+escapedID, PatchRequest{
		IsRead: &read,
	})
}

func (a *Adapter) patchFlag(ctx context.Context, token, escapedID, status string) error {
	return a.client.Patch(ctx, token, "/messages/"+escapedID, PatchRequest{
		Flag: &Flag{FlagStatus: status},
	})
}

func (a *Adapter) move(ctx context.Context, token, escapedID, destination string) error {
	return a.client.Post(ctx, token, "/messages/"+escapedID+"/move", MoveRequest{
		DestinationID: destination,
	}, nil)
}

// Send delivers the message through sendMail, saving a copy to the
// sent folder. The endpoint returns no message id.
func (a *Adapter) Send(
	ctx context.Context,
	acct *model.MailAccount,
	req provider.SendRequest,
) (*provider.SendResult, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "missing recipient"}
	}

	payload := SendMailRequest{
		Message: OutboundMessage{
			Subject:       req.Subject,
			Body:          outboundBody(req),
			ToRecipients:  recipients(req.To),
			CcRecipients:  recipients(req.Cc),
			BccRecipients: recipients(req.Bcc),
		},
		SaveToSentItems: true,
	}
	for _, att := range req.Attachments {
		payload.Message.Attachments = append(payload.Message.Attachments, Attachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.MIMEType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
		return a.client.Post(ctx, token, "/sendMail", payload, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("sending outlook message: %w", err)
	}

	return &provider.SendResult{ThreadID: req.ThreadID}, nil
}

func outboundBody(req provider.SendRequest) ItemBody {
	if req.HTML != "" {
		return ItemBody{ContentType: "html", Content: req.HTML}
	}
	return ItemBody{ContentType: "text", Content: req.Text}
}

func recipients(addresses []string) []Recipient {
	if len(addresses) == 0 {
		return nil
	}
	out := make([]Recipient, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, Recipient{EmailAddress: EmailAddress{Address: addr}})
	}
	return out
}

// EmptyTrash walks the deleted-items folder through @odata.nextLink
// pages and hard-deletes every message. On an authorization failure
// mid-pagination the token is refreshed once and the walk resumes
// from the same link.
func (a *Adapter) EmptyTrash(
	ctx context.Context,
	acct *model.MailAccount,
) (int, error) {
	var ids []string
	refreshed := false

	token, err := a.tokens.AccessToken(ctx, acct)
	if err != nil {
		return 0, err
	}

	path := fmt.Sprintf("/mailFolders/deleteditems/messages?$select=id&$top=%d", listPageSize)
	nextLink := ""

	for page := 0; page < emptyTrashMaxPages; page++ {
		var list ListResponse
		var err error
		if nextLink != "" {
			err = a.client.GetURL(ctx, token, nextLink, &list)
		} else {
			err = a.client.Get(ctx, token, path, &list)
		}
		if err != nil {
			if provider.IsAuthError(err) && !refreshed {
				refreshed = true
				token, err = a.tokens.ForceRefresh(ctx, acct)
				if err != nil {
					return 0, err
				}
				// Resume from the same page link.
				page--
				continue
			}
			return 0, fmt.Errorf("listing deleted items: %w", err)
		}

		for _, msg := range list.Value {
			ids = append(ids, msg.ID)
		}

		nextLink = list.NextLink
		if nextLink == "" {
			break
		}
	}

	deleted := 0
	for _, id := range ids {
		escaped := url.PathEscape(id)
		err := provider.WithRefresh(ctx, a.tokens, acct, func(token string) error {
			return a.client.Delete(ctx, token, "/messages/"+escaped)
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting message %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// normalize converts a Graph wire message to the shared model.
func (a *Adapter) normalize(
	acct *model.MailAccount,
	msg *Message,
	withBody bool,
) model.Message {
	out := model.Message{
		AccountID:    acct.ID,
		AccountEmail: acct.Address,
		ID:           msg.ID,
		ThreadID:     msg.ConversationID,
		Subject:      msg.Subject,
		Snippet:      msg.BodyPreview,
		Unread:       !msg.IsRead,
	}

	if msg.Flag != nil && msg.Flag.FlagStatus == "flagged" {
		out.Starred = true
	}
	if msg.From != nil {
		out.From = formatAddress(msg.From.EmailAddress)
	}
	for _, rcpt := range msg.ToRecipients {
		out.To = append(out.To, formatAddress(rcpt.EmailAddress))
	}
	if d, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		out.Date = d
	}

	if withBody && msg.Body != nil {
		if strings.EqualFold(msg.Body.ContentType, "html") {
			out.HTMLBody = msg.Body.Content
		} else {
			out.TextBody = msg.Body.Content
		}
	}

	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, model.AttachmentRef{
			ID:        att.ID,
			Filename:  att.Name,
			MIMEType:  att.ContentType,
			Size:      att.Size,
			ContentID: mimeutil.NormalizeCID(att.ContentID),
			Inline:    att.IsInline,
		})
	}

	return out
}

func formatAddress(addr EmailAddress) string {
	if addr.Name != "" && addr.Name != addr.Address {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}
