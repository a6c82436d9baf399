// Package chat implements the webhook-driven messaging channel:
// inbound messages arrive by webhook (verification GET plus
// event-ingestion POST) and outbound messages go through a REST send
// endpoint. There is no server-side folder model, so the mailbox
// operations beyond send are unsupported.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
)

// Adapter implements provider.Provider for the chat channel.
type Adapter struct {
	cfg        model.ChatConfig
	cipher     *crypto.Cipher
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a chat adapter.
func New(cfg model.ChatConfig, cipher *crypto.Cipher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		cipher: cipher,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Provider returns the provider kind.
func (a *Adapter) Provider() model.Provider {
	return model.ProviderChat
}

// Folderless marks the channel as push-based: folder listings skip
// chat accounts entirely.
func (a *Adapter) Folderless() {}

// List is not available: messages are pushed over the webhook, the
// channel keeps no queryable folder state.
func (a *Adapter) List(
	_ context.Context,
	_ *model.MailAccount,
	_ provider.Folder,
) ([]model.Message, error) {
	return nil, &provider.ValidationError{
		Message: "chat channel has no folders; messages arrive over the webhook",
	}
}

// Get is not available for the same reason as List.
func (a *Adapter) Get(
	_ context.Context,
	_ *model.MailAccount,
	_ string,
) (*model.Message, error) {
	return nil, &provider.ValidationError{
		Message: "chat channel has no message store to read from",
	}
}

// Modify is not available: the channel has no flag or folder
// primitives.
func (a *Adapter) Modify(
	_ context.Context,
	_ *model.MailAccount,
	_ []string,
	_ provider.Action,
) ([]provider.ActionResult, error) {
	return nil, &provider.ValidationError{
		Message: "chat channel does not support modify actions",
	}
}

// Send delivers one text message through the REST endpoint.
func (a *Adapter) Send(
	ctx context.Context,
	acct *model.MailAccount,
	req provider.SendRequest,
) (*provider.SendResult, error) {
	if len(req.To) == 0 {
		return nil, &provider.ValidationError{Message: "missing recipient"}
	}
	body := req.Text
	if body == "" {
		body = req.HTML
	}
	if body == "" {
		return nil, &provider.ValidationError{Message: "empty message body"}
	}

	token, err := a.cipher.DecryptOrLegacy(acct.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypting chat token for %s: %w", acct.ID, err)
	}
	if token == "" {
		return nil, &provider.AuthError{
			Provider: model.ProviderChat,
			Message:  fmt.Sprintf("no access token stored for %s", acct.Address),
		}
	}

	payload := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               req.To[0],
		Type:             "text",
		Text:             &TextBody{Body: body},
	}

	var resp SendMessageResponse
	if err := a.post(ctx, token, "/"+a.cfg.PhoneID+"/messages", payload, &resp); err != nil {
		return nil, fmt.Errorf("sending chat message: %w", err)
	}

	result := &provider.SendResult{}
	if len(resp.Messages) > 0 {
		result.MessageID = resp.Messages[0].ID
	}
	return result, nil
}

func (a *Adapter) post(
	ctx context.Context,
	token, path string,
	body, result interface{},
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	url := strings.TrimRight(a.cfg.APIBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &provider.TransientError{
			Provider: model.ProviderChat,
			Message:  fmt.Sprintf("POST %s: %v", path, err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		return &provider.AuthError{
			Provider: model.ProviderChat,
			Message:  fmt.Sprintf("unauthorized (%d) on POST %s", resp.StatusCode, path),
		}

	case resp.StatusCode >= 500:
		return &provider.TransientError{
			Provider: model.ProviderChat,
			Message: fmt.Sprintf(
				"server error (%d) on POST %s: %s",
				resp.StatusCode, path, chatErrorDetail(respBody),
			),
		}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf(
			"chat API error (%d) on POST %s: %s",
			resp.StatusCode, path, chatErrorDetail(respBody),
		)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from POST %s: %w", path, err)
	}
	return nil
}

func chatErrorDetail(body []byte) string {
	var envelope ErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}
