package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/store"
)

// ConnectRequest carries the plaintext credentials of a new account.
// Secrets are encrypted before they reach the store and the request
// must not be logged.
type ConnectRequest struct {
	OwnerID  string
	Provider model.Provider
	Address  string

	// OAuth providers.
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// IMAP/SMTP provider.
	Password     string
	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	SMTPHost     string
	SMTPPort     int
	SMTPSecure   bool
	SMTPStartTLS bool
}

// Service owns the account lifecycle and the send-item ledger on top
// of the aggregator's routing.
type Service struct {
	store      store.Store
	cipher     *crypto.Cipher
	aggregator *Aggregator
	logger     *slog.Logger
}

// NewService creates a mailbox service.
func NewService(
	s store.Store,
	cipher *crypto.Cipher,
	aggregator *Aggregator,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		cipher:     cipher,
		aggregator: aggregator,
		logger:     logger,
	}
}

// ConnectAccount encrypts the request's credentials and persists a
// connected account.
func (s *Service) ConnectAccount(
	ctx context.Context,
	req ConnectRequest,
) (*model.MailAccount, error) {
	if req.OwnerID == "" || req.Address == "" {
		return nil, &provider.ValidationError{Message: "owner id and address are required"}
	}

	switch req.Provider {
	case model.ProviderGmail, model.ProviderOutlook, model.ProviderChat:
		if req.AccessToken == "" {
			return nil, &provider.ValidationError{
				Message: fmt.Sprintf("%s accounts require an access token", req.Provider),
			}
		}
	case model.ProviderIMAP:
		if req.Password == "" || req.IMAPHost == "" || req.SMTPHost == "" {
			return nil, &provider.ValidationError{
				Message: "imap accounts require a password and imap/smtp endpoints",
			}
		}
	default:
		return nil, &provider.ValidationError{
			Message: fmt.Sprintf("unknown provider %q", req.Provider),
		}
	}

	acct := model.MailAccount{
		ID:           uuid.New().String(),
		OwnerID:      req.OwnerID,
		Provider:     req.Provider,
		Address:      strings.ToLower(strings.TrimSpace(req.Address)),
		ExpiresAt:    req.ExpiresAt,
		Status:       model.StatusConnected,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPSecure:   req.IMAPSecure,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPSecure:   req.SMTPSecure,
		SMTPStartTLS: req.SMTPStartTLS,
	}

	var err error
	if req.AccessToken != "" {
		if acct.AccessTokenEnc, err = s.cipher.Encrypt(req.AccessToken); err != nil {
			return nil, fmt.Errorf("encrypting access token: %w", err)
		}
	}
	if req.RefreshToken != "" {
		if acct.RefreshTokenEnc, err = s.cipher.Encrypt(req.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
	}
	if req.Password != "" {
		if acct.PasswordEnc, err = s.cipher.Encrypt(req.Password); err != nil {
			return nil, fmt.Errorf("encrypting password: %w", err)
		}
	}

	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("persisting account: %w", err)
	}

	s.logger.Info("account connected",
		"account_id", acct.ID,
		"provider", acct.Provider,
		"address", acct.Address)

	return &acct, nil
}

// DisconnectAccount removes the account and its stored credentials.
func (s *Service) DisconnectAccount(ctx context.Context, accountID string) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("deleting account %s: %w", accountID, err)
	}
	s.logger.Info("account disconnected", "account_id", accountID)
	return nil
}

// Send delivers a message through the account's provider and records
// the attempt in the send ledger. itemID makes resubmission
// idempotent: pass the previous id to update the same record, or
// empty for a fresh one.
func (s *Service) Send(
	ctx context.Context,
	accountID, itemID string,
	req provider.SendRequest,
) (*model.SendItem, error) {
	acct, adapter, err := s.aggregator.route(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if itemID == "" {
		itemID = uuid.New().String()
	}
	item := model.SendItem{
		ID:        itemID,
		AccountID: acct.ID,
		Recipient: strings.Join(req.To, ", "),
		Subject:   req.Subject,
		Body:      req.Text,
		Provider:  acct.Provider,
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, sendErr := adapter.Send(callCtx, acct, req)
	if sendErr != nil {
		item.Status = model.SendStatusFailed
		item.Error = sendErr.Error()
	} else {
		item.Status = model.SendStatusSent
		item.MessageID = result.MessageID
		item.ThreadID = result.ThreadID
	}

	if err := s.store.UpsertSendItem(ctx, item); err != nil {
		s.logger.Warn("recording send item",
			"account_id", acct.ID, "item_id", item.ID, "err", err)
	}

	if sendErr != nil {
		return &item, fmt.Errorf("sending from %s: %w", acct.Address, sendErr)
	}
	return &item, nil
}

// SendHistory returns recent send attempts for the account.
func (s *Service) SendHistory(
	ctx context.Context,
	accountID string,
	limit int,
) ([]model.SendItem, error) {
	return s.store.GetSendItems(ctx, accountID, limit)
}
