package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/OliverSchlueter/goutils/problems"

	"github.com/nhle/mailhub/internal/model"
)

// Consumer receives one normalized inbound message. phoneNumberID
// identifies which registered number the message was delivered to.
type Consumer func(ctx context.Context, phoneNumberID string, msg model.Message)

// Handler serves the webhook endpoint: subscription verification on
// GET, event ingestion on POST.
type Handler struct {
	verifyToken string
	consumer    Consumer
	logger      *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(verifyToken string, consumer Consumer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifyToken: verifyToken,
		consumer:    consumer,
		logger:      logger,
	}
}

// Register mounts the webhook route on the mux.
func (h *Handler) Register(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"/webhook", h.handleWebhook)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.ingest(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet, http.MethodPost}).WriteToHTTP(w)
	}
}

// verify answers the subscription handshake: echo hub.challenge when
// the mode and token match, 403 otherwise.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, challenge)
}

// ingest narrows the event payload and hands each message to the
// consumer. The endpoint always acknowledges parseable payloads so
// the channel does not re-deliver them.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		problems.CouldNotDecodeBody().WriteToHTTP(w)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := contactNames(change.Value.Contacts)
			for _, inbound := range change.Value.Messages {
				msg := normalizeInbound(inbound, names)
				if h.consumer != nil {
					h.consumer(r.Context(), change.Value.Metadata.PhoneNumberID, msg)
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func contactNames(contacts []Contact) map[string]string {
	if len(contacts) == 0 {
		return nil
	}
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

// normalizeInbound converts one webhook message to the shared model.
func normalizeInbound(inbound InboundMessage, names map[string]string) model.Message {
	msg := model.Message{
		ID:     inbound.ID,
		From:   inbound.From,
		Unread: true,
	}
	if name, ok := names[inbound.From]; ok {
		msg.From = fmt.Sprintf("%s <%s>", name, inbound.From)
	}
	if inbound.Text != nil {
		msg.TextBody = inbound.Text.Body
		msg.Snippet = snippet(inbound.Text.Body)
	}
	if secs, err := strconv.ParseInt(inbound.Timestamp, 10, 64); err == nil && secs > 0 {
		msg.Date = time.Unix(secs, 0).UTC()
	}
	return msg
}

// snippet truncates on a rune boundary so multi-byte text is never
// cut mid-sequence.
func snippet(body string) string {
	const max = 120
	if len(body) <= max {
		return body
	}
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max])
}
