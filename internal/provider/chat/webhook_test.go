package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nhle/mailhub/internal/model"
)

func newWebhookServer(t *testing.T, consumer Consumer) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler("secret-token", consumer, nil).Register("", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyEchoesChallenge(t *testing.T) {
	srv := newWebhookServer(t, nil)

	resp, err := http.Get(srv.URL +
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "12345" {
		t.Errorf("challenge echo %q, want 12345", body)
	}
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	srv := newWebhookServer(t, nil)

	resp, err := http.Get(srv.URL +
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d, want 403", resp.StatusCode)
	}
}

func TestVerifyRejectsWrongMode(t *testing.T) {
	srv := newWebhookServer(t, nil)

	resp, err := http.Get(srv.URL +
		"/webhook?hub.mode=unsubscribe&hub.verify_token=secret-token&hub.challenge=1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status %d, want 403", resp.StatusCode)
	}
}

func TestIngestNormalizesMessages(t *testing.T) {
	var got []model.Message
	var gotPhoneID string
	srv := newWebhookServer(t, func(_ context.Context, phoneID string, msg model.Message) {
		gotPhoneID = phoneID
		got = append(got, msg)
	})

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "biz-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "phone_number_id": "phone-1"},
					"contacts": [{"wa_id": "15557772222", "profile": {"name": "Dana"}}],
					"messages": [{
						"id": "wamid.abc",
						"from": "15557772222",
						"timestamp": "1756700000",
						"type": "text",
						"text": {"body": "order confirmed?"}
					}]
				}
			}]
		}]
	}`

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if gotPhoneID != "phone-1" {
		t.Errorf("phone id %q, want phone-1", gotPhoneID)
	}
	if len(got) != 1 {
		t.Fatalf("consumer received %d messages, want 1", len(got))
	}
	msg := got[0]
	if msg.ID != "wamid.abc" {
		t.Errorf("id %q", msg.ID)
	}
	if msg.From != "Dana <15557772222>" {
		t.Errorf("from %q", msg.From)
	}
	if msg.TextBody != "order confirmed?" || msg.Snippet != "order confirmed?" {
		t.Errorf("body %q snippet %q", msg.TextBody, msg.Snippet)
	}
	if !msg.Unread {
		t.Error("inbound message not marked unread")
	}
	want := time.Unix(1756700000, 0).UTC()
	if !msg.Date.Equal(want) {
		t.Errorf("date %v, want %v", msg.Date, want)
	}
}

func TestIngestIgnoresNonMessageChanges(t *testing.T) {
	calls := 0
	srv := newWebhookServer(t, func(context.Context, string, model.Message) {
		calls++
	})

	payload := `{"object":"whatsapp_business_account","entry":[{"id":"biz-1","changes":[{"field":"statuses","value":{}}]}]}`
	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if calls != 0 {
		t.Errorf("consumer called %d times for a status change", calls)
	}
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	srv := newWebhookServer(t, nil)

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		t.Errorf("malformed payload accepted with status %d", resp.StatusCode)
	}
}

func TestSnippetTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("héllo wörld ", 30)
	got := snippet(body)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a multi-byte rune: %q", got)
	}
	if utf8.RuneCountInString(got) != 120 {
		t.Errorf("got %d runes, want 120", utf8.RuneCountInString(got))
	}

	short := "héllo"
	if snippet(short) != short {
		t.Errorf("short body modified: %q", snippet(short))
	}
}
