// Package mimeutil builds and decodes MIME messages for the adapters
// and rewrites inline-image references in received HTML.
package mimeutil

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ComposeRequest describes one outbound message to encode.
type ComposeRequest struct {
	From    string
	To      []string
	Cc      []string
	Subject string

	Text string
	HTML string

	Attachments []ComposeAttachment

	// MessageID is written as-is when set. Providers that assign
	// their own ids leave it empty.
	MessageID string

	// Threading headers, written verbatim when non-empty.
	InReplyTo  string
	References string
}

// ComposeAttachment is one outbound attachment.
type ComposeAttachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// Compose encodes the request as an RFC 5322 message, picking the
// smallest representation that fits: a bare text/plain part, a
// multipart/alternative, or a multipart/mixed wrapping the
// alternative plus base64 attachment parts.
func Compose(req ComposeRequest) ([]byte, error) {
	if len(req.To) == 0 {
		return nil, fmt.Errorf("compose: no recipients")
	}
	if req.Text == "" && req.HTML == "" {
		return nil, fmt.Errorf("compose: empty body")
	}

	var buf bytes.Buffer

	header := composeHeader(req)

	switch {
	case len(req.Attachments) == 0 && req.HTML == "":
		// Plain text only: a single text/plain part.
		header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("creating text writer: %w", err)
		}
		if _, err := w.Write([]byte(req.Text)); err != nil {
			return nil, fmt.Errorf("writing text body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing text writer: %w", err)
		}

	case len(req.Attachments) == 0:
		// Text and HTML: multipart/alternative, text first.
		iw, err := mail.CreateInlineWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("creating alternative writer: %w", err)
		}
		if err := writeAlternative(iw, req.Text, req.HTML); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("closing alternative writer: %w", err)
		}

	default:
		// Attachments: multipart/mixed wrapping the alternative.
		mw, err := mail.CreateWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("creating mixed writer: %w", err)
		}

		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("creating inline part: %w", err)
		}
		htmlBody := req.HTML
		if htmlBody == "" {
			htmlBody = "<pre>" + html.EscapeString(req.Text) + "</pre>"
		}
		if err := writeAlternative(iw, req.Text, htmlBody); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("closing inline part: %w", err)
		}

		for _, att := range req.Attachments {
			var ah mail.AttachmentHeader
			ah.SetFilename(att.Filename)
			mimeType := att.MIMEType
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			ah.SetContentType(mimeType, nil)

			w, err := mw.CreateAttachment(ah)
			if err != nil {
				return nil, fmt.Errorf("creating attachment %s: %w", att.Filename, err)
			}
			if _, err := w.Write(att.Content); err != nil {
				return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
			}
			if err := w.Close(); err != nil {
				return nil, fmt.Errorf("closing attachment %s: %w", att.Filename, err)
			}
		}

		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("closing mixed writer: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// composeHeader builds the top-level message header.
func composeHeader(req ComposeRequest) mail.Header {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(req.Subject)

	if req.From != "" {
		header.SetAddressList("From", []*mail.Address{{Address: req.From}})
	}
	header.SetAddressList("To", parseAddresses(req.To))
	if len(req.Cc) > 0 {
		header.SetAddressList("Cc", parseAddresses(req.Cc))
	}

	if req.MessageID != "" {
		header.Set("Message-ID", req.MessageID)
	}

	// Threading headers go in verbatim; providers supply them
	// already bracketed.
	if req.InReplyTo != "" {
		header.Set("In-Reply-To", req.InReplyTo)
	}
	if req.References != "" {
		header.Set("References", req.References)
	}

	return header
}

// writeAlternative writes text then HTML parts into an inline writer,
// producing a multipart/alternative when both are present.
func writeAlternative(iw *mail.InlineWriter, text, htmlBody string) error {
	if text != "" {
		var th mail.InlineHeader
		th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(th)
		if err != nil {
			return fmt.Errorf("creating text part: %w", err)
		}
		if _, err := w.Write([]byte(text)); err != nil {
			return fmt.Errorf("writing text part: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("closing text part: %w", err)
		}
	}

	if htmlBody != "" {
		var hh mail.InlineHeader
		hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(hh)
		if err != nil {
			return fmt.Errorf("creating html part: %w", err)
		}
		if _, err := w.Write([]byte(htmlBody)); err != nil {
			return fmt.Errorf("writing html part: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("closing html part: %w", err)
		}
	}

	return nil
}

// GenerateMessageID produces an RFC 5322 Message-ID using the domain
// of the sender's address: <timestamp.random@domain>.
func GenerateMessageID(fromAddress string) string {
	domain := "localhost"
	if idx := strings.Index(fromAddress, "@"); idx >= 0 && idx < len(fromAddress)-1 {
		domain = fromAddress[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(b), domain)
}

// ReplyReferences builds the References header for a reply: the
// original message's own References concatenated with its Message-ID.
func ReplyReferences(origReferences, origMessageID string) string {
	refs := strings.TrimSpace(origReferences)
	id := strings.TrimSpace(origMessageID)
	if id == "" {
		return refs
	}
	if refs == "" {
		return id
	}
	return refs + " " + id
}

func parseAddresses(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
