package mimeutil

import (
	"bytes"
	"html"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailhub/internal/model"
)

// inlineDataLimit caps the size of parts kept in memory for data-URI
// inlining; larger inline parts become fetchable attachment refs.
const inlineDataLimit = 512 * 1024

// Body is the decoded content of a parsed MIME message.
type Body struct {
	Text string
	HTML string

	Attachments []model.AttachmentRef

	// InlineParts maps normalized Content-IDs to small parts carried
	// in the envelope, available for data-URI inlining.
	InlineParts map[string]InlinePart
}

// InlinePart is a small inline MIME part kept in memory.
type InlinePart struct {
	MIMEType string
	Content  []byte
}

// HTMLOrPreformatted returns the HTML body, falling back to the plain
// text body wrapped as preformatted HTML.
func (b *Body) HTMLOrPreformatted() string {
	if b.HTML != "" {
		return b.HTML
	}
	if b.Text == "" {
		return ""
	}
	return "<pre>" + html.EscapeString(b.Text) + "</pre>"
}

// Parse decodes a raw RFC 5322 message. It walks the MIME tree depth
// first, keeping the first text/html and first text/plain leaves and
// collecting attachment descriptors (with normalized Content-IDs for
// inline parts).
func Parse(raw []byte) (*Body, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		// Undecodable structure: treat the whole payload as text.
		return &Body{Text: string(raw)}, nil
	}

	body := &Body{InlineParts: make(map[string]InlinePart)}
	walkEntity(body, entity)
	return body, nil
}

// walkEntity recurses through multipart entities depth first.
func walkEntity(body *Body, entity *gomessage.Entity) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			walkEntity(body, part)
		}
		return
	}

	readLeaf(body, entity)
}

// readLeaf decodes one non-multipart entity into the body.
func readLeaf(body *Body, entity *gomessage.Entity) {
	ct, _, _ := entity.Header.ContentType()

	disp, dispParams, _ := entity.Header.ContentDisposition()
	isAttachment := disp == "attachment"
	contentID := normalizeCID(entity.Header.Get("Content-Id"))

	switch {
	case !isAttachment && strings.HasPrefix(ct, "text/html") && body.HTML == "":
		if data, err := io.ReadAll(entity.Body); err == nil {
			body.HTML = string(data)
		}

	case !isAttachment && strings.HasPrefix(ct, "text/plain") && body.Text == "":
		if data, err := io.ReadAll(entity.Body); err == nil {
			body.Text = string(data)
		}

	default:
		data, err := io.ReadAll(entity.Body)
		if err != nil {
			return
		}

		filename := dispParams["filename"]
		if filename == "" {
			ah := mail.AttachmentHeader{Header: entity.Header}
			filename, _ = ah.Filename()
		}

		ref := model.AttachmentRef{
			Filename:  filename,
			MIMEType:  ct,
			Size:      int64(len(data)),
			ContentID: contentID,
			Inline:    !isAttachment,
		}
		body.Attachments = append(body.Attachments, ref)

		if contentID != "" && len(data) <= inlineDataLimit {
			body.InlineParts[contentID] = InlinePart{
				MIMEType: ct,
				Content:  data,
			}
		}
	}
}

// normalizeCID strips the angle brackets from a MIME Content-ID.
func normalizeCID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	cid = strings.TrimSuffix(cid, ">")
	return cid
}

// NormalizeCID exposes Content-ID normalization to adapters that read
// part headers from provider payloads.
func NormalizeCID(cid string) string { return normalizeCID(cid) }
