package mimeutil

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// CIDMap maps normalized Content-IDs to resolved URLs: either a
// fetch-through reference served by the caller or a data URI built
// from a part already present in the envelope.
type CIDMap map[string]string

// AttachmentURLFunc renders a lazily-fetchable URL for an attachment
// that is not inlined, given the message id, attachment id, and MIME
// type.
type AttachmentURLFunc func(messageID, attachmentID, mimeType string) string

// BuildCIDMap builds the Content-ID resolution map for a parsed
// message. Parts small enough to be carried in the envelope become
// data URIs; everything else resolves through urlFor.
func BuildCIDMap(messageID string, body *Body, urlFor AttachmentURLFunc) CIDMap {
	cids := make(CIDMap)

	for _, ref := range body.Attachments {
		if ref.ContentID == "" {
			continue
		}

		if part, ok := body.InlineParts[ref.ContentID]; ok {
			cids[ref.ContentID] = fmt.Sprintf(
				"data:%s;base64,%s",
				part.MIMEType,
				base64.StdEncoding.EncodeToString(part.Content),
			)
			continue
		}

		if urlFor != nil && ref.ID != "" {
			cids[ref.ContentID] = urlFor(messageID, ref.ID, ref.MIMEType)
		}
	}

	return cids
}

// resolve looks a referenced CID up by exact match, then falls back
// to prefix matching in either direction. Providers are inconsistent
// about suffixes like "@mailer" on the reference versus the header.
func (m CIDMap) resolve(cid string) (string, bool) {
	if url, ok := m[cid]; ok {
		return url, true
	}
	for key, url := range m {
		if strings.HasPrefix(key, cid) || strings.HasPrefix(cid, key) {
			return url, true
		}
	}
	return "", false
}

var (
	cidSrcPattern        = regexp.MustCompile(`src=["']cid:([^"']+)["']`)
	cidBackgroundPattern = regexp.MustCompile(`background=["']cid:([^"']+)["']`)
	cidURLPattern        = regexp.MustCompile(`url\(["']?cid:([^"')]+)["']?\)`)
)

// RewriteInlineImages replaces every cid: reference in the HTML that
// resolves in the map. Unmatched references are left untouched so the
// sandbox can hide them.
func RewriteInlineImages(htmlBody string, cids CIDMap) string {
	if len(cids) == 0 {
		return htmlBody
	}

	out := cidSrcPattern.ReplaceAllStringFunc(htmlBody, func(match string) string {
		cid := cidSrcPattern.FindStringSubmatch(match)[1]
		if url, ok := cids.resolve(normalizeCID(cid)); ok {
			return `src="` + url + `"`
		}
		return match
	})

	out = cidBackgroundPattern.ReplaceAllStringFunc(out, func(match string) string {
		cid := cidBackgroundPattern.FindStringSubmatch(match)[1]
		if url, ok := cids.resolve(normalizeCID(cid)); ok {
			return `background="` + url + `"`
		}
		return match
	})

	out = cidURLPattern.ReplaceAllStringFunc(out, func(match string) string {
		cid := cidURLPattern.FindStringSubmatch(match)[1]
		if url, ok := cids.resolve(normalizeCID(cid)); ok {
			return `url(` + url + `)`
		}
		return match
	})

	return out
}

var anchorPattern = regexp.MustCompile(`(?i)<a(\s[^>]*)?>`)

// sandboxStyle caps media width and hides inline images whose cid:
// reference could not be resolved.
const sandboxStyle = `<style>` +
	`.mailhub-body img{max-width:100%;height:auto}` +
	`.mailhub-body table{max-width:100%}` +
	`.mailhub-body img[src^="cid:"]{display:none}` +
	`</style>`

// WrapSandbox wraps rendered message HTML in a container that caps
// image and table width, hides surviving unresolved cid: images, and
// forces external links to open in a new browsing context.
func WrapSandbox(htmlBody string) string {
	htmlBody = anchorPattern.ReplaceAllStringFunc(htmlBody, func(tag string) string {
		// Anchors that already carry the attribute keep theirs;
		// injecting again would produce duplicates.
		lower := strings.ToLower(tag)
		var inject string
		if !strings.Contains(lower, "target=") {
			inject += ` target="_blank"`
		}
		if !strings.Contains(lower, "rel=") {
			inject += ` rel="noopener noreferrer"`
		}
		if inject == "" {
			return tag
		}
		return "<a" + inject + tag[2:]
	})
	return sandboxStyle + `<div class="mailhub-body">` + htmlBody + `</div>`
}
