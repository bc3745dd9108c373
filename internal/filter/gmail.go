package filter

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GmailHeader is a message header.
type GmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// GmailBody is a message part body.
type GmailBody struct {
	AttachmentID string `json:"attachmentId,omitempty"`
	Size         int    `json:"size"`
	Data         string `json:"data,omitempty"`
}

// GmailPart is a MIME part of a message.
type GmailPart struct {
	PartID   string        `json:"partId,omitempty"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename,omitempty"`
	Headers  []GmailHeader `json:"headers,omitempty"`
	Body     GmailBody     `json:"body"`
	Parts    []GmailPart   `json:"parts,omitempty"`
}

// GmailMessage mirrors users.messages.get.
type GmailMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"threadId"`
	LabelIDs     []string  `json:"labelIds,omitempty"`
	Snippet      string    `json:"snippet,omitempty"`
	InternalDate string    `json:"internalDate,omitempty"`
	SizeEstimate int       `json:"sizeEstimate,omitempty"`
	Payload      GmailPart `json:"payload"`
}

// EmailSummary is the search-tier view of a message.
type EmailSummary struct {
	ID             string   `json:"id"`
	ThreadID       string   `json:"threadId"`
	From           string   `json:"from,omitempty"`
	To             string   `json:"to,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	Date           string   `json:"date,omitempty"`
	Snippet        string   `json:"snippet,omitempty"`
	LabelIDs       []string `json:"labelIds,omitempty"`
	HasAttachments bool     `json:"hasAttachments"`
}

// Attachment describes an attachment without its bytes.
type Attachment struct {
	AttachmentID string `json:"attachmentId"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int    `json:"size"`
}

// EmailContent is the single-message view.
type EmailContent struct {
	EmailSummary
	Cc          string       `json:"cc,omitempty"`
	Body        string       `json:"body"`
	Truncated   bool         `json:"truncated,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Email reduces a message to its summary.
func Email(msg GmailMessage) EmailSummary {
	h := msg.Payload.Headers
	return EmailSummary{
		ID:             msg.ID,
		ThreadID:       msg.ThreadID,
		From:           header(h, "From"),
		To:             header(h, "To"),
		Subject:        header(h, "Subject"),
		Date:           header(h, "Date"),
		Snippet:        html.UnescapeString(msg.Snippet),
		LabelIDs:       msg.LabelIDs,
		HasAttachments: len(Attachments(msg)) > 0,
	}
}

// EmailContentOf reduces a full-format message. The body prefers text/plain
// and falls back to tag-stripped text/html; it is cut at maxBody bytes on a
// rune boundary when maxBody > 0.
func EmailContentOf(msg GmailMessage, maxBody int) EmailContent {
	body := partText(msg.Payload, "text/plain")
	if body == "" {
		body = stripHTML(partText(msg.Payload, "text/html"))
	}
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	out := EmailContent{
		EmailSummary: Email(msg),
		Cc:           header(msg.Payload.Headers, "Cc"),
		Attachments:  Attachments(msg),
	}
	if maxBody > 0 && len(body) > maxBody {
		cut := maxBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
		out.Truncated = true
	}
	out.Body = body
	return out
}

// Attachments lists every part carrying an attachment id.
func Attachments(msg GmailMessage) []Attachment {
	out := []Attachment{}
	var walk func(p GmailPart)
	walk = func(p GmailPart) {
		if p.Body.AttachmentID != "" && p.Filename != "" {
			out = append(out, Attachment{
				AttachmentID: p.Body.AttachmentID,
				Filename:     p.Filename,
				MimeType:     p.MimeType,
				Size:         p.Body.Size,
			})
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(msg.Payload)
	return out
}

func header(headers []GmailHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func partText(p GmailPart, mime string) string {
	if strings.EqualFold(p.MimeType, mime) && p.Filename == "" && p.Body.Data != "" {
		if decoded, err := DecodeBase64URL(p.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, child := range p.Parts {
		if text := partText(child, mime); text != "" {
			return text
		}
	}
	return ""
}

// DecodeBase64URL decodes Gmail's base64url payloads, padded or not.
func DecodeBase64URL(data string) ([]byte, error) {
	data = strings.TrimRight(data, "=")
	return base64.RawURLEncoding.DecodeString(data)
}

var (
	htmlBlock = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlBreak = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li)[^>]*>`)
	htmlTag   = regexp.MustCompile(`<[^>]+>`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = htmlBlock.ReplaceAllString(s, "")
	s = htmlBreak.ReplaceAllString(s, "\n")
	s = htmlTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return blankRuns.ReplaceAllString(s, "\n\n")
}
