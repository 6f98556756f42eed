package sync

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// maxBodyTextChars caps the extracted plain text stored on the email row,
// keeping row size bounded regardless of message size.
const maxBodyTextChars = 100_000

// parseBody parses a raw RFC 5322 message using go-message and extracts the
// plain-text body (falling back to tag-stripped HTML) and attachment
// metadata. The returned text is truncated to maxBodyTextChars.
func parseBody(raw []byte) (string, []model.Attachment) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable as MIME; treat the whole thing as plain text.
		return truncateText(string(raw)), nil
	}
	defer mr.Close()

	var textBody, htmlBody string
	var attachments []model.Attachment

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if textBody == "" {
					textBody = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if htmlBody == "" {
					htmlBody = string(body)
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.Attachment{
				Filename: filename,
				MIMEType: contentType,
				Size:     int64(len(body)),
			})
		}
	}

	text := textBody
	if text == "" && htmlBody != "" {
		text = stripHTML(htmlBody)
	}
	return truncateText(text), attachments
}

// stripHTML removes tags from an HTML body, leaving the text content.
// Good enough for search and preview; rendering stays the UI's problem.
func stripHTML(html string) string {
	var b strings.Builder
	b.Grow(len(html))

	inTag := false
	lastSpace := true
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case !inTag:
			b.WriteRune(r)
			lastSpace = r == ' ' || r == '\n' || r == '\t'
		}
	}

	return strings.TrimSpace(b.String())
}

// truncateText caps text at maxBodyTextChars without splitting a rune.
func truncateText(text string) string {
	if len(text) <= maxBodyTextChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxBodyTextChars {
		return text
	}
	return string(runes[:maxBodyTextChars])
}
