package sync

import (
	"strings"
	"testing"
)

const plainMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: lunch\r\n" +
	"Date: Mon, 2 Jun 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"see you at noon\r\n"

const multipartMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: report\r\n" +
	"Date: Mon, 2 Jun 2025 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=xyz\r\n" +
	"\r\n" +
	"--xyz\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"numbers attached\r\n" +
	"--xyz\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"q2.pdf\"\r\n" +
	"\r\n" +
	"%PDF-1.4 fake content\r\n" +
	"--xyz--\r\n"

const htmlOnlyMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: newsletter\r\n" +
	"Date: Mon, 2 Jun 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Hello <b>bob</b></p><p>bye</p></body></html>\r\n"

func TestParseBodyPlainText(t *testing.T) {
	text, attachments := parseBody([]byte(plainMessage))

	if !strings.Contains(text, "see you at noon") {
		t.Errorf("text = %q, want the plain body", text)
	}
	if len(attachments) != 0 {
		t.Errorf("attachments = %v, want none", attachments)
	}
}

func TestParseBodyMultipartWithAttachment(t *testing.T) {
	text, attachments := parseBody([]byte(multipartMessage))

	if !strings.Contains(text, "numbers attached") {
		t.Errorf("text = %q, want the text part", text)
	}
	if len(attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(attachments))
	}
	att := attachments[0]
	if att.Filename != "q2.pdf" {
		t.Errorf("filename = %q, want q2.pdf", att.Filename)
	}
	if att.MIMEType != "application/pdf" {
		t.Errorf("mime type = %q, want application/pdf", att.MIMEType)
	}
	if att.Size == 0 {
		t.Errorf("size = 0, want the part length")
	}
}

func TestParseBodyHTMLFallback(t *testing.T) {
	text, _ := parseBody([]byte(htmlOnlyMessage))

	if strings.Contains(text, "<") {
		t.Errorf("text still contains tags: %q", text)
	}
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "bob") {
		t.Errorf("text = %q, want stripped html content", text)
	}
}

func TestParseBodyUnparseableFallsBackToRaw(t *testing.T) {
	raw := []byte("not a mime message at all")
	text, attachments := parseBody(raw)

	if text != string(raw) {
		t.Errorf("text = %q, want raw content", text)
	}
	if len(attachments) != 0 {
		t.Errorf("attachments = %v, want none", attachments)
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML("<div>one<br>two</div> three")
	if strings.Contains(got, "<") || strings.Contains(got, ">") {
		t.Errorf("tags survived: %q", got)
	}
	for _, word := range []string{"one", "two", "three"} {
		if !strings.Contains(got, word) {
			t.Errorf("stripped text %q lost %q", got, word)
		}
	}
}

func TestTruncateTextCapsLongBodies(t *testing.T) {
	long := strings.Repeat("a", maxBodyTextChars+500)
	got := truncateText(long)
	if len(got) != maxBodyTextChars {
		t.Errorf("len = %d, want %d", len(got), maxBodyTextChars)
	}

	short := "short"
	if truncateText(short) != short {
		t.Errorf("short text was modified")
	}
}

func TestTruncateTextDoesNotSplitRunes(t *testing.T) {
	long := strings.Repeat("é", maxBodyTextChars)
	got := truncateText(long)
	for _, r := range got {
		if r != 'é' {
			t.Fatalf("found mangled rune %q", r)
		}
	}
}
