package remote

import (
	"strings"
	"testing"

	"github.com/hunterclarke/cosmos/lib/model"
)

func TestParseRawMessagePlainText(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Subject: Hello\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"Hi Bob.\r\n"

	rm, err := parseRawMessage("m1", "t1", []model.LabelID{model.LabelInbox}, 7, 1136214245000, []byte(raw))
	if err != nil {
		t.Fatalf("parseRawMessage() error %v", err)
	}
	if rm.From.Email != "alice@example.com" || rm.From.Name != "Alice" {
		t.Errorf("From = %+v, want Alice <alice@example.com>", rm.From)
	}
	if rm.Subject != "Hello" {
		t.Errorf("Subject = %q, want Hello", rm.Subject)
	}
	if !strings.Contains(rm.BodyText, "Hi Bob.") {
		t.Errorf("BodyText = %q, want to contain %q", rm.BodyText, "Hi Bob.")
	}
	if rm.HasAttachment {
		t.Error("HasAttachment = true, want false")
	}
}

// TestParseRawMessageMissingHeaders exercises spec.md §8.3: a message with
// no recognized headers still parses, with From.Email falling back to the
// empty string rather than erroring, and Subject empty.
func TestParseRawMessageMissingHeaders(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nno headers here\r\n"
	rm, err := parseRawMessage("m2", "t2", nil, 0, 5000, []byte(raw))
	if err != nil {
		t.Fatalf("parseRawMessage() error %v", err)
	}
	if rm.From.Email != "" {
		t.Errorf("From.Email = %q, want empty", rm.From.Email)
	}
	if rm.Subject != "" {
		t.Errorf("Subject = %q, want empty", rm.Subject)
	}
	// No Date header: falls back to the caller-supplied internal date.
	if rm.ReceivedAt != 5000 {
		t.Errorf("ReceivedAt = %d, want 5000 (internal date fallback)", rm.ReceivedAt)
	}
}

func TestParseRawMessageUnparsableFromFallsBackToRawText(t *testing.T) {
	raw := "From: not an address at all\r\n" +
		"Content-Type: text/plain\r\n\r\nbody\r\n"
	rm, err := parseRawMessage("m3", "t3", nil, 0, 0, []byte(raw))
	if err != nil {
		t.Fatalf("parseRawMessage() error %v", err)
	}
	if rm.From.Email != "not an address at all" {
		t.Errorf("From.Email = %q, want the raw header text", rm.From.Email)
	}
	if rm.From.Name != "" {
		t.Errorf("From.Name = %q, want empty", rm.From.Name)
	}
}

func TestParseRawMessageMultipartWithAttachment(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"plain body\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html body</p>\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf; name=\"doc.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n\r\n" +
		"PDFDATA\r\n" +
		"--BOUNDARY--\r\n"

	rm, err := parseRawMessage("m4", "t4", nil, 0, 0, []byte(raw))
	if err != nil {
		t.Fatalf("parseRawMessage() error %v", err)
	}
	if !strings.Contains(rm.BodyText, "plain body") {
		t.Errorf("BodyText = %q, want to contain %q", rm.BodyText, "plain body")
	}
	if !strings.Contains(rm.BodyHTML, "html body") {
		t.Errorf("BodyHTML = %q, want to contain %q", rm.BodyHTML, "html body")
	}
	if !rm.HasAttachment {
		t.Error("HasAttachment = false, want true")
	}
}

func TestParseRawMessageBase64Body(t *testing.T) {
	// "hello world" base64-encoded.
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" +
		"aGVsbG8gd29ybGQ=\r\n"
	rm, err := parseRawMessage("m5", "t5", nil, 0, 0, []byte(raw))
	if err != nil {
		t.Fatalf("parseRawMessage() error %v", err)
	}
	if !strings.Contains(rm.BodyText, "hello world") {
		t.Errorf("BodyText = %q, want to contain %q", rm.BodyText, "hello world")
	}
}

func TestParseRawMessageUnframeableBodyErrors(t *testing.T) {
	if _, err := parseRawMessage("m6", "t6", nil, 0, 0, []byte{}); err == nil {
		t.Error("parseRawMessage(empty) succeeded, want error")
	}
}
