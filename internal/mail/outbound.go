package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboundMessage is an email the engine sends through the provider.
type OutboundMessage struct {
	From       Address
	To         []Address
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string
	// AutoReply marks the message Auto-Submitted so other responders stay quiet.
	AutoReply bool
}

// Build renders the RFC 5322 bytes and returns them with the generated Message-Id.
func (m OutboundMessage) Build(now time.Time) ([]byte, string, error) {
	if m.From.Email == "" {
		return nil, "", fmt.Errorf("outbound message has no sender")
	}
	if len(m.To) == 0 {
		return nil, "", fmt.Errorf("outbound message has no recipients")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domainOf(m.From.Email))

	var buf bytes.Buffer
	writeHeader(&buf, "From", formatAddress(m.From))
	recipients := make([]string, 0, len(m.To))
	for _, to := range m.To {
		recipients = append(recipients, formatAddress(to))
	}
	writeHeader(&buf, "To", strings.Join(recipients, ", "))
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", sanitizeHeader(m.Subject)))
	writeHeader(&buf, "Date", now.UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-Id", "<"+messageID+">")
	if m.InReplyTo != "" {
		writeHeader(&buf, "In-Reply-To", "<"+sanitizeHeader(m.InReplyTo)+">")
	}
	if refs := referenceChain(m.References, m.InReplyTo); len(refs) > 0 {
		writeHeader(&buf, "References", strings.Join(refs, " "))
	}
	if m.AutoReply {
		writeHeader(&buf, "Auto-Submitted", "auto-replied")
		writeHeader(&buf, "X-Auto-Response-Suppress", "All")
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	if m.HTML == "" {
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, m.Text); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), messageID, nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writeHeader(&buf, "Content-Type", "multipart/alternative; boundary="+writer.Boundary())
	buf.WriteString("\r\n")
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	} {
		w, err := writer.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, "", err
		}
		if err := writeQuotedPrintable(w, part.content); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), messageID, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeQuotedPrintable(w io.Writer, text string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(strings.ReplaceAll(text, "\n", "\r\n"))); err != nil {
		return err
	}
	return qp.Close()
}

func formatAddress(a Address) string {
	addr := mail.Address{Name: sanitizeHeader(a.Name), Address: sanitizeHeader(a.Email)}
	return addr.String()
}

func referenceChain(refs []string, inReplyTo string) []string {
	var out []string
	seen := map[string]bool{}
	for _, ref := range append(append([]string(nil), refs...), inReplyTo) {
		ref = sanitizeHeader(trimAngles(ref))
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, "<"+ref+">")
	}
	return out
}

// sanitizeHeader removes CR and LF so values cannot inject headers.
func sanitizeHeader(input string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(input))
}

func domainOf(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at < len(email)-1 {
		return email[at+1:]
	}
	return "localhost"
}
