package mail

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/zeebo/blake3"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

var (
	htmlPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

const maxPartDepth = 8

// ErrNoExternalID is returned for empty payloads that cannot be identified.
var ErrNoExternalID = errors.New("inbound message has no id")

// Address is a parsed mailbox.
type Address struct {
	Name  string
	Email string
}

// InboundMessage is one customer email after parsing and sanitation.
type InboundMessage struct {
	ExternalID    string
	MessageID     string
	InReplyTo     string
	References    []string
	From          Address
	To            []Address
	Subject       string
	Text          string
	HTML          string
	Attachments   []domain.Attachment
	AutoSubmitted bool
	Date          time.Time
}

// Payload is the provider-native JSON form of an inbound message. Either Raw
// (base64url RFC 5322 bytes) or the pre-parsed fields are set.
type Payload struct {
	ID          string              `json:"id"`
	Raw         string              `json:"raw,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// Message converts the payload into an InboundMessage.
func (p Payload) Message() (*InboundMessage, error) {
	var msg *InboundMessage
	var content []byte
	if p.Raw != "" {
		raw, err := decodeRaw(p.Raw)
		if err != nil {
			// Undecodable bytes still open a ticket, with an empty body.
			raw = []byte(p.Raw)
			msg = &InboundMessage{}
		} else {
			msg = ParseRaw(raw)
		}
		content = raw
	} else {
		header := mail.Header{}
		for k, v := range p.Headers {
			header[textproto.CanonicalMIMEHeaderKey(k)] = []string{v}
		}
		msg = fromHeader(header)
		msg.Text = p.Text
		msg.HTML = p.HTML
		msg.Attachments = sanitizeAttachments(p.Attachments)
		msg.normalizeBodies()
		if msg.From.Email != "" || msg.Subject != "" || msg.Text != "" {
			content = []byte(msg.From.Email + "\n" + msg.Subject + "\n" + msg.Date.String() + "\n" + msg.Text)
		}
	}
	msg.ExternalID = strings.TrimSpace(p.ID)
	if msg.ExternalID == "" {
		msg.ExternalID = msg.MessageID
	}
	if msg.ExternalID == "" && len(content) > 0 {
		msg.ExternalID = ContentID(content)
	}
	if msg.ExternalID == "" {
		return nil, ErrNoExternalID
	}
	return msg, nil
}

// ContentID derives a stable id for messages that carry neither a provider
// id nor a Message-Id, so redeliveries of the same bytes still deduplicate.
func ContentID(content []byte) string {
	sum := blake3.Sum256(content)
	return "blake3:" + hex.EncodeToString(sum[:])
}

func decodeRaw(raw string) ([]byte, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "=")
	if data, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(raw)
}

// ParseRaw parses an RFC 5322 message. It never fails: unreadable headers
// leave the header fields empty and keep whatever follows the first blank
// line as plain text, and a body that cannot be decoded becomes "".
func ParseRaw(raw []byte) *InboundMessage {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		msg := &InboundMessage{Text: bodyAfterHeaders(raw)}
		msg.normalizeBodies()
		return msg
	}
	msg := fromHeader(parsed.Header)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}
	msg.walk(mediaType, params, textproto.MIMEHeader(parsed.Header), parsed.Body, 0)
	msg.normalizeBodies()
	return msg
}

func bodyAfterHeaders(raw []byte) string {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := bytes.Index(raw, []byte(sep)); i >= 0 {
			return string(raw[i+len(sep):])
		}
	}
	return ""
}

func fromHeader(h mail.Header) *InboundMessage {
	msg := &InboundMessage{
		MessageID: trimAngles(h.Get("Message-Id")),
		InReplyTo: trimAngles(h.Get("In-Reply-To")),
		Subject:   strings.TrimSpace(decodeWords(h.Get("Subject"))),
	}
	for _, ref := range strings.Fields(h.Get("References")) {
		msg.References = append(msg.References, trimAngles(ref))
	}
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		msg.From = Address{Name: list[0].Name, Email: strings.ToLower(list[0].Address)}
	} else if from := strings.TrimSpace(h.Get("From")); from != "" {
		msg.From = Address{Email: strings.ToLower(trimAngles(from))}
	}
	if list, err := h.AddressList("To"); err == nil {
		for _, a := range list {
			msg.To = append(msg.To, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
		}
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	msg.AutoSubmitted = isAutoSubmitted(h)
	return msg
}

func isAutoSubmitted(h mail.Header) bool {
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(h.Get("Precedence"))) {
	case "bulk", "junk", "list", "auto_reply":
		return true
	}
	return h.Get("X-Autoreply") != "" || h.Get("X-Autorespond") != ""
}

func (m *InboundMessage) walk(mediaType string, params map[string]string, header textproto.MIMEHeader, body io.Reader, depth int) {
	if depth > maxPartDepth {
		return
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return
		}
		reader := multipart.NewReader(body, boundary)
		for {
			part, err := reader.NextPart()
			if err != nil {
				return
			}
			partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
			if err != nil {
				partType, partParams = "text/plain", map[string]string{}
			}
			m.walk(partType, partParams, part.Header, part, depth+1)
		}
	}

	data, err := io.ReadAll(decodeTransfer(header.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return
	}

	disposition, dispParams, _ := mime.ParseMediaType(header.Get("Content-Disposition"))
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	isText := mediaType == "text/plain" || mediaType == "text/html"
	if disposition == "attachment" || (!isText && filename != "") || (!isText && disposition == "inline") {
		m.Attachments = append(m.Attachments, domain.Attachment{
			Name: sanitizeAttachmentName(decodeWords(filename)),
			Size: int64(len(data)),
		})
		return
	}

	switch mediaType {
	case "text/plain":
		if m.Text == "" {
			m.Text = string(data)
		}
	case "text/html":
		if m.HTML == "" {
			m.HTML = string(data)
		}
	}
}

// decodeTransfer undoes base64 and quoted-printable. multipart.Reader already
// strips quoted-printable from parts, which leaves the header empty.
func decodeTransfer(encoding string, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: body})
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}

type newlineStripper struct {
	r io.Reader
}

func (s *newlineStripper) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	out := p[:0]
	for _, b := range p[:n] {
		if b != '\r' && b != '\n' && b != ' ' && b != '\t' {
			out = append(out, b)
		}
	}
	return len(out), err
}

func (m *InboundMessage) normalizeBodies() {
	m.Text = strings.ToValidUTF8(m.Text, "")
	m.HTML = strings.ToValidUTF8(m.HTML, "")
	if m.HTML != "" {
		if strings.TrimSpace(m.Text) == "" {
			m.Text = HTMLToText(m.HTML)
		}
		m.HTML = htmlPolicy.Sanitize(m.HTML)
	}
	m.Text = strings.TrimSpace(strings.ReplaceAll(m.Text, "\r\n", "\n"))
}

// HTMLToText strips markup, keeping paragraph breaks.
func HTMLToText(body string) string {
	replacer := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n\n", "</div>", "\n", "</li>", "\n")
	text := html.UnescapeString(textPolicy.Sanitize(replacer.Replace(body)))
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(collapseBlankLines(strings.Join(lines, "\n")))
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func decodeWords(s string) string {
	decoded, err := new(mime.WordDecoder).DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func trimAngles(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
}

func sanitizeAttachments(in []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Attachment{Name: sanitizeAttachmentName(a.Name), Size: a.Size})
	}
	return out
}

// sanitizeAttachmentName strips any path components.
func sanitizeAttachmentName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
