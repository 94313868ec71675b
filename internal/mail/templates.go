package mail

import (
	"bytes"
	"text/template"
)

var autoReplyTemplate = template.Must(template.New("auto_reply").Parse(`Hello{{ if .Name }} {{ .Name }}{{ end }},

Thank you for contacting us. We have received your request and opened ticket {{ .Tag }}.

Subject: {{ .Subject }}

Our team will get back to you as soon as possible. To add information to this
request, reply to this email and keep {{ .Tag }} in the subject line.

{{ .Signature }}
`))

// AutoReplyData parameterizes the acknowledgment sent for new tickets.
type AutoReplyData struct {
	Number    int64
	Subject   string
	Name      string
	Signature string
}

// Tag returns the correlation tag for the template.
func (d AutoReplyData) Tag() string {
	return Tag(d.Number)
}

// RenderAutoReply renders the acknowledgment body.
func RenderAutoReply(data AutoReplyData) (string, error) {
	var buf bytes.Buffer
	if err := autoReplyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
