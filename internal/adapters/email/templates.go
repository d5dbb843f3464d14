package email

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

// Template names.
const (
	TemplateConfirmSignup     = "confirm_signup"
	TemplateMagicLink         = "magic_link"
	TemplateResetPassword     = "reset_password"
	TemplateApprovalRequested = "approval_requested"
	TemplateApprovalDecided   = "approval_decided"
)

//go:embed templates/*.md
var templateFS embed.FS

var templates = template.Must(template.New("").Option("missingkey=error").ParseFS(templateFS, "templates/*.md"))

// Raw HTML in markdown input is escaped (WithUnsafe is not set), so user-supplied names cannot inject markup.
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

var errNoSubject = errors.New("email template must start with a Subject: line")

// Message is a rendered email ready to hand to a Sender.
type Message struct {
	Subject string
	Text    string // the markdown source, readable as plain text
	HTML    string
}

// Render executes a named markdown template and converts it to HTML.
// The first line of every template is "Subject: ...".
// PRE: name is one of the Template constants
// POST: Returns subject, markdown text and HTML body
func Render(name string, data any) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name+".md", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	first, body, _ := strings.Cut(buf.String(), "\n")
	subject, ok := strings.CutPrefix(first, "Subject:")
	if !ok {
		return Message{}, fmt.Errorf("render %s: %w", name, errNoSubject)
	}
	body = strings.TrimSpace(body)

	var html bytes.Buffer
	if err := mdRenderer.Convert([]byte(body), &html); err != nil {
		return Message{}, fmt.Errorf("render %s markdown: %w", name, err)
	}
	return Message{
		Subject: strings.TrimSpace(subject),
		Text:    body,
		HTML:    html.String(),
	}, nil
}

// Request builds a SendRequest for a rendered message.
func (m Message) Request(to ...string) SendRequest {
	return SendRequest{To: to, Subject: m.Subject, HTML: m.HTML, Text: m.Text}
}
