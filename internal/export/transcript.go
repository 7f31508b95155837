// ABOUTME: HTML transcript export; message bodies are rendered as markdown with goldmark
// ABOUTME: Raw HTML in message text is not passed through

package export

import (
	"bytes"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
)

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Conversation {{.Username}}</title>
</head>
<body>
<h1>{{.Username}}</h1>
{{range .Entries}}<div class="message"{{if .Style}} style="color: {{.Color}};"{{end}}>
<p class="meta"><time>{{.Date}}</time> <strong>{{.User}}</strong>{{if .Data}} <code>{{.Data}}</code>{{end}}</p>
{{.Body}}</div>
{{end}}</body>
</html>
`))

type transcriptEntry struct {
	Row
	Color string
	Body  template.HTML
}

// WriteHTML writes an HTML transcript of rows for username.
func WriteHTML(w io.Writer, username string, rows []Row) error {
	md := goldmark.New()

	entries := make([]transcriptEntry, 0, len(rows))
	for _, r := range rows {
		var body bytes.Buffer
		if err := md.Convert([]byte(r.Text), &body); err != nil {
			body.Reset()
			template.HTMLEscape(&body, []byte(r.Text))
		}
		entries = append(entries, transcriptEntry{
			Row:   r,
			Color: colorOf(r.Style),
			Body:  template.HTML(body.String()),
		})
	}

	return transcriptTemplate.Execute(w, struct {
		Username string
		Entries  []transcriptEntry
	}{Username: username, Entries: entries})
}

// colorOf pulls the color out of a "color: blue;" style attribute.
func colorOf(style string) string {
	_, color, ok := strings.Cut(style, "color:")
	if !ok {
		return ""
	}
	color, _, _ = strings.Cut(color, ";")
	return strings.TrimSpace(color)
}
