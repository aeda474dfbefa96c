// Package markdown renders the agent's status report for the HTTP status page.
package markdown

import (
	"bytes"
	"html/template"
	"regexp"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Render converts markdown to HTML. Raw HTML in the input is escaped, since
// status content includes text the agent and its channels wrote.
func Render(content string) string {
	if content == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return ""
	}
	return externalLinks(buf.String())
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
pre { padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25rem 0.5rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Page renders content as a standalone HTML document.
func Page(title, content string) ([]byte, error) {
	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(Render(content))})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var linkRe = regexp.MustCompile(`<a href="(https?://[^"]*)"`)

func externalLinks(s string) string {
	return linkRe.ReplaceAllString(s, `<a href="$1" target="_blank" rel="noopener noreferrer"`)
}
