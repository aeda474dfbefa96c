package markdown

import (
	"strings"
	"testing"
)

func TestRenderEmpty(t *testing.T) {
	if got := Render(""); got != "" {
		t.Errorf("Render(\"\") = %q, want \"\"", got)
	}
}

func TestRenderBasicMarkdown(t *testing.T) {
	html := Render("**bold** and *italic*")
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("Expected <strong>bold</strong>, got: %s", html)
	}
	if !strings.Contains(html, "<em>italic</em>") {
		t.Errorf("Expected <em>italic</em>, got: %s", html)
	}
}

func TestRenderGFMTable(t *testing.T) {
	html := Render("| Key | Value |\n|---|---|\n| mode | listening |")
	if !strings.Contains(html, "<table>") {
		t.Errorf("Expected table HTML, got: %s", html)
	}
}

func TestRenderCodeBlock(t *testing.T) {
	html := Render("```\nengine started\n```")
	if !strings.Contains(html, "<pre") {
		t.Errorf("Expected <pre> block, got: %s", html)
	}
}

func TestRenderEscapesRawHTML(t *testing.T) {
	html := Render("<script>alert(1)</script>")
	if strings.Contains(html, "<script>") {
		t.Errorf("Raw HTML should not pass through, got: %s", html)
	}
}

func TestRenderExternalLinks(t *testing.T) {
	html := Render("[docs](https://example.com)")
	if !strings.Contains(html, `target="_blank" rel="noopener noreferrer"`) {
		t.Errorf("Expected target=_blank on external link, got: %s", html)
	}
	html = Render("[metrics](/metrics)")
	if strings.Contains(html, `target="_blank"`) {
		t.Errorf("Internal link should NOT have target=_blank, got: %s", html)
	}
}

func TestPage(t *testing.T) {
	out, err := Page("ouro <status>", "# Status\n\nmode: **sleeping**")
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "<title>ouro &lt;status&gt;</title>") {
		t.Errorf("Expected escaped title, got: %s", s)
	}
	if !strings.Contains(s, "<strong>sleeping</strong>") {
		t.Errorf("Expected rendered body, got: %s", s)
	}
}
