package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	userAgent       = "Mozilla/5.0 (compatible; Ouro/1.0)"
	maxResponseBody = 1 << 20
	searchResults   = 5
	snippetWidth    = 200
)

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

// httpRequest accepts "METHOD url" or a bare url on the first line; the
// remaining lines are the request body. HTML responses are reduced to their
// visible text.
func (h *handlers) httpRequest(ctx context.Context, _ *ExecContext, body string) (string, error) {
	head, payload := splitHead(strings.TrimSpace(body))
	method, target := http.MethodGet, head
	if m, rest, ok := strings.Cut(head, " "); ok && httpMethods[strings.ToUpper(m)] {
		method, target = strings.ToUpper(m), strings.TrimSpace(rest)
	} else if second, rest := splitHead(payload); httpMethods[strings.ToUpper(second)] {
		// url, then method, then body
		method, payload = strings.ToUpper(second), rest
	}
	if target == "" {
		return "", errors.New("missing url")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	var reqBody io.Reader
	if strings.TrimSpace(payload) != "" {
		reqBody = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	if reqBody != nil {
		if p := strings.TrimSpace(payload); strings.HasPrefix(p, "{") || strings.HasPrefix(p, "[") {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", err
	}

	ct := resp.Header.Get("Content-Type")
	return fmt.Sprintf("HTTP %s\nContent-Type: %s\n\n%s", resp.Status, ct, ExtractVisibleText(raw, ct)), nil
}

// webSearch queries the DuckDuckGo HTML endpoint.
func (h *handlers) webSearch(ctx context.Context, _ *ExecContext, body string) (string, error) {
	query := strings.TrimSpace(body)
	if query == "" {
		return "", errors.New("missing query")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.SearchURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned %s", resp.Status)
	}
	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", err
	}

	results := parseDuckDuckGo(doc, searchResults)
	if len(results) == 0 {
		return "No results found.", nil
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "**%s**\n  %s\n  %s\n\n", r.Title, r.URL, truncate(r.Snippet, snippetWidth))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// parseDuckDuckGo walks result__body blocks, taking the title and link from
// result__a and the text of result__snippet. Redirect links are unwrapped
// through their uddg parameter.
func parseDuckDuckGo(doc *html.Node, limit int) []searchResult {
	var out []searchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__body") {
			var r searchResult
			if a := findClass(n, "result__a"); a != nil {
				r.Title = strings.TrimSpace(textOf(a))
				r.URL = unwrapRedirect(getAttr(a, "href"))
			}
			if s := findClass(n, "result__snippet"); s != nil {
				r.Snippet = strings.TrimSpace(textOf(s))
			}
			if r.Title != "" && r.URL != "" {
				out = append(out, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func findClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findClass(c, class); f != nil {
			return f
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return oneLine(b.String())
}

// skipElements are discarded with their whole subtree.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
}

var (
	hiddenStyle    = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)
	collapseSpace  = regexp.MustCompile(`[ \t]+`)
	collapseBreaks = regexp.MustCompile(`\n{3,}`)
)

// ExtractVisibleText returns what a reader would see of an HTML document.
// Other content types pass through unchanged.
func ExtractVisibleText(raw []byte, contentType string) string {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return string(raw)
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	var b strings.Builder
	extractText(doc, &b)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(collapseSpace.ReplaceAllString(line, " "), unicode.IsSpace)
	}
	text := collapseBreaks.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

func extractText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] || getAttr(n, "aria-hidden") == "true" || hasAttr(n, "hidden") {
			return
		}
		if style := getAttr(n, "style"); style != "" && hiddenStyle.MatchString(style) {
			return
		}
		block := isBlockElement(n.DataAtom)
		if block {
			b.WriteString("\n")
		}
		if lvl := headingLevel(n.DataAtom); lvl > 0 {
			b.WriteString(strings.Repeat("#", lvl) + " ")
		}
		if n.DataAtom == atom.Li {
			b.WriteString("• ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c, b)
		}
		if n.DataAtom == atom.Br || n.DataAtom == atom.Hr || block {
			b.WriteString("\n")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c, b)
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Section, atom.Article, atom.Aside,
		atom.Header, atom.Footer, atom.Nav, atom.Main, atom.Figure,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Details, atom.Summary, atom.Form:
		return true
	}
	return false
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}
