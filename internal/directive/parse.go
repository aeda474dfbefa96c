package directive

import "strings"

// Action is one typed operation with its free-text body.
type Action struct {
	Kind Kind
	Body string
}

// Directive is a parsed oracle reply.
type Directive struct {
	Rationale string
	// Preamble holds the lines before the first marker of any kind.
	Preamble string
	Actions  []Action
	Raw      string
}

// HasActions reports whether any action marker was recognized.
func (d Directive) HasActions() bool {
	return len(d.Actions) > 0
}

// Fallback is the text to treat as a direct reply when no actions were found.
func (d Directive) Fallback() string {
	return strings.TrimSpace(d.Raw)
}

// Failsafe returns the action that directly follows a leading Talk. Older
// prompts relied on "talk, then act" being honored as a pair; the engine
// already runs every action in order, so this is informational only and
// never causes an action to run twice.
func (d Directive) Failsafe() (Action, bool) {
	if len(d.Actions) >= 2 && d.Actions[0].Kind == Talk {
		return d.Actions[1], true
	}
	return Action{}, false
}

type tokenType int

const (
	tokText tokenType = iota
	tokRationale
	tokAction
)

type token struct {
	typ  tokenType
	kind Kind
	line string
}

// lex classifies every line of text. A line is a marker only when, after
// trimming surrounding whitespace, it equals a marker exactly. A trailing
// newline terminates the last line rather than starting an empty one.
func lex(text string) []token {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if strings.HasSuffix(text, "\n") {
		lines = lines[:len(lines)-1]
	}

	toks := make([]token, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == RationaleMarker:
			toks = append(toks, token{typ: tokRationale, line: line})
		default:
			if k, ok := Lookup(trimmed); ok {
				toks = append(toks, token{typ: tokAction, kind: k, line: line})
				continue
			}
			toks = append(toks, token{typ: tokText, line: line})
		}
	}
	return toks
}

type section int

const (
	inPreamble section = iota
	inRationale
	inAction
)

// Parse turns oracle text into a Directive. It never fails: malformed input
// yields fewer actions.
func Parse(text string) Directive {
	d := Directive{Raw: text}

	var (
		cur           = inPreamble
		seenRationale bool
		rationale     strings.Builder
		preamble      strings.Builder
		body          strings.Builder
		open          *Action
	)

	closeAction := func() {
		if open == nil {
			return
		}
		open.Body = strings.TrimSuffix(body.String(), "\n")
		d.Actions = append(d.Actions, *open)
		open = nil
		body.Reset()
	}

	for _, tok := range lex(text) {
		switch {
		case tok.typ == tokRationale && !seenRationale:
			closeAction()
			seenRationale = true
			cur = inRationale
		case tok.typ == tokAction:
			closeAction()
			open = &Action{Kind: tok.kind}
			cur = inAction
		default:
			// Plain text, or a repeated rationale marker kept as text.
			switch cur {
			case inPreamble:
				preamble.WriteString(tok.line)
				preamble.WriteByte('\n')
			case inRationale:
				rationale.WriteString(tok.line)
				rationale.WriteByte('\n')
			case inAction:
				body.WriteString(tok.line)
				body.WriteByte('\n')
			}
		}
	}
	closeAction()

	d.Rationale = rationale.String()
	d.Preamble = preamble.String()
	return d
}
