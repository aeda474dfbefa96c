// Package actions maps each directive kind to the handler that performs it.
package actions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/neboloop/ouro/internal/crashlog"
	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/metrics"
	"github.com/neboloop/ouro/internal/state"
)

// ErrUnknownKind is returned for a kind with no registered handler.
var ErrUnknownKind = errors.New("unknown action kind")

// Result length limits. Kinds that return file or network content get the
// larger budget.
const (
	LongLimit  = 5000
	ShortLimit = 500
)

var longKinds = map[directive.Kind]bool{
	directive.ReadFiles:     true,
	directive.SearchFiles:   true,
	directive.HTTPRequest:   true,
	directive.RunCommand:    true,
	directive.ListDirectory: true,
	directive.TreeDirectory: true,
}

// ExecContext is scoped to one top-level trigger and the chain it starts.
// Handlers read the reply destination from it and record state changes in
// it; the engine copies Mode and SleepUntil back into the run-state.
type ExecContext struct {
	Depth      int
	ReplyTo    inbox.Address
	Mode       state.Mode
	SleepUntil *time.Time
	SleepCycle time.Duration

	// Restart is set once RESTART_SELF has passed validation. The engine
	// stops the batch and replaces the process.
	Restart bool
}

// Asleep reports whether the context's sleep deadline is ahead of now.
func (c *ExecContext) Asleep(now time.Time) bool {
	return c.SleepUntil != nil && now.Before(*c.SleepUntil)
}

// Handler performs one action. An empty return means the action produced no
// feedback for the oracle.
type Handler func(ctx context.Context, ec *ExecContext, body string) (string, error)

// Table is the closed dispatch table.
type Table struct {
	handlers map[directive.Kind]Handler
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{handlers: make(map[directive.Kind]Handler)}
}

// Register installs h for kind, replacing any previous handler. Kinds outside
// the vocabulary are rejected.
func (t *Table) Register(kind directive.Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	t.handlers[kind] = h
	return nil
}

// Lookup returns the handler for kind.
func (t *Table) Lookup(kind directive.Kind) (Handler, error) {
	h, ok := t.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return h, nil
}

// Kinds lists the registered kinds in vocabulary order.
func (t *Table) Kinds() []directive.Kind {
	var out []directive.Kind
	for _, k := range directive.Kinds() {
		if _, ok := t.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Outcome is what one dispatch contributes to the next oracle turn.
type Outcome struct {
	Kind   directive.Kind
	Text   string // labeled and truncated; "" when nothing is fed back
	Failed bool
}

// Dispatch runs one action. Handler errors and panics never escape: both
// become a labeled failure string.
func (t *Table) Dispatch(ctx context.Context, ec *ExecContext, a directive.Action) (out Outcome) {
	out.Kind = a.Kind
	log := logging.For("actions")

	h, err := t.Lookup(a.Kind)
	if err != nil {
		metrics.Actions.WithLabelValues(string(a.Kind), "unknown").Inc()
		return Outcome{Kind: a.Kind, Text: Label(a.Kind, err.Error()), Failed: true}
	}

	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("actions", r, map[string]string{"kind": string(a.Kind)})
			metrics.Actions.WithLabelValues(string(a.Kind), "panic").Inc()
			out = Outcome{Kind: a.Kind, Text: Label(a.Kind, failure(a.Kind, "panic", fmt.Sprint(r))), Failed: true}
		}
	}()

	start := time.Now()
	text, err := h(ctx, ec, a.Body)
	if err != nil {
		log.Warn("action failed", "kind", a.Kind, "error", err)
		metrics.Actions.WithLabelValues(string(a.Kind), "error").Inc()
		return Outcome{Kind: a.Kind, Text: Label(a.Kind, failure(a.Kind, errorType(err), err.Error())), Failed: true}
	}
	log.Debug("action done", "kind", a.Kind, "took", time.Since(start), "bytes", len(text))
	metrics.Actions.WithLabelValues(string(a.Kind), "ok").Inc()
	if text == "" {
		return out
	}
	out.Text = Label(a.Kind, text)
	return out
}

// Label formats a result as "[KIND]: text", truncated to the kind's limit.
func Label(kind directive.Kind, text string) string {
	limit := ShortLimit
	if longKinds[kind] {
		limit = LongLimit
	}
	return fmt.Sprintf("[%s]: %s", kind, truncate(text, limit))
}

func failure(kind directive.Kind, typ, msg string) string {
	return fmt.Sprintf("ACTION FAILED: %s raised %s: %s", kind, typ, msg)
}

// errorType names the concrete error type without its package: PathError,
// ValidationError. Unexported types from errors.New and fmt.Errorf read as
// "Error".
func errorType(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return "Error"
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
