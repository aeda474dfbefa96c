package actions

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/interactive"
	"github.com/neboloop/ouro/internal/memory"
)

// Replier delivers text to the address that triggered the current batch.
type Replier interface {
	Reply(ctx context.Context, to inbox.Address, text string) error
}

// Deps is everything the built-in handlers touch. Nil members disable the
// handlers that need them; those report an error when invoked.
type Deps struct {
	Workdir  string
	Replier  Replier
	Memory   *memory.Store
	Archive  *memory.Archive
	Governor *governor.Governor
	Sessions *interactive.Manager

	HTTPClient *http.Client
	SearchURL  string // DuckDuckGo HTML endpoint

	LogFile   string
	DreamFile string

	// SelfCommand starts an isolated copy of the program in pipe mode.
	// Defaults to the running executable with the "pipe" subcommand.
	SelfCommand []string

	ShellTimeout time.Duration
	SelfTimeout  time.Duration
}

const (
	DefaultShellTimeout  = 60 * time.Second
	claudeShellTimeout   = 120 * time.Second
	DefaultSelfTimeout   = 60 * time.Second
	defaultHTTPTimeout   = 10 * time.Second
	defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
)

type handlers struct {
	Deps
	now func() time.Time
}

// New returns a table with every kind registered against d.
func New(d Deps) *Table {
	if d.Workdir == "" {
		d.Workdir, _ = os.Getwd()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if d.SearchURL == "" {
		d.SearchURL = defaultDuckDuckGoURL
	}
	if d.ShellTimeout <= 0 {
		d.ShellTimeout = DefaultShellTimeout
	}
	if d.SelfTimeout <= 0 {
		d.SelfTimeout = DefaultSelfTimeout
	}
	h := &handlers{Deps: d, now: time.Now}

	t := NewTable()
	for kind, fn := range map[directive.Kind]Handler{
		directive.Talk:             h.talk,
		directive.RunCommand:       h.runCommand,
		directive.Think:            h.think,
		directive.ReadFiles:        h.readFiles,
		directive.WriteFile:        h.writeFile,
		directive.EditFile:         h.editFile,
		directive.DeleteFile:       h.deleteFile,
		directive.AppendFile:       h.appendFile,
		directive.ListDirectory:    h.listDirectory,
		directive.SaveMemory:       h.saveMemory,
		directive.ReadMemory:       h.readMemory,
		directive.SearchFiles:      h.searchFiles,
		directive.SearchSelf:       h.searchSelf,
		directive.CreateDirectory:  h.createDirectory,
		directive.TreeDirectory:    h.treeDirectory,
		directive.HTTPRequest:      h.httpRequest,
		directive.WebSearch:        h.webSearch,
		directive.TestSelf:         h.testSelf,
		directive.RunSelf:          h.runSelf,
		directive.Sleep:            h.sleep,
		directive.SetMode:          h.setMode,
		directive.StartInteractive: h.startInteractive,
		directive.SendInput:        h.sendInput,
		directive.EndInteractive:   h.endInteractive,
		directive.Restart:          h.restart,
		directive.ReadLogs:         h.readLogs,
		directive.Dream:            h.dream,
	} {
		// Every key is in the vocabulary.
		_ = t.Register(kind, fn)
	}
	return t
}

// resolve makes p absolute against the working directory, expanding a
// leading "~/".
func (h *handlers) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.Workdir, p)
	}
	return filepath.Clean(p)
}

// splitHead returns the first line of body and everything after it.
func splitHead(body string) (string, string) {
	head, rest, _ := strings.Cut(body, "\n")
	return strings.TrimSpace(head), rest
}
