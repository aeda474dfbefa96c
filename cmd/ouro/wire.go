package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neboloop/ouro/internal/actions"
	"github.com/neboloop/ouro/internal/channels"
	"github.com/neboloop/ouro/internal/config"
	"github.com/neboloop/ouro/internal/crashlog"
	"github.com/neboloop/ouro/internal/db"
	"github.com/neboloop/ouro/internal/defaults"
	"github.com/neboloop/ouro/internal/engine"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/interactive"
	"github.com/neboloop/ouro/internal/memory"
	"github.com/neboloop/ouro/internal/oracle"
	"github.com/neboloop/ouro/internal/state"
)

// agent is the wired process: one database, one queue, one engine.
type agent struct {
	cfg      *config.Config
	db       *sql.DB
	queue    *inbox.Queue
	router   *channels.Router
	store    *memory.Store
	gov      *governor.Governor
	sessions *interactive.Manager
	engine   *engine.Engine
}

func databasePath(c *config.Config) string {
	return filepath.Join(c.DataDir, "data", "ouro.db")
}

// openGovernor builds the governor for the configured guarded file. A
// relative guarded path is taken from the working directory, everything
// else from the data directory.
func openGovernor(c *config.Config) (*governor.Governor, error) {
	guarded := c.Governor.GuardedFile
	if guarded != "" && !filepath.IsAbs(guarded) {
		abs, err := filepath.Abs(guarded)
		if err != nil {
			return nil, err
		}
		guarded = abs
	}
	return governor.New(governor.Options{
		GuardedFile:    guarded,
		BackupDir:      c.Path(c.Governor.BackupDir),
		Keep:           c.Governor.Keep,
		Validators:     governor.DefaultValidators(guarded, c.Governor.RequiredSymbols, c.Governor.ValidateCommand),
		RebuildCommand: c.Governor.RebuildCommand,
	})
}

// systemPrompt reads the prompt file from the data directory, falling back
// to the embedded default.
func systemPrompt(c *config.Config) (string, error) {
	if p := c.Path(c.Engine.SystemPromptFile); p != "" {
		data, err := os.ReadFile(p)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	data, err := defaults.GetDefault("SYSTEM.md")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// wire opens storage and builds the engine. Adapters added to the router
// later receive replies for their channel; the console, when given, is the
// fallback for replies with no address.
func wire(c *config.Config, console *channels.Console) (*agent, error) {
	conn, err := db.Open(databasePath(c))
	if err != nil {
		return nil, err
	}
	crashlog.Init(conn)

	a := &agent{cfg: c, db: conn, queue: inbox.NewQueue()}
	if err := a.build(console); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *agent) build(console *channels.Console) error {
	c := a.cfg

	orc, err := oracle.New(c.Oracle, a.db)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	a.store = memory.NewStore(a.db)
	archive := memory.NewArchive(c.Path(c.Memory.ArchiveFile))
	mem := memory.NewManager(memory.Options{
		Threshold:        c.Memory.Threshold,
		Batch:            c.Memory.Batch,
		HardCap:          c.Memory.HardCap,
		ConversationFile: c.Path(c.Memory.ConversationFile),
		Archive:          archive,
		Store:            a.store,
		Summarizer: &memory.OracleSummarizer{
			Oracle:    orc,
			Model:     c.SummaryModel(),
			MaxTokens: c.Oracle.MaxTokens,
		},
		Extract: c.Memory.Extract,
	})

	if a.gov, err = openGovernor(c); err != nil {
		return fmt.Errorf("governor: %w", err)
	}

	workdir := c.Engine.Workdir
	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	a.sessions = interactive.NewManager(interactive.Options{Dir: workdir})

	a.router = channels.NewRouter(channels.ConsoleName)
	if console != nil {
		a.router.Add(console)
	}
	replies := engine.TrackReplies(a.router)

	logFile := c.Path(c.Logging.File)
	table := actions.New(actions.Deps{
		Workdir:   workdir,
		Replier:   replies,
		Memory:    a.store,
		Archive:   archive,
		Governor:  a.gov,
		Sessions:  a.sessions,
		LogFile:   logFile,
		DreamFile: c.Path(c.Engine.DreamFile),
	})

	prompt, err := systemPrompt(c)
	if err != nil {
		return fmt.Errorf("system prompt: %w", err)
	}

	a.engine, err = engine.New(engine.Options{
		Oracle:        orc,
		Model:         c.Oracle.Model,
		MaxTokens:     c.Oracle.MaxTokens,
		Actions:       table,
		Queue:         a.queue,
		Replies:       replies,
		Memory:        mem,
		Store:         a.store,
		State:         state.NewStore(c.Path(c.Engine.StateFile)),
		Governor:      a.gov,
		UsageDB:       a.db,
		SystemPrompt:  prompt,
		MaxDepth:      c.Engine.MaxDepth,
		IdleWait:      c.Engine.IdleWait,
		HeartbeatFile: c.Path(c.Engine.HeartbeatFile),
		LogFile:       logFile,
		Autonomous:    c.Mode == "autonomous",
		Version:       Version,
	})
	return err
}

func (a *agent) close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	crashlog.Init(nil)
	if a.db != nil {
		a.db.Close()
	}
}
