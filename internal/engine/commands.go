package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/oracle"
	"github.com/neboloop/ouro/internal/state"
)

var errQuit = errors.New("quit")

const statusLogLines = 20

const helpText = "/quit /mode [m] /status /task [t] /tick [s] /sleep [min] /wake /sleepcycle [min] " +
	"/restart /clear /stats /backup /restore [name] /backups"

// chatLabel matches the "[Telegram from @x]: " prefix adapters put on text.
var chatLabel = regexp.MustCompile(`^\[[^\]]*\]: `)

// commandSources may issue slash commands. Reminders and mentions may quote
// a slash but never control the engine.
var commandSources = map[string]bool{
	"console":  true,
	"telegram": true,
	"webhook":  true,
}

// command extracts a slash command from env.
func command(env inbox.Envelope) (string, bool) {
	if !commandSources[env.Source] {
		return "", false
	}
	text := strings.TrimSpace(chatLabel.ReplaceAllString(strings.TrimSpace(env.Text), ""))
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", false
	}
	return text, true
}

// slash runs one command and answers the address it came from. It returns
// errQuit or ErrRestart when the loop should stop.
func (e *Engine) slash(ctx context.Context, env inbox.Envelope, text string) error {
	name, arg, _ := strings.Cut(text, " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)
	log := logging.For("engine")
	log.Info("command", "name", name, "source", env.Source)

	var reply string
	var ret error
	switch name {
	case "/quit", "/exit":
		reply, ret = "Goodbye.", errQuit
	case "/help":
		reply = helpText
	case "/mode":
		reply = e.cmdMode(arg)
	case "/status":
		reply = e.status()
	case "/task":
		if arg != "" {
			e.st.CurrentTask = arg
			e.saveState()
		}
		reply = "Task: " + orNone(e.st.CurrentTask)
	case "/tick":
		reply = e.cmdTick(arg)
	case "/sleep":
		reply = e.cmdSleep(arg)
	case "/wake":
		e.st.Wake()
		e.saveState()
		reply = "Awake!"
	case "/sleepcycle":
		reply = e.cmdSleepCycle(arg)
	case "/clear":
		if e.opts.Memory != nil {
			e.history = e.opts.Memory.Reset(e.history)
		} else if len(e.history) > 0 {
			e.history = e.history[:1]
		}
		e.publish()
		reply = "Conversation cleared."
	case "/restart":
		reply, ret = e.cmdRestart(ctx)
	case "/stats":
		reply = e.stats(ctx)
	case "/backup":
		reply = e.cmdBackup()
	case "/restore":
		reply = e.cmdRestore(arg)
	case "/backups":
		reply = e.cmdBackups()
	default:
		reply = fmt.Sprintf("Unknown command: %s (try /help)", name)
	}

	if err := e.opts.Replies.Reply(ctx, env.ReplyTo, reply); err != nil {
		log.Warn("command reply failed", "to", env.ReplyTo, "error", err)
	}
	return ret
}

func (e *Engine) cmdMode(arg string) string {
	if arg == "" {
		return fmt.Sprintf("Mode: %s | Task: %s", e.st.Mode, orNone(e.st.CurrentTask))
	}
	mode, ok := state.ParseMode(arg)
	if !ok {
		return fmt.Sprintf("Unknown mode: %s (listening, focused, sleeping, autonomous)", arg)
	}
	e.st.Mode = mode
	if mode != state.Sleeping {
		e.st.SleepUntil = nil
	}
	e.saveState()
	return "Mode: " + string(mode)
}

func (e *Engine) cmdTick(arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return fmt.Sprintf("Usage: /tick <seconds> (current: %ds)", int(e.st.Tick()/time.Second))
	}
	e.st.TickInterval = n
	e.saveState()
	return fmt.Sprintf("Tick interval: %ds", n)
}

func (e *Engine) cmdSleep(arg string) string {
	minutes := e.st.SleepCycleMinutes
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return "Usage: /sleep [minutes]"
		}
		minutes = n
	}
	if minutes <= 0 {
		minutes = state.DefaultSleepCycleMinutes
	}
	e.st.SleepFor(time.Duration(minutes)*time.Minute, e.now())
	e.saveState()
	return fmt.Sprintf("Sleeping %d minutes (use /sleepcycle to change)", minutes)
}

func (e *Engine) cmdSleepCycle(arg string) string {
	if arg == "" {
		return fmt.Sprintf("Sleep cycle: %d minutes", int(e.st.SleepCycle()/time.Minute))
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return "Usage: /sleepcycle <minutes> (minimum 1)"
	}
	e.st.SleepCycleMinutes = n
	e.saveState()
	return fmt.Sprintf("Sleep cycle: %d minutes", n)
}

func (e *Engine) cmdRestart(ctx context.Context) (string, error) {
	if e.opts.Governor != nil {
		if err := e.opts.Governor.PrepareRestart(ctx); err != nil {
			return "Restart refused: " + err.Error(), nil
		}
	}
	return "Restarting...", ErrRestart
}

func (e *Engine) cmdBackup() string {
	if e.opts.Governor == nil {
		return governor.ErrNotGuarded.Error()
	}
	b, err := e.opts.Governor.Backup(governor.ReasonManual)
	if err != nil {
		return "Backup failed: " + err.Error()
	}
	return "Backup created: " + b.Path
}

func (e *Engine) cmdRestore(name string) string {
	if e.opts.Governor == nil {
		return governor.ErrNotGuarded.Error()
	}
	b, err := e.opts.Governor.Restore(name)
	if err != nil {
		return "Restore failed: " + err.Error()
	}
	if name == "" {
		return "Restored from last-known-good. Restart to apply."
	}
	return fmt.Sprintf("Restored from %s. Restart to apply.", b.Name)
}

func (e *Engine) cmdBackups() string {
	if e.opts.Governor == nil {
		return governor.ErrNotGuarded.Error()
	}
	list, err := e.opts.Governor.List()
	if err != nil {
		return "Listing backups failed: " + err.Error()
	}
	if len(list) == 0 {
		return "No backups yet."
	}
	var b strings.Builder
	b.WriteString("Backups:")
	for _, bk := range list[:min(5, len(list))] {
		mark := ""
		if bk.KnownGood {
			mark = " (known-good)"
		}
		fmt.Fprintf(&b, "\n  %s  %s  %d bytes%s", bk.Name, bk.Time.Format("2006-01-02 15:04:05"), bk.Size, mark)
	}
	return b.String()
}

func (e *Engine) status() string {
	s := fmt.Sprintf("Mode: %s | Tick: %ds | Sleep cycle: %dm | Task: %s",
		e.st.Mode, int(e.st.Tick()/time.Second), int(e.st.SleepCycle()/time.Minute), orNone(e.st.CurrentTask))
	if e.st.Asleep(e.now()) {
		s += " | Sleeping until " + e.st.SleepUntil.Local().Format("15:04:05")
	}
	if n := e.opts.Queue.Len(); n > 0 {
		s += fmt.Sprintf(" | Queued: %d", n)
	}
	return s
}

// Status renders the run-state as markdown for the status page. It is safe
// to call from other goroutines.
func (e *Engine) Status(ctx context.Context) string {
	e.viewMu.Lock()
	v := e.view
	e.viewMu.Unlock()

	var b strings.Builder
	b.WriteString("# ouro\n\n")
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Mode | **%s** |\n", v.st.Mode)
	fmt.Fprintf(&b, "| Task | %s |\n", orNone(v.st.CurrentTask))
	fmt.Fprintf(&b, "| Tick | %s |\n", v.st.Tick())
	if v.st.Asleep(time.Now()) {
		fmt.Fprintf(&b, "| Sleeping until | %s |\n", v.st.SleepUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "| Messages | %d |\n", v.messages)
	fmt.Fprintf(&b, "| Queued | %d |\n", e.opts.Queue.Len())
	b.WriteString("\n" + e.stats(ctx) + "\n")

	if e.opts.LogFile != "" {
		if lines, err := logging.Tail(e.opts.LogFile, statusLogLines); err == nil && len(lines) > 0 {
			b.WriteString("\n## Recent log\n\n```json\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}

func (e *Engine) stats(ctx context.Context) string {
	parts := []string{"ouro " + orNone(e.opts.Version)}
	if e.opts.Store != nil {
		if n, err := e.opts.Store.Count(ctx); err == nil {
			parts = append(parts, fmt.Sprintf("%d memories", n))
		}
	}
	now := e.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if t, err := oracle.UsageSince(ctx, e.opts.UsageDB, midnight); err == nil && t.Calls > 0 {
		parts = append(parts, fmt.Sprintf("today: %d calls, %d in / %d out tokens, $%.4f", t.Calls, t.TokensIn, t.TokensOut, t.Cost))
	}
	return strings.Join(parts, " | ")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
