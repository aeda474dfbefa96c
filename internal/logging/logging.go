package logging

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

var (
	disabled atomic.Bool
	mu       sync.Mutex
	logFile  *os.File
)

// Options configures Setup.
type Options struct {
	Level   string // debug, info, warn, error
	File    string // JSON log file; empty disables the file sink
	Journal bool   // also send records to the systemd journal
	Console io.Writer
}

// Setup installs the default slog logger: a text handler on the console fanned
// out with a JSON file sink and, optionally, the systemd journal.
func Setup(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		&gatedHandler{Handler: slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})},
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		mu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		mu.Unlock()
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	if opts.Journal {
		jh, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			slog.Warn("systemd journal unavailable", "error", err)
		} else {
			handlers = append(handlers, jh)
		}
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(logger)
	return logger, nil
}

// Close releases the file sink.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// For returns a logger tagged with a component name.
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Disable turns off console logging. File and journal sinks keep recording.
func Disable() {
	disabled.Store(true)
}

// Enable turns console logging back on
func Enable() {
	disabled.Store(false)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Tail returns the last n lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	return ring, sc.Err()
}

// journald field names are upper-case ASCII letters, digits and underscores.
func toJournalKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(s))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
