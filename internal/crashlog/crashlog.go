package crashlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Logger persists errors and panics to the error_logs table.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	db *sql.DB
	mu sync.Mutex
}

// Entry is one persisted row.
type Entry struct {
	Level     string
	Module    string
	Message   string
	CreatedAt time.Time
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init sets up the global crash logger. Call once at startup.
func Init(db *sql.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if db == nil {
		global = nil
		return
	}
	global = &Logger{db: db}
}

// LogPanic records a recovered panic with a stack trace.
// Safe to call even if Init() was never called.
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	stackStr := string(stack[:n])

	slog.Error("panic recovered", "module", module, "panic", msg, "stack", stackStr)

	if l := current(); l != nil {
		l.insert("panic", module, msg, stackStr, ctx)
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	slog.Error(err.Error(), "module", module)
	if l := current(); l != nil {
		l.insert("error", module, err.Error(), "", ctx)
	}
}

// LogWarn records a warning.
func LogWarn(module string, msg string, ctx map[string]string) {
	slog.Warn(msg, "module", module)
	if l := current(); l != nil {
		l.insert("warn", module, msg, "", ctx)
	}
}

// Recent returns the newest n entries.
func Recent(ctx context.Context, n int) ([]Entry, error) {
	l := current()
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT level, module, message, created_at FROM error_logs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created any
		if err := rows.Scan(&e.Level, &e.Module, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = asTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// asTime converts a DATETIME column value, which the driver may hand back as
// time.Time or as SQLite's text form.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

func (l *Logger) insert(level, module, message, stacktrace string, ctx map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ctxJSON sql.NullString
	if len(ctx) > 0 {
		if b, err := json.Marshal(ctx); err == nil {
			ctxJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	var stackNull sql.NullString
	if stacktrace != "" {
		stackNull = sql.NullString{String: stacktrace, Valid: true}
	}

	_, _ = l.db.Exec(
		`INSERT INTO error_logs (level, module, message, stacktrace, context) VALUES (?, ?, ?, ?, ?)`,
		level, module, message, stackNull, ctxJSON)
}
