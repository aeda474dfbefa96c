package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neboloop/ouro/internal/memory"
)

var errNoMemory = errors.New("memory store not configured")

func (h *handlers) saveMemory(ctx context.Context, _ *ExecContext, body string) (string, error) {
	if h.Memory == nil {
		return "", errNoMemory
	}
	key, value := splitHead(strings.TrimSpace(body))
	if key == "" {
		return "", errors.New("missing key")
	}
	if err := h.Memory.Save(ctx, key, value); err != nil {
		return "", err
	}
	return "Saved " + key, nil
}

// readMemory returns one entry, or lists everything for an empty key or ALL.
func (h *handlers) readMemory(ctx context.Context, _ *ExecContext, body string) (string, error) {
	if h.Memory == nil {
		return "", errNoMemory
	}
	key := strings.TrimSpace(body)
	if key == "" || strings.EqualFold(key, "ALL") {
		entries, err := h.Memory.List(ctx, "", 0)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "No memories yet.", nil
		}
		var b strings.Builder
		b.WriteString("=== All Memories ===\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "[%s]: %s\n", e.Key, truncate(oneLine(e.Value), 100))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	e, err := h.Memory.Get(ctx, key)
	if errors.Is(err, memory.ErrNotFound) {
		return "No memory: " + key, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s]: %s", e.Key, e.Value), nil
}
