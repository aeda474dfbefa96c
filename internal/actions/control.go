package actions

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/state"
)

// nextAction is THINK's result; any non-empty result continues the chain.
const nextAction = "NEXT_ACTION"

// talk delivers the body to whoever triggered the batch. It feeds nothing
// back.
func (h *handlers) talk(ctx context.Context, ec *ExecContext, body string) (string, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return "", nil
	}
	if h.Replier == nil {
		return "", errors.New("no reply channel configured")
	}
	return "", h.Replier.Reply(ctx, ec.ReplyTo, text)
}

func (h *handlers) think(_ context.Context, _ *ExecContext, body string) (string, error) {
	logging.For("actions").Debug("think", "text", truncate(strings.TrimSpace(body), 200))
	return nextAction, nil
}

// sleep accepts integer seconds or a duration such as "90s" or "2h". Anything
// else uses the sleep cycle.
func (h *handlers) sleep(_ context.Context, ec *ExecContext, body string) (string, error) {
	d := parseSleep(body)
	if d <= 0 {
		d = ec.SleepCycle
	}
	if d <= 0 {
		d = state.DefaultSleepCycleMinutes * time.Minute
	}
	until := h.now().Add(d)
	ec.SleepUntil = &until
	ec.Mode = state.Sleeping
	logging.For("actions").Info("sleeping", "for", d, "until", until.Format(time.RFC3339))
	return "", nil
}

// maxSleep caps a single SLEEP.
const maxSleep = 30 * 24 * time.Hour

func parseSleep(body string) time.Duration {
	s := strings.TrimSpace(body)
	if s == "" {
		return 0
	}
	// ParseInt saturates out-of-range integers.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if n > int64(maxSleep/time.Second) {
			return maxSleep
		}
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return min(d, maxSleep)
	}
	return 0
}

// setMode falls back to listening for an unknown mode.
func (h *handlers) setMode(_ context.Context, ec *ExecContext, body string) (string, error) {
	mode, ok := state.ParseMode(body)
	if !ok {
		mode = state.Listening
	}
	ec.Mode = mode
	logging.For("actions").Info("mode set", "mode", mode)
	return "", nil
}
