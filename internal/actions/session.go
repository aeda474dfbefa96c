package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neboloop/ouro/internal/interactive"
)

var errNoSessions = errors.New("interactive sessions not available")

func (h *handlers) startInteractive(ctx context.Context, _ *ExecContext, body string) (string, error) {
	if h.Sessions == nil {
		return "", errNoSessions
	}
	command := strings.TrimSpace(body)
	if err := CheckCommand(command); err != nil {
		return "", err
	}
	res, err := h.Sessions.Start(ctx, command)
	if errors.Is(err, interactive.ErrSessionActive) {
		return "", fmt.Errorf("%w (%s); use END_INTERACTIVE first", err, h.Sessions.Command())
	}
	if err != nil {
		return "", err
	}
	if res.Exited {
		return sessionEnded(res), nil
	}
	return fmt.Sprintf("SESSION STARTED (pid=%d). Initial output:\n%s", res.PID, res.Output), nil
}

func (h *handlers) sendInput(ctx context.Context, _ *ExecContext, body string) (string, error) {
	if h.Sessions == nil {
		return "", errNoSessions
	}
	res, err := h.Sessions.Send(ctx, strings.TrimRight(body, "\n"))
	if errors.Is(err, interactive.ErrNoSession) {
		return "", fmt.Errorf("%w; use START_INTERACTIVE first", err)
	}
	if err != nil {
		return "", err
	}
	if res.Exited {
		return sessionEnded(res), nil
	}
	return "Output:\n" + res.Output, nil
}

func (h *handlers) endInteractive(_ context.Context, _ *ExecContext, body string) (string, error) {
	if h.Sessions == nil {
		return "", errNoSessions
	}
	res, err := h.Sessions.End(body)
	if err != nil {
		return "", err
	}
	return sessionEnded(res), nil
}

func sessionEnded(res interactive.Result) string {
	out := fmt.Sprintf("SESSION ENDED (exit=%d).", res.ExitCode)
	if strings.TrimSpace(res.Output) != "" {
		out += " Output:\n" + res.Output
	}
	return out
}
