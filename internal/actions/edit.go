package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	oldMarker   = "<<<OLD"
	newMarker   = "<<<NEW"
	blockCloser = ">>>"
)

// editFile supports two body forms after the path line:
//
//	<<<OLD            start-end
//	old text          replacement lines
//	>>>
//	<<<NEW
//	new text
//	>>>
//
// The OLD text must occur exactly once. A single line number replaces one
// line.
func (h *handlers) editFile(ctx context.Context, _ *ExecContext, body string) (string, error) {
	p, rest := splitHead(body)
	if p == "" {
		return "", errors.New("missing path")
	}
	path := h.resolve(p)
	guarded := h.Governor != nil && h.Governor.Guards(path)
	if !guarded {
		if err := CheckPath("edit", path); err != nil {
			return "", err
		}
	}

	orig, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var updated, summary string
	if strings.Contains(rest, oldMarker) {
		updated, summary, err = searchReplace(string(orig), rest, p)
	} else {
		updated, summary, err = replaceLines(string(orig), rest)
	}
	if err != nil {
		return "", err
	}

	if guarded {
		res, err := h.guardedWrite(ctx, p, []byte(updated))
		if err != nil || strings.HasPrefix(res, "WRITE FAILED") {
			return strings.Replace(res, "WRITE FAILED", "EDIT FAILED", 1), err
		}
		return summary + " (validated)", nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return "", err
	}
	return summary, nil
}

func searchReplace(content, rest, name string) (string, string, error) {
	oldAt := strings.Index(rest, oldMarker)
	newAt := strings.Index(rest, newMarker)
	if oldAt < 0 || newAt < 0 {
		return "", "", errors.New("missing <<<OLD or <<<NEW marker")
	}
	oldText, ok := block(rest, oldAt, false)
	if !ok {
		return "", "", errors.New("missing >>> after OLD block")
	}
	newText, ok := block(rest, newAt, true)
	if !ok {
		return "", "", errors.New("missing >>> after NEW block")
	}
	if oldText == "" {
		return "", "", errors.New("OLD block is empty")
	}

	switch n := strings.Count(content, oldText); n {
	case 0:
		return "", "", fmt.Errorf("no match found in %s", name)
	case 1:
	default:
		return "", "", fmt.Errorf("found %d matches in %s; provide more context for a unique match", n, name)
	}
	updated := strings.Replace(content, oldText, newText, 1)
	summary := fmt.Sprintf("Replaced %d lines with %d lines", strings.Count(oldText, "\n")+1, strings.Count(newText, "\n")+1)
	return updated, summary, nil
}

// block returns the text between the line holding the marker at idx and
// the next line that starts with ">>>". With lenient set a closer glued to
// the end of the last line is accepted too.
func block(rest string, idx int, lenient bool) (string, bool) {
	start := strings.IndexByte(rest[idx:], '\n')
	if start < 0 {
		return "", false
	}
	start += idx + 1
	tail := rest[start:]
	if strings.HasPrefix(tail, blockCloser) {
		return "", true
	}
	if end := strings.Index(tail, "\n"+blockCloser); end >= 0 {
		return tail[:end], true
	}
	if lenient {
		if end := strings.Index(tail, blockCloser); end >= 0 {
			return tail[:end], true
		}
	}
	return "", false
}

// replaceLines replaces the 1-based inclusive range named on the first line
// of rest with the remaining lines.
func replaceLines(content, rest string) (string, string, error) {
	spec, repl := splitHead(rest)
	if spec == "" {
		return "", "", errors.New("missing line range or <<<OLD block")
	}
	start, end, err := parseRange(spec)
	if err != nil {
		return "", "", err
	}

	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if start > len(lines)+1 {
		return "", "", fmt.Errorf("line %d is past the end of the file (%d lines)", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}

	newLines := strings.SplitAfter(repl, "\n")
	if last := newLines[len(newLines)-1]; last != "" {
		newLines[len(newLines)-1] = last + "\n"
	} else {
		newLines = newLines[:len(newLines)-1]
	}
	// Keep a missing final newline missing when the range reaches the end.
	if end == len(lines) && len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n") && len(newLines) > 0 {
		newLines[len(newLines)-1] = strings.TrimSuffix(newLines[len(newLines)-1], "\n")
	}

	var b strings.Builder
	for _, l := range lines[:start-1] {
		b.WriteString(l)
	}
	for _, l := range newLines {
		b.WriteString(l)
	}
	for _, l := range lines[end:] {
		b.WriteString(l)
	}
	return b.String(), fmt.Sprintf("Replaced lines %d-%d", start, end), nil
}

func parseRange(spec string) (int, int, error) {
	a, b, isRange := strings.Cut(spec, "-")
	start, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
			return 0, 0, fmt.Errorf("invalid line range %q", spec)
		}
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	return start, end, nil
}
