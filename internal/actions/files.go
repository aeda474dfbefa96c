package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/neboloop/ouro/internal/fsutil"
	"github.com/neboloop/ouro/internal/governor"
)

const treeLineLimit = 100

// skipDirs are never descended into by tree and search walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"venv":         true,
	"__pycache__":  true,
	"vendor":       true,
}

func (h *handlers) readFiles(_ context.Context, _ *ExecContext, body string) (string, error) {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		p := strings.TrimSpace(line)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(h.resolve(p))
		if err != nil {
			fmt.Fprintf(&b, "%s\nError: %v\n", p, err)
			continue
		}
		fmt.Fprintf(&b, "%s\n%s\n", p, data)
	}
	if b.Len() == 0 {
		return "", errors.New("no paths given")
	}
	return b.String(), nil
}

func (h *handlers) writeFile(ctx context.Context, _ *ExecContext, body string) (string, error) {
	p, content := splitHead(body)
	if p == "" {
		return "", errors.New("missing path")
	}
	path := h.resolve(p)
	if h.Governor != nil && h.Governor.Guards(path) {
		return h.guardedWrite(ctx, p, []byte(content))
	}
	if err := CheckPath("write", path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := fsutil.WriteFileAtomic(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), p), nil
}

// guardedWrite routes a write of the program's own source through the
// governor. A rejected write is reported as a result, not an error: the
// file is intact and the oracle needs the validator output.
func (h *handlers) guardedWrite(ctx context.Context, p string, content []byte) (string, error) {
	_, err := h.Governor.GuardedWrite(ctx, content)
	var ve *governor.ValidationError
	if errors.As(err, &ve) {
		if ve.RolledBack {
			return fmt.Sprintf("WRITE FAILED: %s. File rolled back to %s.", strings.TrimSpace(ve.Output), ve.RestoredFrom), nil
		}
		return fmt.Sprintf("WRITE FAILED: %s. Rollback failed; check %s.", strings.TrimSpace(ve.Output), p), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s (validated)", len(content), p), nil
}

func (h *handlers) appendFile(_ context.Context, _ *ExecContext, body string) (string, error) {
	p, content := splitHead(body)
	if p == "" {
		return "", errors.New("missing path")
	}
	path := h.resolve(p)
	if h.Governor != nil && h.Governor.Guards(path) {
		return "", errors.New("cannot append to own source; use EDIT_FILE or WRITE_FILE")
	}
	if err := CheckPath("append to", path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Appended %d bytes to %s", len(content), p), nil
}

// deleteFile ignores a missing file.
func (h *handlers) deleteFile(_ context.Context, _ *ExecContext, body string) (string, error) {
	p := strings.TrimSpace(body)
	if p == "" {
		return "", errors.New("missing path")
	}
	path := h.resolve(p)
	if h.Governor != nil && h.Governor.Guards(path) {
		return "", errors.New("cannot delete own source")
	}
	if err := CheckPath("delete", path); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	return "Deleted " + p, nil
}

func (h *handlers) createDirectory(_ context.Context, _ *ExecContext, body string) (string, error) {
	p := strings.TrimSpace(body)
	if p == "" {
		return "", errors.New("missing path")
	}
	path := h.resolve(p)
	if err := CheckPath("create", path); err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return "Created " + p, nil
}

func (h *handlers) listDirectory(_ context.Context, _ *ExecContext, body string) (string, error) {
	p := strings.TrimSpace(body)
	if p == "" {
		p = "."
	}
	entries, err := os.ReadDir(h.resolve(p))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "Empty", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, fmt.Sprintf("[DIR] %s/", e.Name()))
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		lines = append(lines, fmt.Sprintf("[FILE] %s (%d bytes)", e.Name(), size))
	}
	return strings.Join(lines, "\n"), nil
}

func (h *handlers) treeDirectory(_ context.Context, _ *ExecContext, body string) (string, error) {
	p := strings.TrimSpace(body)
	if p == "" {
		p = "."
	}
	root := h.resolve(p)
	if _, err := os.Stat(root); err != nil {
		return "", err
	}
	lines := []string{p}
	walkTree(root, "", &lines)
	return strings.Join(lines, "\n"), nil
}

func walkTree(dir, prefix string, lines *[]string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var kept []fs.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || skipDirs[e.Name()] {
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name() < kept[j].Name() })

	for i, e := range kept {
		last := i == len(kept)-1
		branch, indent := "├── ", "│   "
		if last {
			branch, indent = "└── ", "    "
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		*lines = append(*lines, prefix+branch+name)
		if e.IsDir() && len(*lines) < treeLineLimit {
			walkTree(filepath.Join(dir, e.Name()), prefix+indent, lines)
		}
	}
}
