package actions

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	searchShown     = 30
	searchLineWidth = 80
	maxSearchFile   = 2 << 20
	selfSourceShown = 20
	selfRecordShown = 5
)

func (h *handlers) searchFiles(ctx context.Context, _ *ExecContext, body string) (string, error) {
	pattern, rest := splitHead(strings.TrimSpace(body))
	if pattern == "" {
		return "", errors.New("missing pattern")
	}
	dir := strings.TrimSpace(rest)
	if dir == "" {
		dir = "."
	}
	root := h.resolve(dir)
	needle := strings.ToLower(pattern)

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		display := path
		if rel, err := filepath.Rel(h.Workdir, path); err == nil && !strings.HasPrefix(rel, "..") {
			display = rel
		}
		matches = append(matches, grepFile(path, display, needle)...)
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No matches", nil
	}
	shown := matches
	if len(shown) > searchShown {
		shown = shown[:searchShown]
	}
	return fmt.Sprintf("Found %d matches:\n%s", len(matches), strings.Join(shown, "\n")), nil
}

// grepFile returns "name:line: text" for each line containing the lowercase
// needle. Binary and oversized files are skipped.
func grepFile(path, name, needle string) []string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFile {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return nil
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxSearchFile)
	for ln := 1; sc.Scan(); ln++ {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			out = append(out, fmt.Sprintf("%s:%d: %s", name, ln, truncate(strings.TrimSpace(line), searchLineWidth)))
		}
	}
	return out
}

// searchSelf looks for the query in the program's own source, the message
// archive and the key/value memory.
func (h *handlers) searchSelf(ctx context.Context, _ *ExecContext, body string) (string, error) {
	query := strings.TrimSpace(body)
	if query == "" {
		return "", errors.New("missing query")
	}
	var sections []string

	if h.Governor != nil && h.Governor.Path() != "" {
		path := h.Governor.Path()
		hits := grepFile(path, filepath.Base(path), strings.ToLower(query))
		if len(hits) > 0 {
			n := len(hits)
			if n > selfSourceShown {
				hits = hits[:selfSourceShown]
			}
			sections = append(sections, fmt.Sprintf("Source (%d):\n%s", n, strings.Join(hits, "\n")))
		}
	}

	if h.Archive != nil {
		recs, err := h.Archive.Search(query, selfRecordShown)
		if err != nil {
			return "", fmt.Errorf("search archive: %w", err)
		}
		if len(recs) > 0 {
			lines := make([]string, 0, len(recs))
			for _, r := range recs {
				lines = append(lines, fmt.Sprintf("%s %s: %s", r.ArchivedAt.Format("2006-01-02"), r.Role, truncate(oneLine(r.Content), 200)))
			}
			sections = append(sections, "Archive:\n"+strings.Join(lines, "\n"))
		}
	}

	if h.Memory != nil {
		entries, err := h.Memory.Search(ctx, query, selfRecordShown)
		if err != nil {
			return "", fmt.Errorf("search memory: %w", err)
		}
		if len(entries) > 0 {
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				lines = append(lines, fmt.Sprintf("[%s]: %s", e.Key, truncate(oneLine(e.Value), 200)))
			}
			sections = append(sections, "Memory:\n"+strings.Join(lines, "\n"))
		}
	}

	if len(sections) == 0 {
		return fmt.Sprintf("No matches for %q", query), nil
	}
	return strings.Join(sections, "\n\n"), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
