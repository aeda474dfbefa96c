package memory

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/fsutil"
)

// Record is one archived message.
type Record struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive is an append-only JSONL log of every message that left the
// working history. Lines are never rewritten.
type Archive struct {
	path string
}

// NewArchive opens the archive at path. The file is created on first append.
func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

// Path returns the archive file location
func (a *Archive) Path() string {
	return a.path
}

// Append writes msgs in order and returns how many were written.
func (a *Archive) Append(msgs []Message, at time.Time) (int, error) {
	for i, m := range msgs {
		line, err := json.Marshal(Record{Role: m.Role, Content: m.Content, ArchivedAt: at})
		if err != nil {
			return i, err
		}
		if err := fsutil.AppendLine(a.path, line); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// Count returns the number of records in the archive.
func (a *Archive) Count() (int, error) {
	n := 0
	err := a.scan(func(Record) { n++ })
	return n, err
}

// Search returns up to limit records whose content contains query,
// case-insensitively, newest first.
func (a *Archive) Search(query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(query)
	var hits []Record
	err := a.scan(func(r Record) {
		if strings.Contains(strings.ToLower(r.Content), q) {
			hits = append(hits, r)
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, limit)
	for i := len(hits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, hits[i])
	}
	return out, nil
}

func (a *Archive) scan(fn func(Record)) error {
	f, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r Record
		// A torn last line from a crash is skipped, not fatal.
		if json.Unmarshal(sc.Bytes(), &r) == nil {
			fn(r)
		}
	}
	return sc.Err()
}
