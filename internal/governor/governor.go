// Package governor protects the agent's own source file. Every write is
// preceded by a backup and followed by validation; a write that fails
// validation is rolled back to the last-known-good snapshot.
package governor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/ouro/internal/fsutil"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/metrics"
)

// Backup reasons.
const (
	ReasonPreEdit    = "pre_edit"
	ReasonPreRestore = "pre_restore"
	ReasonPreRestart = "pre_restart"
	ReasonManual     = "manual"
)

const (
	knownGoodTag = "last_known_good"
	stampLayout  = "20060102_150405.000000"
)

var (
	// ErrNoKnownGood means no last-known-good snapshot has been taken yet.
	ErrNoKnownGood = errors.New("no last-known-good backup")
	// ErrNotGuarded is returned when no guarded file is configured.
	ErrNotGuarded = errors.New("no guarded file configured")
)

// Backup is one snapshot of the guarded file.
type Backup struct {
	Name      string
	Path      string
	Reason    string
	Time      time.Time
	Size      int64
	KnownGood bool
}

// Options configures a Governor.
type Options struct {
	GuardedFile    string
	BackupDir      string
	Keep           int // ordinary backups retained; the known-good slot is never evicted
	Validators     []Validator
	RebuildCommand []string
}

// Governor owns the guarded file and its backups.
type Governor struct {
	path       string
	backupDir  string
	keep       int
	validators []Validator
	rebuild    []string

	mu  sync.Mutex
	now func() time.Time
}

// New returns a Governor. An empty GuardedFile yields a Governor that guards
// nothing; Guards always reports false.
func New(opts Options) (*Governor, error) {
	g := &Governor{
		backupDir:  opts.BackupDir,
		keep:       opts.Keep,
		validators: opts.Validators,
		rebuild:    opts.RebuildCommand,
		now:        time.Now,
	}
	if g.keep <= 0 {
		g.keep = 10
	}
	if opts.GuardedFile == "" {
		return g, nil
	}

	abs, err := filepath.Abs(opts.GuardedFile)
	if err != nil {
		return nil, err
	}
	g.path = abs
	if g.backupDir == "" {
		g.backupDir = filepath.Join(filepath.Dir(abs), ".backups")
	}
	if err := os.MkdirAll(g.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return g, nil
}

// Path returns the guarded file, or "" when nothing is guarded.
func (g *Governor) Path() string {
	return g.path
}

// Guards reports whether path names the guarded file.
func (g *Governor) Guards(path string) bool {
	if g.path == "" || path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if abs == g.path {
		return true
	}
	a, errA := filepath.EvalSymlinks(abs)
	b, errB := filepath.EvalSymlinks(g.path)
	return errA == nil && errB == nil && a == b
}

// Backup snapshots the guarded file under reason and prunes old backups.
func (g *Governor) Backup(reason string) (Backup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backup(reason)
}

func (g *Governor) backup(reason string) (Backup, error) {
	if g.path == "" {
		return Backup{}, ErrNotGuarded
	}

	ts := g.now()
	dst := g.backupPath(ts, reason)
	for {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		ts = ts.Add(time.Microsecond)
		dst = g.backupPath(ts, reason)
	}

	if err := copyFile(g.path, dst); err != nil {
		return Backup{}, fmt.Errorf("backup %s: %w", reason, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return Backup{}, err
	}
	g.prune()

	logging.For("governor").Debug("backup created", "name", filepath.Base(dst), "reason", reason)
	return Backup{Name: filepath.Base(dst), Path: dst, Reason: reason, Time: ts, Size: info.Size()}, nil
}

// MarkKnownGood validates the guarded file as it is on disk and copies it
// into the last-known-good slot. Called once per process start, after the
// process has proven it can run.
func (g *Governor) MarkKnownGood(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path == "" {
		return ErrNotGuarded
	}

	content, err := os.ReadFile(g.path)
	if err != nil {
		return err
	}
	if err := g.validate(ctx, content); err != nil {
		return fmt.Errorf("refusing to mark known-good: %w", err)
	}
	if err := fsutil.WriteFileAtomic(g.knownGoodPath(), content, 0644); err != nil {
		return fmt.Errorf("failed to write known-good backup: %w", err)
	}
	logging.For("governor").Info("last-known-good refreshed", "file", g.path)
	return nil
}

// KnownGood returns the last-known-good snapshot.
func (g *Governor) KnownGood() (Backup, error) {
	if g.path == "" {
		return Backup{}, ErrNotGuarded
	}
	p := g.knownGoodPath()
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return Backup{}, ErrNoKnownGood
	}
	if err != nil {
		return Backup{}, err
	}
	return Backup{
		Name:      filepath.Base(p),
		Path:      p,
		Reason:    knownGoodTag,
		Time:      info.ModTime(),
		Size:      info.Size(),
		KnownGood: true,
	}, nil
}

// WriteResult describes a guarded write.
type WriteResult struct {
	Backup Backup
}

// GuardedWrite replaces the guarded file with content. The write is
// abandoned if the pre-edit backup fails. When the new content does not
// validate, the broken state is saved as a pre_restore backup, the file is
// restored from the last-known-good slot (or the pre-edit backup when no
// known-good exists yet) and a *ValidationError with RolledBack set is
// returned.
func (g *Governor) GuardedWrite(ctx context.Context, content []byte) (WriteResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path == "" {
		return WriteResult{}, ErrNotGuarded
	}
	log := logging.For("governor")

	pre, err := g.backup(ReasonPreEdit)
	if err != nil {
		return WriteResult{}, fmt.Errorf("write aborted, no backup: %w", err)
	}

	perm := os.FileMode(0644)
	if info, err := os.Stat(g.path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fsutil.WriteFileAtomic(g.path, content, perm); err != nil {
		return WriteResult{Backup: pre}, fmt.Errorf("failed to write %s: %w", g.path, err)
	}

	verr := g.validate(ctx, content)
	if verr == nil {
		log.Info("guarded write validated", "file", g.path, "bytes", len(content))
		return WriteResult{Backup: pre}, nil
	}

	var ve *ValidationError
	if !errors.As(verr, &ve) {
		ve = &ValidationError{Validator: "unknown", Output: verr.Error()}
	}
	from, rerr := g.rollback(pre.Path)
	if rerr != nil {
		log.Error("rollback failed", "file", g.path, "error", rerr)
		return WriteResult{Backup: pre}, fmt.Errorf("%w; rollback failed: %v", ve, rerr)
	}
	ve.RolledBack = true
	ve.RestoredFrom = from
	log.Warn("guarded write rolled back", "file", g.path, "validator", ve.Validator, "restored_from", from)
	return WriteResult{Backup: pre}, ve
}

// Restore replaces the guarded file with the named backup, or with the
// last-known-good snapshot when name is "". The current state is saved as
// a pre_restore backup first.
func (g *Governor) Restore(name string) (Backup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path == "" {
		return Backup{}, ErrNotGuarded
	}

	src := g.knownGoodPath()
	if name != "" {
		src = filepath.Join(g.backupDir, filepath.Base(name))
	}
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		if name == "" {
			return Backup{}, ErrNoKnownGood
		}
		return Backup{}, fmt.Errorf("backup %s not found", name)
	}
	if err != nil {
		return Backup{}, err
	}

	if _, err := g.backup(ReasonPreRestore); err != nil {
		return Backup{}, err
	}
	if err := copyFile(src, g.path); err != nil {
		return Backup{}, fmt.Errorf("restore %s: %w", filepath.Base(src), err)
	}
	metrics.Rollbacks.Inc()
	logging.For("governor").Info("restored", "file", g.path, "from", filepath.Base(src))
	return Backup{Name: filepath.Base(src), Path: src, Time: info.ModTime(), Size: info.Size(), KnownGood: name == ""}, nil
}

// List returns the known-good snapshot first, then ordinary backups newest
// first.
func (g *Governor) List() ([]Backup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path == "" {
		return nil, ErrNotGuarded
	}

	var out []Backup
	if kg, err := g.KnownGood(); err == nil {
		out = append(out, kg)
	}
	ordinary, err := g.ordinary()
	if err != nil {
		return nil, err
	}
	for i := len(ordinary) - 1; i >= 0; i-- {
		out = append(out, ordinary[i])
	}
	return out, nil
}

// Validate runs every validator against content without touching the file.
func (g *Governor) Validate(ctx context.Context, content []byte) error {
	return g.validate(ctx, content)
}

// ValidateCurrent validates the guarded file as it is on disk.
func (g *Governor) ValidateCurrent(ctx context.Context) error {
	if g.path == "" {
		return ErrNotGuarded
	}
	content, err := os.ReadFile(g.path)
	if err != nil {
		return err
	}
	return g.validate(ctx, content)
}

// Checks names the configured validators in the order they run.
func (g *Governor) Checks() []string {
	names := make([]string, 0, len(g.validators))
	for _, v := range g.validators {
		names = append(names, v.Name())
	}
	return names
}

func (g *Governor) validate(ctx context.Context, content []byte) error {
	for _, v := range g.validators {
		if err := v.Validate(ctx, g.path, content); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return ve
			}
			return &ValidationError{Validator: v.Name(), Output: err.Error()}
		}
	}
	return nil
}

// rollback saves the broken state and restores known-good, falling back to
// fallback when no known-good exists. It returns the restored backup's name.
// The source is read before the pre_restore backup, whose prune may remove
// the fallback when keep is small.
func (g *Governor) rollback(fallback string) (string, error) {
	src := g.knownGoodPath()
	if _, err := os.Stat(src); err != nil {
		src = fallback
	}
	good, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	perm := os.FileMode(0644)
	if info, err := os.Stat(g.path); err == nil {
		perm = info.Mode().Perm()
	}

	if _, err := g.backup(ReasonPreRestore); err != nil {
		logging.For("governor").Warn("pre-restore backup failed", "error", err)
	}
	if err := fsutil.WriteFileAtomic(g.path, good, perm); err != nil {
		return "", err
	}
	metrics.Rollbacks.Inc()
	return filepath.Base(src), nil
}

func (g *Governor) stem() (string, string) {
	base := filepath.Base(g.path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

func (g *Governor) backupPath(ts time.Time, reason string) string {
	stem, ext := g.stem()
	return filepath.Join(g.backupDir, fmt.Sprintf("%s_%s_%s%s", stem, ts.Format(stampLayout), reason, ext))
}

func (g *Governor) knownGoodPath() string {
	stem, ext := g.stem()
	return filepath.Join(g.backupDir, stem+"_"+knownGoodTag+ext)
}

// ordinary returns the rolling backups oldest first.
func (g *Governor) ordinary() ([]Backup, error) {
	entries, err := os.ReadDir(g.backupDir)
	if err != nil {
		return nil, err
	}
	stem, ext := g.stem()
	prefix := stem + "_"

	var out []Backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		if len(rest) < len(stampLayout)+2 || rest[len(stampLayout)] != '_' {
			continue
		}
		ts, err := time.ParseInLocation(stampLayout, rest[:len(stampLayout)], time.Local)
		if err != nil {
			continue
		}
		b := Backup{Name: name, Path: filepath.Join(g.backupDir, name), Reason: rest[len(stampLayout)+1:], Time: ts}
		if info, err := e.Info(); err == nil {
			b.Size = info.Size()
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *Governor) prune() {
	backups, err := g.ordinary()
	if err != nil {
		return
	}
	for len(backups) > g.keep {
		if err := os.Remove(backups[0].Path); err != nil {
			logging.For("governor").Warn("failed to prune backup", "name", backups[0].Name, "error", err)
		}
		backups = backups[1:]
	}
}

// copyFile copies src to dst, preserving permissions.
func copyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
