package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/ouro/internal/fsutil"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
)

const (
	ScheduleName            = "schedule"
	ReminderSource          = "reminder"
	TaskDueSource           = "task_due"
	DefaultScheduleInterval = 30 * time.Second
)

// Reminder status values.
const (
	ReminderPending   = "pending"
	ReminderTriggered = "triggered"
	ReminderCompleted = "completed"
)

// Reminder fires once at DueAt, or on every match of Cron.
type Reminder struct {
	ID        string     `json:"id"`
	Message   string     `json:"message"`
	DueAt     string     `json:"due_at,omitempty"`
	Cron      string     `json:"cron,omitempty"`
	Status    string     `json:"status"`
	LastFired *time.Time `json:"last_fired,omitempty"`
}

type reminderFile struct {
	Reminders []Reminder `json:"reminders"`
}

// Task is an entry of the task list. A task is overdue once Due has passed
// and it is not completed.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Due    string `json:"due,omitempty"`
}

type taskFile struct {
	Tasks []Task `json:"tasks"`
}

// ScheduleOptions names the files the schedule adapter reads.
type ScheduleOptions struct {
	RemindersFile string
	TasksFile     string
}

// Schedule turns due reminders and overdue tasks into envelopes. Fired
// one-shot reminders are written back as triggered; every id is reported at
// most once per process.
type Schedule struct {
	opts   ScheduleOptions
	parser cronlib.Parser
	now    func() time.Time
	start  time.Time
	kick   chan struct{}

	fired    map[string]bool
	notified map[string]bool
}

// NewSchedule returns a schedule adapter.
func NewSchedule(opts ScheduleOptions) *Schedule {
	return &Schedule{
		opts:     opts,
		parser:   cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow),
		now:      time.Now,
		start:    time.Now(),
		kick:     make(chan struct{}, 1),
		fired:    make(map[string]bool),
		notified: make(map[string]bool),
	}
}

func (s *Schedule) Name() string { return ScheduleName }

// Kick fires when a watched file changes.
func (s *Schedule) Kick() <-chan struct{} { return s.kick }

// Poll checks both files. A missing file is an empty schedule.
func (s *Schedule) Poll(_ context.Context, cursor string) ([]inbox.Envelope, string, error) {
	now := s.now()
	envs, err := s.reminders(now)
	if err != nil {
		return nil, cursor, err
	}
	tasks, err := s.tasks(now)
	if err != nil {
		return envs, cursor, err
	}
	return append(envs, tasks...), cursor, nil
}

func (s *Schedule) reminders(now time.Time) ([]inbox.Envelope, error) {
	if s.opts.RemindersFile == "" {
		return nil, nil
	}
	var rf reminderFile
	if err := readJSON(s.opts.RemindersFile, &rf); err != nil {
		return nil, err
	}

	var envs []inbox.Envelope
	dirty := false
	for i := range rf.Reminders {
		r := &rf.Reminders[i]
		if r.Status != "" && r.Status != ReminderPending {
			continue
		}
		key, due, err := s.due(r, now)
		if err != nil {
			logging.For("channels").Warn("bad reminder", "id", r.ID, "error", err)
			continue
		}
		if !due || s.fired[key] {
			continue
		}
		s.fired[key] = true
		if r.Cron == "" {
			r.Status = ReminderTriggered
		} else {
			t := now
			r.LastFired = &t
		}
		dirty = true
		envs = append(envs, inbox.NewEnvelope(
			ReminderSource,
			fmt.Sprintf("[Reminder due]: %s (ID: %s)", r.Message, r.ID),
			inbox.Address{},
		))
	}

	if dirty {
		data, err := json.MarshalIndent(rf, "", "  ")
		if err != nil {
			return envs, err
		}
		if err := fsutil.WriteFileAtomic(s.opts.RemindersFile, data, 0o644); err != nil {
			return envs, fmt.Errorf("mark reminders: %w", err)
		}
	}
	return envs, nil
}

// due reports whether r should fire now, and the key that identifies this
// firing.
func (s *Schedule) due(r *Reminder, now time.Time) (string, bool, error) {
	if r.Cron != "" {
		sched, err := s.parser.Parse(r.Cron)
		if err != nil {
			return "", false, fmt.Errorf("cron %q: %w", r.Cron, err)
		}
		from := s.start
		if r.LastFired != nil && r.LastFired.After(from) {
			from = *r.LastFired
		}
		next := sched.Next(from)
		return r.ID + "@" + next.Format(time.RFC3339), !next.After(now), nil
	}
	at, err := parseWhen(r.DueAt)
	if err != nil {
		return "", false, err
	}
	return r.ID, !at.After(now), nil
}

func (s *Schedule) tasks(now time.Time) ([]inbox.Envelope, error) {
	if s.opts.TasksFile == "" {
		return nil, nil
	}
	var tf taskFile
	if err := readJSON(s.opts.TasksFile, &tf); err != nil {
		return nil, err
	}
	var envs []inbox.Envelope
	for _, t := range tf.Tasks {
		if t.Due == "" || t.Status == "completed" || s.notified[t.ID] {
			continue
		}
		at, err := parseWhen(t.Due)
		if err != nil || at.After(now) {
			continue
		}
		s.notified[t.ID] = true
		envs = append(envs, inbox.NewEnvelope(
			TaskDueSource,
			fmt.Sprintf("[Task overdue]: %s (ID: %s)", t.Title, t.ID),
			inbox.Address{},
		))
	}
	return envs, nil
}

var whenLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseWhen accepts RFC 3339 or a zone-less ISO time in local time.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// Send has nowhere to deliver; schedule envelopes carry the zero address so
// replies go to the router's fallback.
func (s *Schedule) Send(_ context.Context, _ inbox.Address, text string) error {
	logging.For("channels").Info("schedule reply", "text", text)
	return nil
}

// Watch wakes the poller when either file changes. It blocks until ctx is
// done.
func (s *Schedule) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	names := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range []string{s.opts.RemindersFile, s.opts.TasksFile} {
		if f == "" {
			continue
		}
		names[filepath.Clean(f)] = true
		dirs[filepath.Dir(filepath.Clean(f))] = true
	}
	for d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
		// Watch the directory: atomic writes replace the file.
		if err := watcher.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	log := logging.For("channels")
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case s.kick <- struct{}{}:
				default:
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("schedule watcher error", "error", err)
		}
	}
}
