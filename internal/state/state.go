// Package state persists the engine's run-state: mode, current task, tick
// interval and the sleep deadline.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/fsutil"
)

// Mode is the engine's high-level behavior.
type Mode string

const (
	Listening  Mode = "listening"
	Focused    Mode = "focused"
	Sleeping   Mode = "sleeping"
	Autonomous Mode = "autonomous"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Listening, Focused, Sleeping, Autonomous:
		return m, true
	}
	return "", false
}

const (
	DefaultTickInterval      = 60 * time.Second
	DefaultSleepCycleMinutes = 30
)

// RunState is the persisted run-state. SleepUntil is stored as RFC 3339.
type RunState struct {
	Mode              Mode       `json:"mode"`
	CurrentTask       string     `json:"current_task,omitempty"`
	TickInterval      int        `json:"tick_interval"`
	SleepUntil        *time.Time `json:"sleep_until"`
	SleepCycleMinutes int        `json:"sleep_cycle_minutes"`
}

// Default returns the state of a fresh install.
func Default() RunState {
	return RunState{
		Mode:              Listening,
		TickInterval:      int(DefaultTickInterval / time.Second),
		SleepCycleMinutes: DefaultSleepCycleMinutes,
	}
}

// Tick returns the autonomous tick interval.
func (s RunState) Tick() time.Duration {
	if s.TickInterval <= 0 {
		return DefaultTickInterval
	}
	return time.Duration(s.TickInterval) * time.Second
}

// SleepCycle returns the default sleep length.
func (s RunState) SleepCycle() time.Duration {
	if s.SleepCycleMinutes <= 0 {
		return DefaultSleepCycleMinutes * time.Minute
	}
	return time.Duration(s.SleepCycleMinutes) * time.Minute
}

// Asleep reports whether the sleep deadline is still ahead of now.
func (s RunState) Asleep(now time.Time) bool {
	return s.SleepUntil != nil && now.Before(*s.SleepUntil)
}

// SleepFor puts the state to sleep for d from now.
func (s *RunState) SleepFor(d time.Duration, now time.Time) {
	until := now.Add(d)
	s.SleepUntil = &until
	s.Mode = Sleeping
}

// Wake clears the sleep deadline and returns to listening. It reports whether
// there was a deadline to clear.
func (s *RunState) Wake() bool {
	had := s.SleepUntil != nil
	s.SleepUntil = nil
	if s.Mode == Sleeping || had {
		s.Mode = Listening
	}
	return had
}

// UnmarshalJSON accepts the legacy sleep_until forms (epoch seconds as a
// number or numeric string, ISO timestamps without a zone) and fills defaults
// for missing fields.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Mode              *string         `json:"mode"`
		CurrentTask       *string         `json:"current_task"`
		TickInterval      *int            `json:"tick_interval"`
		SleepUntil        json.RawMessage `json:"sleep_until"`
		SleepCycleMinutes *int            `json:"sleep_cycle_minutes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Default()
	if raw.Mode != nil {
		if m, ok := ParseMode(*raw.Mode); ok {
			s.Mode = m
		}
	}
	if raw.CurrentTask != nil {
		s.CurrentTask = *raw.CurrentTask
	}
	if raw.TickInterval != nil && *raw.TickInterval > 0 {
		s.TickInterval = *raw.TickInterval
	}
	if raw.SleepCycleMinutes != nil && *raw.SleepCycleMinutes > 0 {
		s.SleepCycleMinutes = *raw.SleepCycleMinutes
	}
	until, err := ParseSleepUntil(raw.SleepUntil)
	if err != nil {
		return err
	}
	s.SleepUntil = until
	return nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseSleepUntil converts any historical sleep_until encoding to a time.
// null and "" yield nil.
func ParseSleepUntil(raw json.RawMessage) (*time.Time, error) {
	v := strings.TrimSpace(string(raw))
	if v == "" || v == "null" {
		return nil, nil
	}

	if v[0] != '"' {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("sleep_until: %w", err)
		}
		t := epoch(secs)
		return &t, nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil, fmt.Errorf("sleep_until: %w", err)
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseFloat(str, 64); err == nil {
		t := epoch(secs)
		return &t, nil
	}
	for i, layout := range isoLayouts {
		var t time.Time
		var err error
		if i == 0 {
			t, err = time.Parse(layout, str)
		} else {
			t, err = time.ParseInLocation(layout, str, time.Local)
		}
		if err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("sleep_until: unrecognized value %q", str)
}

func epoch(secs float64) time.Time {
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac)
}

// Store reads and writes the state file.
type Store struct {
	path string
}

// NewStore creates a store backed by path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the state file. A missing file yields defaults.
func (s *Store) Load() (RunState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Default(), err
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return Default(), fmt.Errorf("failed to parse state file: %w", err)
	}
	return st, nil
}

// Save writes the state atomically, always in the canonical form.
func (s *Store) Save(st RunState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, data, 0644)
}
