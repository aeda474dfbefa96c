// Package throttle deduplicates repeated error messages so a flapping
// dependency cannot flood the log.
package throttle

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow     = 30 * time.Second
	DefaultMaxRepeats = 3
	keyLen            = 100
)

// ErrorThrottler allows at most MaxRepeats identical messages per window and
// counts the rest.
type ErrorThrottler struct {
	window     time.Duration
	maxRepeats int
	now        func() time.Time

	mu         sync.Mutex
	seen       map[string][]time.Time
	suppressed map[string]int
}

// New creates a throttler. Zero values use the defaults.
func New(window time.Duration, maxRepeats int) *ErrorThrottler {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxRepeats <= 0 {
		maxRepeats = DefaultMaxRepeats
	}
	return &ErrorThrottler{
		window:     window,
		maxRepeats: maxRepeats,
		now:        time.Now,
		seen:       make(map[string][]time.Time),
		suppressed: make(map[string]int),
	}
}

// ShouldLog reports whether msg should be logged now. Messages are grouped by
// their first 100 bytes.
func (t *ErrorThrottler) ShouldLog(msg string) bool {
	key := msg
	if len(key) > keyLen {
		key = key[:keyLen]
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.seen[key][:0]
	for _, ts := range t.seen[key] {
		if now.Sub(ts) < t.window {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= t.maxRepeats {
		t.seen[key] = recent
		t.suppressed[key]++
		return false
	}
	t.seen[key] = append(recent, now)
	return true
}

// SuppressedSummary describes what was suppressed since the last call and
// resets the counts. It returns "" when nothing was suppressed.
func (t *ErrorThrottler) SuppressedSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.suppressed) == 0 {
		return ""
	}

	keys := make([]string, 0, len(t.suppressed))
	for k := range t.suppressed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		short := k
		if len(short) > 50 {
			short = short[:50] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s (x%d)", short, t.suppressed[k]))
	}
	t.suppressed = make(map[string]int)
	return strings.Join(parts, ", ")
}
