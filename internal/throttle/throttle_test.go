package throttle

import (
	"strings"
	"testing"
	"time"
)

func TestSuppressesAfterMaxRepeats(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := New(30*time.Second, 3)
	th.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if !th.ShouldLog("oracle: connection refused") {
			t.Fatalf("message %d should be logged", i)
		}
	}
	for i := 0; i < 4; i++ {
		if th.ShouldLog("oracle: connection refused") {
			t.Fatalf("message %d should be suppressed", i)
		}
	}
	if !th.ShouldLog("different error") {
		t.Error("distinct messages are throttled separately")
	}

	summary := th.SuppressedSummary()
	if !strings.Contains(summary, "(x4)") {
		t.Errorf("summary = %q", summary)
	}
	if th.SuppressedSummary() != "" {
		t.Error("summary should reset")
	}

	clock = clock.Add(31 * time.Second)
	if !th.ShouldLog("oracle: connection refused") {
		t.Error("window expiry should allow logging again")
	}
}

func TestGroupsByPrefix(t *testing.T) {
	th := New(time.Minute, 1)
	prefix := strings.Repeat("x", 100)
	if !th.ShouldLog(prefix + "a") {
		t.Fatal("first should log")
	}
	if th.ShouldLog(prefix + "b") {
		t.Error("messages sharing the first 100 bytes are one group")
	}
}
