package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingGivesDefaults(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "state.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, Listening, st.Mode)
	assert.Equal(t, 60*time.Second, st.Tick())
	assert.Equal(t, 30*time.Minute, st.SleepCycle())
	assert.Nil(t, st.SleepUntil)
}

func TestRoundTripCanonical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path)

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	st := Default()
	st.CurrentTask = "ship it"
	st.SleepFor(10*time.Minute, now)
	require.NoError(t, store.Save(st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-02-14T12:10:00Z", raw["sleep_until"])

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Sleeping, loaded.Mode)
	assert.True(t, loaded.SleepUntil.Equal(now.Add(10*time.Minute)))
	assert.True(t, loaded.Asleep(now))
	assert.False(t, loaded.Asleep(now.Add(11*time.Minute)))
}

func TestLegacySleepUntilForms(t *testing.T) {
	cases := map[string]time.Time{
		`1771070400`:                   time.Unix(1771070400, 0),
		`1771070400.5`:                 time.Unix(1771070400, int64(500*time.Millisecond)),
		`"1771070400"`:                 time.Unix(1771070400, 0),
		`"2026-02-14T12:00:00Z"`:       time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC),
		`"2026-02-14T12:00:00.123456"`: time.Date(2026, 2, 14, 12, 0, 0, 123456000, time.Local),
	}
	for in, want := range cases {
		got, err := ParseSleepUntil(json.RawMessage(in))
		require.NoError(t, err, in)
		require.NotNil(t, got, in)
		assert.True(t, got.Equal(want), "%s: got %v want %v", in, got, want)
	}

	for _, in := range []string{`null`, `""`, ``} {
		got, err := ParseSleepUntil(json.RawMessage(in))
		assert.NoError(t, err)
		assert.Nil(t, got)
	}

	_, err := ParseSleepUntil(json.RawMessage(`"tomorrow"`))
	assert.Error(t, err)
}

func TestLegacyFileMigratesOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{"mode": "autonomous", "current_task": null, "tick_interval": 120, "sleep_until": 1771070400.0}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	store := NewStore(path)
	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Autonomous, st.Mode)
	assert.Equal(t, 120, st.TickInterval)
	assert.Equal(t, DefaultSleepCycleMinutes, st.SleepCycleMinutes)
	require.NoError(t, store.Save(st))

	data, _ := os.ReadFile(path)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, isString := raw["sleep_until"].(string)
	assert.True(t, isString, "sleep_until should be rewritten as a timestamp string")
}

func TestWake(t *testing.T) {
	st := Default()
	assert.False(t, st.Wake(), "nothing to clear")

	st.SleepFor(time.Minute, time.Now())
	assert.True(t, st.Wake())
	assert.Equal(t, Listening, st.Mode)
	assert.Nil(t, st.SleepUntil)
	assert.False(t, st.Wake(), "second wake is a no-op")
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode(" Focused ")
	assert.True(t, ok)
	assert.Equal(t, Focused, m)
	_, ok = ParseMode("dancing")
	assert.False(t, ok)
}
