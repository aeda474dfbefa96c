package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/config"
)

const testConfig = `
mode: interactive
oracle:
  provider: openai
  model: test-model
  max_tokens: 100
  timeout: 5s
memory:
  threshold: 10
  batch: 4
  hard_cap: 8
  conversation_file: conversation.json
  archive_file: archive.jsonl
governor:
  backup_dir: backups
  keep: 3
engine:
  max_depth: 5
  idle_wait: 10ms
  state_file: state.json
channels:
  console: true
  telegram:
    enabled: true
    token: abc
  webhook:
    addr: 127.0.0.1:0
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OURO_KEYRING_DISABLED", "1")
	c, err := config.LoadFromBytes([]byte(testConfig))
	require.NoError(t, err)
	c.DataDir = t.TempDir()
	return &c
}

func execute(t *testing.T, c *config.Config, args ...string) (string, error) {
	t.Helper()
	cfgFile, modeArg, pipePrompt = "", "", ""
	telegram, noTelegram, webhook, verbose = false, false, false, false

	root := SetupRootCmd(c, "1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFlagsOverrideConfig(t *testing.T) {
	c := newTestConfig(t)
	out, err := execute(t, c, "version", "--mode", "autonomous", "--no-telegram", "--webhook", "-v")
	require.NoError(t, err)

	assert.Equal(t, "ouro 1.2.3\n", out)
	assert.Equal(t, "autonomous", c.Mode)
	assert.False(t, c.Channels.Telegram.Enabled)
	assert.True(t, c.Channels.Webhook.Enabled)
	assert.Equal(t, "debug", c.Logging.Level)
}

func TestInvalidModeRejected(t *testing.T) {
	c := newTestConfig(t)
	_, err := execute(t, c, "version", "--mode", "dreaming")
	assert.Error(t, err)
}

func TestBackupsNeedGuardedFile(t *testing.T) {
	c := newTestConfig(t)
	_, err := execute(t, c, "backups", "list")
	assert.ErrorContains(t, err, "no guarded file configured")
}

func TestBackupsListAndMarkGood(t *testing.T) {
	c := newTestConfig(t)
	src := filepath.Join(t.TempDir(), "agent.go")
	require.NoError(t, os.WriteFile(src, []byte("package main\n\nfunc main() {}\n"), 0o644))
	c.Governor.GuardedFile = src
	c.Governor.RequiredSymbols = []string{"main"}

	out, err := execute(t, c, "backups", "mark-good")
	require.NoError(t, err)
	assert.Contains(t, out, "Marked "+src+" as known-good")

	out, err = execute(t, c, "backups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "known-good")
}

func TestMemoryCommands(t *testing.T) {
	c := newTestConfig(t)
	out, err := execute(t, c, "memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No memories found.")

	_, err = execute(t, c, "memory", "get", "missing")
	assert.ErrorContains(t, err, `no memory named "missing"`)
}

func TestChildFlagsForwarded(t *testing.T) {
	c := newTestConfig(t)
	root := SetupRootCmd(c, "")
	cfgFile, modeArg = "/etc/ouro.yaml", "autonomous"
	telegram, noTelegram, webhook, verbose = false, false, false, false
	defer func() { cfgFile, modeArg = "", "" }()

	sup, _, err := root.Find([]string{"supervise"})
	require.NoError(t, err)
	require.NoError(t, sup.ParseFlags([]string{"--webhook"}))

	assert.Equal(t, []string{"--config", "/etc/ouro.yaml", "--mode", "autonomous", "--webhook"}, childFlags(sup))
}

func TestLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := acquireLock(dir)
	require.NoError(t, err)

	_, err = acquireLock(dir)
	assert.Error(t, err)

	releaseLock(first)
	again, err := acquireLock(dir)
	require.NoError(t, err)
	releaseLock(again)
}
