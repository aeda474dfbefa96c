package actions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/governor"
)

func newFileTable(t *testing.T) (*Table, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Deps{Workdir: dir}), dir
}

func run(t *testing.T, tbl *Table, kind directive.Kind, body string) Outcome {
	t.Helper()
	return tbl.Dispatch(context.Background(), &ExecContext{}, directive.Action{Kind: kind, Body: body})
}

func TestWriteReadAppendDelete(t *testing.T) {
	tbl, dir := newFileTable(t)

	out := run(t, tbl, directive.WriteFile, "notes/today.txt\nline one\nline two")
	require.False(t, out.Failed, out.Text)
	got, err := os.ReadFile(filepath.Join(dir, "notes", "today.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(got))

	out = run(t, tbl, directive.AppendFile, "notes/today.txt\n\nline three")
	require.False(t, out.Failed, out.Text)

	out = run(t, tbl, directive.ReadFiles, "notes/today.txt\nmissing.txt\n")
	assert.Contains(t, out.Text, "[READ_FILES]: notes/today.txt\nline one\nline two\nline three\n")
	assert.Contains(t, out.Text, "missing.txt\nError: ")

	out = run(t, tbl, directive.DeleteFile, "notes/today.txt")
	require.False(t, out.Failed, out.Text)
	_, err = os.Stat(filepath.Join(dir, "notes", "today.txt"))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error.
	out = run(t, tbl, directive.DeleteFile, "notes/today.txt")
	assert.False(t, out.Failed, out.Text)
}

func TestListAndTree(t *testing.T) {
	tbl, dir := newFileTable(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "pkg", "a.go"), []byte("package pkg\n"), 0644))

	out := run(t, tbl, directive.ListDirectory, "")
	assert.Equal(t, "[LIST_DIRECTORY]: [DIR] .git/\n[FILE] README.md (5 bytes)\n[DIR] src/", out.Text)

	out = run(t, tbl, directive.TreeDirectory, ".")
	assert.Equal(t, "[TREE_DIRECTORY]: .\n├── README.md\n└── src/\n    └── pkg/\n        └── a.go", out.Text)

	out = run(t, tbl, directive.CreateDirectory, "empty")
	require.False(t, out.Failed, out.Text)
	out = run(t, tbl, directive.ListDirectory, "empty")
	assert.Equal(t, "[LIST_DIRECTORY]: Empty", out.Text)
}

func TestEditSearchReplace(t *testing.T) {
	tbl, dir := newFileTable(t)
	path := filepath.Join(dir, "app.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\nbeta\n"), 0644))

	out := run(t, tbl, directive.EditFile, "app.txt\n<<<OLD\nalpha\nbeta\n>>>\n<<<NEW\nALPHA\n>>>")
	require.False(t, out.Failed, out.Text)
	assert.Equal(t, "[EDIT_FILE]: Replaced 2 lines with 1 lines", out.Text)
	got, _ := os.ReadFile(path)
	assert.Equal(t, "ALPHA\ngamma\nbeta\n", string(got))

	out = run(t, tbl, directive.EditFile, "app.txt\n<<<OLD\ndelta\n>>>\n<<<NEW\nx\n>>>")
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, "no match found in app.txt")

	require.NoError(t, os.WriteFile(path, []byte("x\nx\n"), 0644))
	out = run(t, tbl, directive.EditFile, "app.txt\n<<<OLD\nx\n>>>\n<<<NEW\ny\n>>>")
	assert.Contains(t, out.Text, "found 2 matches")

	out = run(t, tbl, directive.EditFile, "app.txt\n<<<OLD\nx\n<<<NEW\ny")
	assert.Contains(t, out.Text, "missing >>> after OLD block")
}

func TestEditLineRange(t *testing.T) {
	tbl, dir := newFileTable(t)
	path := filepath.Join(dir, "lines.txt")

	cases := []struct {
		name, content, body, want string
	}{
		{"range", "1\n2\n3\n4\n", "2-3\ntwo\nthree\nmore", "1\ntwo\nthree\nmore\n4\n"},
		{"single", "1\n2\n3\n", "2\nTWO", "1\nTWO\n3\n"},
		{"delete", "1\n2\n3\n", "2-2\n", "1\n3\n"},
		{"keeps missing newline", "1\n2", "2\nlast", "1\nlast"},
		{"append past end", "1\n", "2\nnew", "1\nnew\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))
			out := run(t, tbl, directive.EditFile, "lines.txt\n"+tc.body)
			require.False(t, out.Failed, out.Text)
			got, _ := os.ReadFile(path)
			assert.Equal(t, tc.want, string(got))
		})
	}

	out := run(t, tbl, directive.EditFile, "lines.txt\n3-1\nx")
	assert.Contains(t, out.Text, "invalid line range")
}

const validSource = "package main\n\nfunc main() {}\n"

func TestGuardedWriteThroughGovernor(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(src, []byte(validSource), 0644))
	gov, err := governor.New(governor.Options{
		GuardedFile: src,
		BackupDir:   filepath.Join(dir, "backups"),
		Validators:  governor.DefaultValidators(src, []string{"main"}, nil),
	})
	require.NoError(t, err)
	require.NoError(t, gov.MarkKnownGood(context.Background()))
	tbl := New(Deps{Workdir: dir, Governor: gov})

	out := run(t, tbl, directive.WriteFile, "main.go\npackage main\n\nfunc main( {\n")
	assert.False(t, out.Failed)
	assert.Contains(t, out.Text, "WRITE FAILED")
	assert.Contains(t, out.Text, "rolled back to main_last_known_good.go")
	got, _ := os.ReadFile(src)
	assert.Equal(t, validSource, string(got))

	out = run(t, tbl, directive.EditFile, "main.go\n<<<OLD\nfunc main() {}\n>>>\n<<<NEW\nfunc helper() {}\n>>>")
	assert.Contains(t, out.Text, "EDIT FAILED")
	assert.Contains(t, out.Text, "missing main")
	got, _ = os.ReadFile(src)
	assert.Equal(t, validSource, string(got))

	out = run(t, tbl, directive.EditFile, "main.go\n<<<OLD\nfunc main() {}\n>>>\n<<<NEW\nfunc main() { println(1) }\n>>>")
	assert.Equal(t, "[EDIT_FILE]: Replaced 1 lines with 1 lines (validated)", out.Text)

	out = run(t, tbl, directive.DeleteFile, "main.go")
	assert.True(t, out.Failed)
	_, err = os.Stat(src)
	assert.NoError(t, err)

	out = run(t, tbl, directive.TestSelf, "")
	assert.Contains(t, out.Text, "PASS")
}

func TestSearchFiles(t *testing.T) {
	tbl, dir := newFileTable(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first\nNeedle here\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "b.txt"), []byte("needle\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("needle\n"), 0644))

	out := run(t, tbl, directive.SearchFiles, "needle")
	assert.Equal(t, "[SEARCH_FILES]: Found 1 matches:\na.txt:2: Needle here", out.Text)

	out = run(t, tbl, directive.SearchFiles, "absent\n.")
	assert.Equal(t, "[SEARCH_FILES]: No matches", out.Text)
}

func TestBlockedPaths(t *testing.T) {
	tbl, _ := newFileTable(t)
	out := run(t, tbl, directive.WriteFile, "/etc/ouro-test\nx")
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, "BLOCKED")
}
