package defaults

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestListDefaults(t *testing.T) {
	files, err := ListDefaults()
	if err != nil {
		t.Fatalf("ListDefaults failed: %v", err)
	}

	for _, exp := range []string{"SYSTEM.md", "reminders.json", "tasks.json"} {
		if !slices.Contains(files, exp) {
			t.Errorf("Expected file %s not found in %v", exp, files)
		}
	}
}

func TestGetDefault(t *testing.T) {
	content, err := GetDefault("SYSTEM.md")
	if err != nil {
		t.Fatalf("GetDefault failed: %v", err)
	}
	if len(content) == 0 {
		t.Error("SYSTEM.md content is empty")
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("OURO_DATA_DIR", "/tmp/ouro-test")
	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir failed: %v", err)
	}
	if dir != "/tmp/ouro-test" {
		t.Errorf("Expected override, got %s", dir)
	}
}

func TestEnsureDataDirKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "SYSTEM.md")
	if err := os.WriteFile(custom, []byte("mine"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDataDir(dir); err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}

	data, _ := os.ReadFile(custom)
	if string(data) != "mine" {
		t.Errorf("existing file was overwritten: %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "reminders.json")); err != nil {
		t.Errorf("reminders.json not copied: %v", err)
	}

	if err := Reset(dir); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	data, _ = os.ReadFile(custom)
	if string(data) == "mine" {
		t.Error("Reset did not restore SYSTEM.md")
	}
}
