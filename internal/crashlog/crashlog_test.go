package crashlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/neboloop/ouro/internal/db"
)

func TestPersistsEntries(t *testing.T) {
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "ouro.db"))
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	defer sqlDB.Close()
	Init(sqlDB)
	defer Init(nil)

	LogError("engine", errors.New("boom"), map[string]string{"depth": "3"})
	LogWarn("channels", "telegram flapping", nil)
	func() {
		defer func() {
			if r := recover(); r != nil {
				LogPanic("actions", r, nil)
			}
		}()
		panic("handler exploded")
	}()

	entries, err := Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != "panic" || entries[0].Message != "handler exploded" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[2].Module != "engine" {
		t.Errorf("oldest entry = %+v", entries[2])
	}
}

func TestSafeWithoutInit(t *testing.T) {
	Init(nil)
	LogError("x", errors.New("no db"), nil)
	LogPanic("x", "no db", nil)
	entries, err := Recent(context.Background(), 5)
	if err != nil || entries != nil {
		t.Errorf("Recent without db = %v, %v", entries, err)
	}
}
