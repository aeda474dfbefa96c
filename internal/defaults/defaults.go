// Package defaults provides embedded default files for the agent's data directory.
// These are copied on first run or when reset is requested.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/Ouro/
//	Linux:   ~/.config/ouro/
//
// Override with OURO_DATA_DIR environment variable.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotouro/*
var defaultFiles embed.FS

// DataDir returns the platform-appropriate data directory.
// Set OURO_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("OURO_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "ouro"), nil
	}
	return filepath.Join(configDir, "Ouro"), nil
}

// EnsureDataDir creates dir if it doesn't exist and copies default files
// that are missing.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return copyDefaults(dir, false)
}

// Reset replaces the default files in dir. Conversation, state and database
// files are not defaults and are left alone.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotouro", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotouro" {
			return nil
		}

		// embed.FS always uses forward slashes
		relPath := strings.TrimPrefix(path, "dotouro/")
		destPath := filepath.Join(dir, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
// Example: GetDefault("SYSTEM.md")
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile("dotouro/" + name)
}

// ListDefaults returns the names of all default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotouro", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path != "dotouro" {
			files = append(files, strings.TrimPrefix(path, "dotouro/"))
		}
		return nil
	})
	return files, err
}
