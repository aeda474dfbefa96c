//go:build darwin || linux

package governor

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process with a fresh copy of the executable,
// keeping its arguments and environment. It only returns on failure.
func Exec() error {
	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(currentExe)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}
	return unix.Exec(realPath, os.Args, os.Environ())
}
