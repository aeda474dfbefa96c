package actions

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Safeguards are hard limits checked before any shell command or file
// mutation. No mode or setting disables them.

// CheckCommand returns an error when cmd would escalate privileges or damage
// the host.
func CheckCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}
	lower := strings.ToLower(cmd)

	if hasSudo(lower) {
		return fmt.Errorf("BLOCKED: sudo is not permitted. Run elevated commands manually in a terminal")
	}
	if hasSu(lower) {
		return fmt.Errorf("BLOCKED: su is not permitted")
	}
	if reason := destructiveCommand(cmd, lower); reason != "" {
		return fmt.Errorf("BLOCKED: %s", reason)
	}
	return nil
}

// CheckPath returns an error when path lies inside a protected system or
// credential location. verb names the operation for the message.
func CheckPath(verb, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	if reason := protectedPath(abs); reason != "" {
		return fmt.Errorf("BLOCKED: cannot %s %q: %s", verb, path, reason)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
		if reason := protectedPath(resolved); reason != "" {
			return fmt.Errorf("BLOCKED: cannot %s %q: %s", verb, path, reason)
		}
	}
	return nil
}

func hasSudo(lower string) bool {
	if strings.HasPrefix(lower, "sudo ") || strings.HasPrefix(lower, "sudo\t") {
		return true
	}
	for _, sep := range []string{
		"| sudo ", "&& sudo ", "; sudo ", "|| sudo ",
		"$(sudo ", "`sudo ",
	} {
		if strings.Contains(lower, sep) {
			return true
		}
	}
	return false
}

func hasSu(lower string) bool {
	if lower == "su" || strings.HasPrefix(lower, "su ") || strings.HasPrefix(lower, "su\t") {
		return true
	}
	for _, sep := range []string{"| su ", "&& su ", "; su ", "|| su "} {
		if strings.Contains(lower, sep) {
			return true
		}
	}
	return false
}

var formatCommands = []struct {
	pattern string
	reason  string
}{
	{"mkfs", "cannot format filesystems"},
	{"fdisk", "cannot modify partition tables"},
	{"gdisk", "cannot modify partition tables"},
	{"sfdisk", "cannot modify partition tables"},
	{"cfdisk", "cannot modify partition tables"},
	{"sgdisk", "cannot modify partition tables"},
	{"parted", "cannot modify partitions"},
	{"wipefs", "cannot wipe filesystem signatures"},
	{"diskutil erasedisk", "cannot erase disks"},
	{"diskutil erasevolume", "cannot erase volumes"},
	{"diskutil partitiondisk", "cannot partition disks"},
}

func destructiveCommand(cmd, lower string) string {
	if isRootWipe(lower) {
		return "cannot delete the root filesystem"
	}
	if strings.Contains(lower, "dd ") && (strings.Contains(lower, "of=/dev/") || strings.Contains(lower, "of= /dev/")) {
		return "cannot write to block devices with dd"
	}
	for _, fc := range formatCommands {
		if strings.HasPrefix(lower, fc.pattern) || strings.Contains(lower, " "+fc.pattern) {
			return fc.reason
		}
	}
	if strings.Contains(cmd, ":(){ :|:& };:") {
		return "fork bomb detected"
	}
	if strings.Contains(lower, "> /dev/") || strings.Contains(lower, ">/dev/") {
		safe := false
		for _, d := range []string{"/dev/null", "/dev/stdout", "/dev/stderr"} {
			if strings.Contains(lower, "> "+d) || strings.Contains(lower, ">"+d) {
				safe = true
				break
			}
		}
		if !safe {
			return "cannot write to device files"
		}
	}
	if strings.HasPrefix(lower, "rm ") || strings.Contains(lower, " rm ") {
		if reason := pathArgs("delete", cmd, 0); reason != "" {
			return reason
		}
	}
	if strings.HasPrefix(lower, "chmod ") || strings.HasPrefix(lower, "chown ") {
		if reason := pathArgs("change permissions on", cmd, 5); reason != "" {
			return reason
		}
	}
	return ""
}

func isRootWipe(lower string) bool {
	for _, p := range []string{
		"rm -rf /", "rm -fr /",
		"rm -rf --no-preserve-root /",
	} {
		idx := strings.Index(lower, p)
		if idx < 0 {
			continue
		}
		after := lower[idx+len(p):]
		if after == "" || after[0] == '*' || after[0] == ' ' || after[0] == '\n' || after[0] == ';' || after[0] == '&' {
			return true
		}
	}
	return false
}

// pathArgs checks the non-flag arguments of cmd. Arguments no longer than
// skipShort without a slash are taken as modes or owners.
func pathArgs(verb, cmd string, skipShort int) string {
	parts := strings.Fields(cmd)
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "-") {
			continue
		}
		if len(part) <= skipShort && !strings.Contains(part, "/") {
			continue
		}
		abs, err := filepath.Abs(part)
		if err != nil {
			continue
		}
		if reason := protectedPath(abs); reason != "" {
			return fmt.Sprintf("cannot %s %q: %s", verb, part, reason)
		}
	}
	return ""
}

type protectedPrefix struct {
	prefix string
	reason string
}

var linuxProtected = []protectedPrefix{
	{"/bin", "core system binaries"},
	{"/sbin", "core system admin binaries"},
	{"/usr/bin", "system binaries"},
	{"/usr/sbin", "system admin binaries"},
	{"/usr/lib", "system libraries"},
	{"/usr/libexec", "system executables"},
	{"/usr/share", "system shared data"},
	{"/boot", "boot loader and kernel"},
	{"/etc", "system configuration"},
	{"/proc", "kernel process filesystem"},
	{"/sys", "kernel sysfs"},
	{"/dev", "device files"},
	{"/var/lib/dpkg", "package manager database"},
	{"/var/lib/rpm", "package manager database"},
	{"/var/lib/apt", "package manager cache"},
}

var darwinProtected = []protectedPrefix{
	{"/System", "macOS system files"},
	{"/usr/bin", "system binaries"},
	{"/usr/sbin", "system admin binaries"},
	{"/usr/lib", "system libraries"},
	{"/usr/libexec", "system executables"},
	{"/usr/share", "system shared data"},
	{"/bin", "core system binaries"},
	{"/sbin", "core system admin binaries"},
	{"/private/var/db", "macOS system databases"},
	{"/Library/LaunchDaemons", "system launch daemons"},
	{"/Library/LaunchAgents", "system launch agents"},
	{"/etc", "system configuration"},
}

var userProtected = []protectedPrefix{
	{".ssh", "SSH keys and configuration"},
	{".gnupg", "GPG keys and configuration"},
	{".aws/credentials", "AWS credentials"},
	{".aws/config", "AWS configuration"},
	{".kube/config", "Kubernetes credentials"},
	{".docker/config.json", "Docker registry credentials"},
}

func protectedPath(abs string) string {
	abs = filepath.Clean(abs)
	if abs == "/" {
		return "this is the root filesystem"
	}
	list := linuxProtected
	if runtime.GOOS == "darwin" {
		list = darwinProtected
	}
	for _, p := range list {
		if abs == p.prefix || strings.HasPrefix(abs, p.prefix+"/") {
			return p.reason
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, p := range userProtected {
		full := filepath.Join(home, p.prefix)
		if abs == full || strings.HasPrefix(abs, full+"/") {
			return p.reason
		}
	}
	return ""
}
