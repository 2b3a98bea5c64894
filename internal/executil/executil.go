// Package executil runs the external helpers vigil shells out to (pgrep,
// notify-send, osascript, terminal launchers) with a sanitized PATH.
package executil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var trustedDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
	"/opt/homebrew/bin",
}

// Command builds an exec.Cmd for name resolved against the sanitized PATH.
func Command(name string, args ...string) (*exec.Cmd, error) {
	return CommandContext(context.Background(), name, args...)
}

// CommandContext is Command bound to ctx.
func CommandContext(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	dirs := searchDirs()
	path, err := lookPath(name, dirs)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = withPath(os.Environ(), dirs)
	return cmd, nil
}

// Run executes name and returns its combined output in the error on failure.
func Run(ctx context.Context, name string, args ...string) error {
	cmd, err := CommandContext(ctx, name, args...)
	if err != nil {
		return err
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Available reports whether name resolves on the sanitized PATH.
func Available(name string) bool {
	_, err := lookPath(name, searchDirs())
	return err == nil
}

// searchDirs returns the trusted directories plus any PATH entries that are
// absolute, existing and not group or world writable.
func searchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(dir)
		if dir == "" || !filepath.IsAbs(dir) || seen[dir] {
			return
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.Mode().Perm()&0o022 != 0 {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}

	for _, dir := range trustedDirs {
		add(dir)
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		add(dir)
	}
	return dirs
}

func lookPath(name string, dirs []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return filepath.Clean(name), nil
		}
		return "", fmt.Errorf("executable not found: %s", name)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("executable not found in safe PATH: %s", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

func withPath(env, dirs []string) []string {
	if len(dirs) == 0 {
		return env
	}
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, "PATH=") {
			out = append(out, kv)
		}
	}
	return append(out, "PATH="+strings.Join(dirs, string(os.PathListSeparator)))
}
