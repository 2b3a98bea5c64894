// Package projectdir understands the session log directory layout: one
// subdirectory per working directory, named by replacing each "/" in the
// absolute path with "-", holding one primary log per session.
//
//	<root>/-Users-me-src-app/<sessionId>.jsonl            primary log
//	<root>/-Users-me-src-app/<sessionId>/subagents/*.jsonl nested log
package projectdir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Root is the canonical marker for the filesystem root.
const Root = "/"

// Normalize resolves p to a canonical absolute form: relative paths are made
// absolute, symlinks are resolved when the path exists, trailing separators
// are stripped and the root collapses to "/". Empty input stays empty.
func Normalize(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == "" || p == "." || strings.Trim(p, "/") == "" {
		return Root
	}
	return strings.TrimRight(p, "/")
}

// Encode maps an absolute path onto its directory name.
func Encode(p string) string {
	if p == "" {
		return ""
	}
	if strings.Trim(p, "/") == "" {
		return "-"
	}
	return strings.ReplaceAll(strings.TrimRight(p, "/"), "/", "-")
}

// Decode reverses Encode. The transform is lossy for paths containing "-",
// so a cwd recorded in the log always wins over the decoded name.
func Decode(name string) string {
	if name == "" {
		return ""
	}
	if name == "-" {
		return Root
	}
	p := strings.ReplaceAll(name, "-", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// DisplayName returns the trailing path segment, or "/" for the root.
func DisplayName(p string) string {
	if p == "" {
		return ""
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return Root
	}
	return filepath.Base(trimmed)
}

// Legacy subagent logs were written flat, next to the session log.
const sidechainPrefix = "agent-"

// LogFile describes a log path relative to the projects root.
type LogFile struct {
	Path      string
	DirName   string // encoded project directory
	SessionID string // file stem of the primary log; owning session for nested logs
	Primary   bool
}

// Classify inspects path and reports whether it lives under root with the
// given extension. Primary logs sit directly inside a project directory;
// anything deeper is a nested (per-subagent) log.
func Classify(root, ext, path string) (LogFile, bool) {
	if root == "" || path == "" {
		return LogFile{}, false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return LogFile{}, false
	}
	if filepath.Ext(path) != ext {
		return LogFile{}, false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return LogFile{}, false
	}

	lf := LogFile{Path: path, DirName: parts[0]}
	if len(parts) == 2 {
		if isSidechain(parts[1]) {
			return LogFile{}, false
		}
		lf.Primary = true
		lf.SessionID = strings.TrimSuffix(parts[1], ext)
	} else {
		lf.SessionID = parts[1]
	}
	return lf, lf.SessionID != ""
}

// isSidechain reports whether a file sitting directly in a project
// directory is a legacy per-subagent log rather than a session log.
func isSidechain(name string) bool {
	return strings.HasPrefix(name, sidechainPrefix)
}

// Discover lists every primary log currently under root. A missing root
// yields no logs and no error.
func Discover(root, ext string) ([]LogFile, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var logs []LogFile
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ext || isSidechain(e.Name()) {
				continue
			}
			logs = append(logs, LogFile{
				Path:      filepath.Join(root, d.Name(), e.Name()),
				DirName:   d.Name(),
				SessionID: strings.TrimSuffix(e.Name(), ext),
				Primary:   true,
			})
		}
	}
	return logs, nil
}
