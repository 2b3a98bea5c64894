// Package terminal opens a terminal emulator at a project directory.
package terminal

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/drewfead/vigil/internal/executil"
)

// ErrNoTerminal is returned when no supported terminal emulator is installed.
var ErrNoTerminal = errors.New("no supported terminal emulator found")

// linuxTerminals are tried in order when no app is configured.
var linuxTerminals = []string{"ghostty", "kitty", "wezterm", "gnome-terminal", "konsole"}

// Launcher starts a terminal window in a working directory.
type Launcher struct {
	// App overrides the emulator. On macOS it is an application name for
	// "open -a"; elsewhere it is an executable.
	App string

	goos      string
	available func(name string) bool
	start     func(name string, args ...string) error
}

// NewLauncher creates a launcher for the current platform.
func NewLauncher(app string) *Launcher {
	return &Launcher{
		App:       app,
		goos:      runtime.GOOS,
		available: executil.Available,
		start:     startDetached,
	}
}

// Open starts a terminal window whose working directory is dir.
func (l *Launcher) Open(dir string) error {
	if dir == "" {
		return errors.New("open terminal: empty directory")
	}
	name, args, err := l.Command(dir)
	if err != nil {
		return err
	}
	if err := l.start(name, args...); err != nil {
		return fmt.Errorf("open terminal %s: %w", name, err)
	}
	return nil
}

// Command returns the program and arguments Open would run.
func (l *Launcher) Command(dir string) (string, []string, error) {
	if l.goos == "darwin" {
		app := l.App
		if app == "" {
			app = "Terminal"
		}
		return "open", []string{"-a", app, dir}, nil
	}

	if l.App != "" {
		return l.App, workingDirArgs(l.App, dir), nil
	}
	for _, name := range linuxTerminals {
		if l.available(name) {
			return name, workingDirArgs(name, dir), nil
		}
	}
	return "", nil, ErrNoTerminal
}

func workingDirArgs(name, dir string) []string {
	switch name {
	case "kitty":
		return []string{"--directory", dir}
	case "wezterm":
		return []string{"start", "--cwd", dir}
	case "konsole":
		return []string{"--workdir", dir}
	default:
		return []string{"--working-directory=" + dir}
	}
}

func startDetached(name string, args ...string) error {
	cmd, err := executil.Command(name, args...)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
