package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/drewfead/vigil/internal/app"
	"github.com/drewfead/vigil/internal/config"
	"github.com/drewfead/vigil/internal/hooks"
	"github.com/drewfead/vigil/internal/installer"
	"github.com/drewfead/vigil/internal/journal"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/projectdir"
	"github.com/drewfead/vigil/internal/terminal"
	"github.com/drewfead/vigil/internal/tui/dashboard"
	"github.com/spf13/cobra"
)

// maxHookInput bounds how much of the hook payload is read from stdin.
const maxHookInput = 1 << 20

func runDashboard(cmd *cobra.Command, args []string) error {
	initLogging(true)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown()
	if err := a.Start(); err != nil {
		return err
	}

	model := dashboard.New(a.Engine()).
		WithOpener(terminal.NewLauncher(cfg.UI.Terminal)).
		WithRefreshInterval(cfg.UI.RefreshInterval)
	return dashboard.Run(model)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	initLogging(false)

	a, err := app.New(cfg, app.WithConfigLoader(loadConfigFile))
	if err != nil {
		logging.Error("failed to initialize vigil", "error", err)
		return err
	}

	logging.Info("starting vigil daemon",
		"version", Version,
		"projects_dir", cfg.Claude.ProjectsDir,
		"socket", cfg.Hooks.Socket,
		"sentry", cfg.Daemon.SentryDSN != "",
	)
	if err := a.Run(); err != nil {
		logging.Error("daemon error", "error", err)
		return err
	}
	return nil
}

// runHook forwards one hook invocation. Failures are reported on stderr
// only; the caller always sees success.
func runHook(eventName string, stdin io.Reader, stderr io.Writer) {
	data, err := io.ReadAll(io.LimitReader(stdin, maxHookInput))
	if err != nil {
		fmt.Fprintf(stderr, "vigil hook: read input: %v\n", err)
		return
	}
	ev, err := hooks.FromHookInput(eventName, data)
	if err != nil {
		fmt.Fprintf(stderr, "vigil hook: %v\n", err)
		return
	}
	if err := hooks.Emit(hookSocket(), ev, cfg.Hooks.DialTimeout); err != nil {
		fmt.Fprintf(stderr, "vigil hook: %v\n", err)
	}
}

func hookSocket() string {
	if s := os.Getenv("VIGIL_SOCKET"); s != "" {
		return s
	}
	return cfg.Hooks.Socket
}

func newInstaller() (*installer.Installer, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate vigil executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(binary); err == nil {
		binary = resolved
	}
	return &installer.Installer{
		ScriptPath:   cfg.Hooks.ScriptPath,
		SettingsPath: cfg.Claude.SettingsPath,
		Socket:       cfg.Hooks.Socket,
		Binary:       binary,
		TaskTool:     cfg.Claude.TaskTool,
	}, nil
}

func runInstall(out io.Writer) error {
	inst, err := newInstaller()
	if err != nil {
		return err
	}
	if err := inst.Install(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Installed hook script: %s\n", inst.ScriptPath)
	fmt.Fprintf(out, "Registered in:         %s\n", inst.SettingsPath)
	return nil
}

func runUninstall(out io.Writer) error {
	inst, err := newInstaller()
	if err != nil {
		return err
	}
	if err := inst.Uninstall(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed hook script and registrations from %s\n", inst.SettingsPath)
	return nil
}

func runStatus(out io.Writer) error {
	inst, err := newInstaller()
	if err != nil {
		return err
	}
	st, err := inst.Status()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Hook script:\t%s\t%s\n", inst.ScriptPath, presence(st.ScriptPresent))
	fmt.Fprintf(w, "Settings:\t%s\t\n", inst.SettingsPath)
	for _, kind := range st.Registered {
		fmt.Fprintf(w, "  %s\tregistered\t\n", kind)
	}
	for _, kind := range st.Missing {
		fmt.Fprintf(w, "  %s\tmissing\t\n", kind)
	}

	socketState := "not listening"
	if info, err := os.Stat(cfg.Hooks.Socket); err == nil && info.Mode()&os.ModeSocket != 0 {
		socketState = "listening"
	}
	fmt.Fprintf(w, "Socket:\t%s\t%s\n", cfg.Hooks.Socket, socketState)
	w.Flush()

	if !st.Installed() {
		fmt.Fprintln(out, "\nRun \"vigil install\" to enable lifecycle events.")
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func openJournal() (*journal.Journal, error) {
	if _, err := os.Stat(cfg.Journal.Database); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no journal at %s (is journal.enabled set?)", cfg.Journal.Database)
	}
	return journal.Open(cfg.Journal.Database, 1)
}

func runHistory(out io.Writer, project, kind string, since time.Duration, limit int) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	f := journal.Filter{Kind: kind, Limit: limit}
	if project != "" {
		// Accept either a path or an identifier.
		f.ProjectID = project
		if strings.HasPrefix(project, "/") || strings.HasPrefix(project, "~") {
			f.ProjectID = projectdir.Encode(projectdir.Normalize(config.ExpandHome(project)))
		}
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}

	entries, err := j.List(context.Background(), f)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No activity recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tPROJECT\tSUBJECT\tDETAIL")
	fmt.Fprintln(w, "----\t----\t-------\t-------\t------")
	for _, e := range entries {
		name := projectdir.DisplayName(e.Path)
		if name == "" {
			name = e.ProjectID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, name, e.SubjectID, e.Detail)
	}
	return w.Flush()
}

func runHistoryPrune(out io.Writer, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	n, err := j.Prune(context.Background(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pruned %d entries older than %s\n", n, olderThan)
	return nil
}
