// Package installer writes the companion hook script and registers it in
// the monitored CLI's settings file.
package installer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/drewfead/vigil/internal/hooks"
)

const scriptTemplate = `#!/bin/sh
# Installed by vigil. Forwards hook events to the vigil socket.
# Usage: %[1]s <event>   (hook payload on stdin)
[ -S %[2]s ] || exit 0
VIGIL_SOCKET=%[2]s %[3]s hook "$1" >/dev/null 2>&1
exit 0
`

// Installer manages the hook script and its registration.
type Installer struct {
	ScriptPath   string
	SettingsPath string
	Socket       string
	Binary       string // vigil executable the script invokes
	TaskTool     string // matcher for tool events
}

// Status describes what is currently installed.
type Status struct {
	ScriptPresent bool
	Registered    []hooks.Kind
	Missing       []hooks.Kind
}

// Installed reports whether the script exists and every event is registered.
func (s Status) Installed() bool {
	return s.ScriptPresent && len(s.Missing) == 0
}

// Script renders the companion script.
func (i *Installer) Script() string {
	return fmt.Sprintf(scriptTemplate, i.ScriptPath, shellQuote(i.Socket), shellQuote(i.Binary))
}

// shellQuote wraps s in single quotes so sh treats it literally.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Install writes the script and registers it for every lifecycle event.
// Running it again leaves a single registration per event.
func (i *Installer) Install() error {
	if i.Binary == "" {
		return errors.New("cannot install hook: vigil executable path is unknown")
	}
	if err := os.MkdirAll(filepath.Dir(i.ScriptPath), 0o755); err != nil {
		return fmt.Errorf("create hook script directory: %w", err)
	}
	if err := os.WriteFile(i.ScriptPath, []byte(i.Script()), 0o755); err != nil {
		return fmt.Errorf("write hook script: %w", err)
	}

	settings, err := i.readSettings()
	if err != nil {
		return err
	}
	hookMap, err := hooksSection(settings)
	if err != nil {
		return err
	}

	for _, kind := range hooks.Kinds {
		groups, err := groupList(hookMap, kind)
		if err != nil {
			return err
		}
		groups = removeCommands(groups, i.ScriptPath)
		group := map[string]any{
			"hooks": []any{
				map[string]any{
					"type":    "command",
					"command": i.command(kind),
				},
			},
		}
		if toolScoped(kind) {
			group["matcher"] = i.taskTool()
		}
		hookMap[string(kind)] = append(groups, group)
	}
	settings["hooks"] = hookMap

	return i.writeSettings(settings)
}

// Uninstall removes every registration of the script and the script itself.
func (i *Installer) Uninstall() error {
	settings, err := i.readSettings()
	if err != nil {
		return err
	}
	hookMap, err := hooksSection(settings)
	if err != nil {
		return err
	}

	for _, kind := range hooks.Kinds {
		groups, err := groupList(hookMap, kind)
		if err != nil {
			return err
		}
		groups = removeCommands(groups, i.ScriptPath)
		if len(groups) == 0 {
			delete(hookMap, string(kind))
		} else {
			hookMap[string(kind)] = groups
		}
	}
	if len(hookMap) == 0 {
		delete(settings, "hooks")
	} else {
		settings["hooks"] = hookMap
	}

	if err := i.writeSettings(settings); err != nil {
		return err
	}
	if err := os.Remove(i.ScriptPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove hook script: %w", err)
	}
	return nil
}

// Status inspects the script and settings file.
func (i *Installer) Status() (Status, error) {
	var st Status
	if _, err := os.Stat(i.ScriptPath); err == nil {
		st.ScriptPresent = true
	}

	settings, err := i.readSettings()
	if err != nil {
		return st, err
	}
	hookMap, err := hooksSection(settings)
	if err != nil {
		return st, err
	}
	for _, kind := range hooks.Kinds {
		groups, err := groupList(hookMap, kind)
		if err != nil {
			return st, err
		}
		if hasCommand(groups, i.ScriptPath) {
			st.Registered = append(st.Registered, kind)
		} else {
			st.Missing = append(st.Missing, kind)
		}
	}
	return st, nil
}

func (i *Installer) command(kind hooks.Kind) string {
	return fmt.Sprintf("%s %s", i.ScriptPath, kind)
}

func (i *Installer) taskTool() string {
	if i.TaskTool == "" {
		return "Task"
	}
	return i.TaskTool
}

func toolScoped(kind hooks.Kind) bool {
	switch kind {
	case hooks.KindPreTool, hooks.KindPostTool, hooks.KindPostToolFailure:
		return true
	}
	return false
}

func (i *Installer) readSettings() (map[string]any, error) {
	raw, err := os.ReadFile(i.SettingsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", i.SettingsPath, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]any{}, nil
	}

	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", i.SettingsPath, err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// writeSettings replaces the settings file via a temp file and rename so a
// crash never leaves it half written.
func (i *Installer) writeSettings(settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(i.SettingsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("write settings %s: %w", i.SettingsPath, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings %s: %w", i.SettingsPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings %s: %w", i.SettingsPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", i.SettingsPath, err)
	}
	if err := os.Rename(tmp.Name(), i.SettingsPath); err != nil {
		return fmt.Errorf("write settings %s: %w", i.SettingsPath, err)
	}
	return nil
}

func hooksSection(settings map[string]any) (map[string]any, error) {
	val, ok := settings["hooks"]
	if !ok || val == nil {
		return map[string]any{}, nil
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("settings field \"hooks\" has unexpected type %T", val)
	}
	return m, nil
}

func groupList(hookMap map[string]any, kind hooks.Kind) ([]any, error) {
	val, ok := hookMap[string(kind)]
	if !ok || val == nil {
		return nil, nil
	}
	groups, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("settings field \"hooks.%s\" has unexpected type %T", kind, val)
	}
	return groups, nil
}

// removeCommands drops hook commands that invoke script, and any group left
// with no hooks.
func removeCommands(groups []any, script string) []any {
	out := make([]any, 0, len(groups))
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			out = append(out, g)
			continue
		}
		list, ok := group["hooks"].([]any)
		if !ok {
			out = append(out, g)
			continue
		}

		kept := make([]any, 0, len(list))
		for _, h := range list {
			if !invokes(h, script) {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			continue
		}
		group["hooks"] = kept
		out = append(out, group)
	}
	return out
}

func hasCommand(groups []any, script string) bool {
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		list, _ := group["hooks"].([]any)
		for _, h := range list {
			if invokes(h, script) {
				return true
			}
		}
	}
	return false
}

func invokes(hook any, script string) bool {
	m, ok := hook.(map[string]any)
	if !ok {
		return false
	}
	command, _ := m["command"].(string)
	return command == script || strings.HasPrefix(command, script+" ")
}
