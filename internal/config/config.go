// Package config handles vigil configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for vigil.
type Config struct {
	Claude        ClaudeConfig        `yaml:"claude"`
	Hooks         HooksConfig         `yaml:"hooks"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Journal       JournalConfig       `yaml:"journal"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	UI            UIConfig            `yaml:"ui"`
}

// ClaudeConfig describes where the monitored CLI keeps its session logs and
// which tool names carry subagent and checklist semantics.
type ClaudeConfig struct {
	ProjectsDir    string `yaml:"projects_dir"`
	LogExt         string `yaml:"log_ext"`
	ProcessName    string `yaml:"process_name"`
	SettingsPath   string `yaml:"settings_path"`
	TaskTool       string `yaml:"task_tool"`        // delegated parallel task
	TaskCreateTool string `yaml:"task_create_tool"` // checklist item creation
	TaskUpdateTool string `yaml:"task_update_tool"` // checklist status update
}

// HooksConfig defines the side-channel socket and companion script.
type HooksConfig struct {
	Socket          string        `yaml:"socket"`
	ScriptPath      string        `yaml:"script_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// MonitorConfig controls polling cadence.
type MonitorConfig struct {
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	OnStop bool `yaml:"on_stop"`
}

// JournalConfig controls the SQLite activity journal.
type JournalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Database string `yaml:"database"`
	Buffer   int    `yaml:"buffer"`
}

// DaemonConfig defines logging for the long-running process.
type DaemonConfig struct {
	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// UIConfig defines TUI appearance.
type UIConfig struct {
	Theme           string        `yaml:"theme"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Terminal        string        `yaml:"terminal"` // app used by "open in terminal"; empty picks one
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Claude: ClaudeConfig{
			ProjectsDir:    filepath.Join(homeDir, ".claude", "projects"),
			LogExt:         ".jsonl",
			ProcessName:    "claude",
			SettingsPath:   filepath.Join(homeDir, ".claude", "settings.json"),
			TaskTool:       "Task",
			TaskCreateTool: "TaskCreate",
			TaskUpdateTool: "TaskUpdate",
		},
		Hooks: HooksConfig{
			Socket:          "/tmp/vigil.sock",
			ScriptPath:      filepath.Join(homeDir, ".config", "vigil", "hooks", "vigil-hook.sh"),
			ReadTimeout:     2 * time.Second,
			MaxMessageBytes: 64 * 1024,
			DialTimeout:     500 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			LivenessInterval: 2 * time.Second,
			RefreshInterval:  3 * time.Second,
		},
		Notifications: NotificationsConfig{
			OnStop: true,
		},
		Journal: JournalConfig{
			Enabled:  true,
			Database: filepath.Join(homeDir, ".local/share/vigil/journal.db"),
			Buffer:   256,
		},
		Daemon: DaemonConfig{
			LogFile:  filepath.Join(homeDir, ".local/share/vigil/vigil.log"),
			LogLevel: "info",
		},
		UI: UIConfig{
			Theme:           "tokyo-night",
			RefreshInterval: time.Second,
		},
	}
}

// Load reads configuration from the default path or returns the defaults.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path, layering it over the defaults.
// A missing file is not an error.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	cfg.expandHome()
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("VIGIL_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/vigil/config.yaml")
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
}

// expandHome resolves a leading "~/" in user-supplied paths.
func (c *Config) expandHome() {
	for _, p := range []*string{
		&c.Claude.ProjectsDir,
		&c.Claude.SettingsPath,
		&c.Hooks.ScriptPath,
		&c.Journal.Database,
		&c.Daemon.LogFile,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !(len(p) > 1 && p[0] == '~' && p[1] == '/') {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, p[1:])
}
