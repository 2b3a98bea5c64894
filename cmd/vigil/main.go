// Command vigil watches coding-assistant sessions and shows their subagents
// and checklists in a live terminal dashboard.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drewfead/vigil/internal/config"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

var (
	cfg        *config.Config
	configPath string
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	defer logging.Flush(2 * time.Second)
	// Top-level panic recovery; runs before the flush above.
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Live dashboard for coding-assistant sessions",
	Long: `Vigil watches the session logs of a running coding assistant and shows,
per project, which subagents are running and how far the task checklist
has progressed.

Install the companion hook with "vigil install" for immediate
working/idle status and subagent completion.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	RunE:              runDashboard,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Track sessions headlessly and send notifications",
	Long: `Run the tracker without the dashboard. Logs go to the configured log file.
SIGHUP reloads notification settings; SIGINT or SIGTERM stops.`,
	RunE: runDaemon,
}

var hookCmd = &cobra.Command{
	Use:    "hook <event>",
	Short:  "Forward a hook payload from stdin to a running vigil",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	// The hook must never fail the assistant, so config errors fall back
	// to defaults and every error is swallowed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfigFile()
		if err != nil {
			loaded = config.DefaultConfig()
		}
		cfg = loaded
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		runHook(args[0], cmd.InOrStdin(), cmd.ErrOrStderr())
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the companion hook script and register it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd.OutOrStdout())
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the companion hook script and its registrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUninstall(cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hook installation and socket status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded tracker activity",
	Long: `List activity from the journal, newest first.

Examples:
  vigil history                  # Last 50 entries
  vigil history -p /work/app     # One project
  vigil history --since 2h -k subagent_started`,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		kind, _ := cmd.Flags().GetString("kind")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		return runHistory(cmd.OutOrStdout(), project, kind, since, limit)
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return runHistoryPrune(cmd.OutOrStdout(), olderThan)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vigil %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.config/vigil/config.yaml)")

	historyCmd.Flags().StringP("project", "p", "", "Filter by project path or identifier")
	historyCmd.Flags().StringP("kind", "k", "", "Filter by activity kind")
	historyCmd.Flags().Duration("since", 0, "Only show entries newer than this")
	historyCmd.Flags().IntP("limit", "l", 50, "Maximum entries to show")

	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete entries older than this")
	historyCmd.AddCommand(historyPruneCmd)

	rootCmd.AddCommand(daemonCmd, hookCmd, installCmd, uninstallCmd, statusCmd, historyCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg = loaded
	return nil
}

func loadConfigFile() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// initLogging configures the global logger. The dashboard owns the
// terminal, so without a log file its logs are discarded.
func initLogging(interactive bool) {
	lc := logging.Config{
		Level:     logging.ParseLevel(cfg.Daemon.LogLevel),
		SentryDSN: cfg.Daemon.SentryDSN,
		Env:       getEnv(),
		Version:   Version,
		LogFile:   cfg.Daemon.LogFile,
	}
	if interactive && lc.LogFile == "" {
		lc.Output = io.Discard
	}
	if err := logging.Init(lc); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
}

func getEnv() string {
	if env := os.Getenv("VIGIL_ENV"); env != "" {
		return env
	}
	return "development"
}
