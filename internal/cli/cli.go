// Package cli wires the cobra command surface: the public run and stats
// commands, and the hidden worker and discover subcommands the supervisor
// re-invokes this binary with.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/yagince/test-queue/internal/config"
)

// App represents the CLI application.
type App struct {
	rootCmd *cobra.Command

	configPath string
	verbose    bool

	// Version information
	version string
	commit  string
	date    string
}

// New creates a new CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version strings for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "testq",
		Short: "Distributed test executor",
		Long: `testq partitions a fixed set of test suites across worker processes on
one or more hosts, balances load by history-informed ordering, and
aggregates per-suite results into a single exit status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVar(&a.configPath, "config",
		config.DefaultConfigFile, "Path to yaml config file")
	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")

	a.rootCmd.AddCommand(
		NewRunCmd(a),
		NewWorkerCmd(a),
		NewDiscoverCmd(a),
		NewStatsCmd(a),
		NewVersionCmd(a),
	)
}
