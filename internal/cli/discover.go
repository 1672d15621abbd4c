package cli

import (
	"github.com/spf13/cobra"

	"github.com/yagince/test-queue/internal/adapter"
	"github.com/yagince/test-queue/internal/discovery"
	"github.com/yagince/test-queue/internal/runctx"
)

// NewDiscoverCmd creates the hidden discovery subcommand. SIGINT handling
// lives in discovery.Run itself: the master interrupts the child to tell
// it to finish early, and the child exits 0.
func NewDiscoverCmd(a *App) *cobra.Command {
	var (
		connect  string
		token    string
		suiteDir string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:    "discover",
		Short:  "Internal: suite discovery process body",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return discovery.Run(discovery.Options{
				Connect: connect,
				Token:   token,
				Adapter: adapter.NewScriptAdapter(suiteDir),
				Log:     runctx.NewLogger(token, "discovery", verbose),
			})
		},
	}

	cmd.Flags().StringVar(&connect, "connect", "", "Master endpoint to dial")
	cmd.Flags().StringVar(&token, "token", "", "Run token")
	cmd.Flags().StringVar(&suiteDir, "suite-dir", ".", "Root directory of suite files")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	return cmd
}
