package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yagince/test-queue/internal/adapter"
	"github.com/yagince/test-queue/internal/runctx"
	"github.com/yagince/test-queue/internal/worker"
)

// NewWorkerCmd creates the hidden worker subcommand the supervisor
// re-invokes this binary with. Its exit status is the worker's failure
// count.
func NewWorkerCmd(a *App) *cobra.Command {
	var (
		num               int
		connect           string
		token             string
		scratch           string
		suiteDir          string
		earlyFailureLimit int
		verbose           bool
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Internal: worker process body",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			status := worker.Run(ctx, worker.Options{
				Num:               num,
				Connect:           connect,
				Token:             token,
				Scratch:           scratch,
				EarlyFailureLimit: earlyFailureLimit,
				Adapter:           adapter.NewScriptAdapter(suiteDir),
				Hooks:             runctx.Hooks{},
				Verbose:           verbose,
			})
			os.Exit(status)
			return nil
		},
	}

	cmd.Flags().IntVar(&num, "num", 0, "Worker number")
	cmd.Flags().StringVar(&connect, "connect", "", "Master endpoint to dial")
	cmd.Flags().StringVar(&token, "token", "", "Run token")
	cmd.Flags().StringVar(&scratch, "scratch", os.TempDir(), "Scratch directory")
	cmd.Flags().StringVar(&suiteDir, "suite-dir", ".", "Root directory of suite files")
	cmd.Flags().IntVar(&earlyFailureLimit, "early-failure-limit", 0, "Failures before KABOOM")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	return cmd
}
