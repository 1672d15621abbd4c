package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yagince/test-queue/internal/config"
	"github.com/yagince/test-queue/internal/driver"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

// RunOptions holds flags for the run command. Flags override the config
// file and environment.
type RunOptions struct {
	Concurrency       int
	ListenEndpoint    string
	RelayEndpoint     string
	RelayTimeout      int
	Whitelist         string
	StatsFilePath     string
	RelayToken        string
	SlaveMessage      string
	EarlyFailureLimit int
	SuiteDir          string
}

// NewRunCmd creates the run command.
func NewRunCmd(a *App) *cobra.Command {
	opts := RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the suite queue as primary master or relay",
		Long: `Run starts a master that dispatches suites to local worker processes.
With --relay it becomes a remote master federating its workers into a
primary on another host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a, cmd, opts)
			if err != nil {
				return err
			}

			status, err := runDriver(a, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if status != 0 {
				os.Exit(status)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Concurrency, "workers", "n", 0, "Number of local workers (default: CPU count)")
	cmd.Flags().StringVar(&opts.ListenEndpoint, "listen", "", "Listener endpoint: socket path or [host:]port")
	cmd.Flags().StringVar(&opts.RelayEndpoint, "relay", "", "Primary endpoint to federate into (relay mode)")
	cmd.Flags().IntVar(&opts.RelayTimeout, "relay-timeout", 0, "Relay connect timeout in seconds")
	cmd.Flags().StringVar(&opts.Whitelist, "force", "", "Comma-separated ordered suite whitelist")
	cmd.Flags().StringVar(&opts.StatsFilePath, "stats", "", "Path to the suite duration store")
	cmd.Flags().StringVar(&opts.RelayToken, "relay-token", "", "Fixed run token for coordinated multi-host runs")
	cmd.Flags().StringVar(&opts.SlaveMessage, "slave-message", "", "Message forwarded in the SLAVE handshake")
	cmd.Flags().IntVar(&opts.EarlyFailureLimit, "early-failure-limit", 0, "Failures per worker before KABOOM")
	cmd.Flags().StringVar(&opts.SuiteDir, "suite-dir", "", "Root directory of *.test suite files")

	return cmd
}

// loadConfig resolves config file + env, then applies changed flags on top.
func loadConfig(a *App, cmd *cobra.Command, opts RunOptions) (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}

	flagOverrides := map[string]func(){
		"workers":             func() { cfg.Concurrency = opts.Concurrency },
		"listen":              func() { cfg.ListenEndpoint = opts.ListenEndpoint },
		"relay":               func() { cfg.RelayEndpoint = opts.RelayEndpoint },
		"relay-timeout":       func() { cfg.RelayConnectTimeoutSeconds = opts.RelayTimeout },
		"force":               func() { cfg.Whitelist = opts.Whitelist },
		"stats":               func() { cfg.StatsFilePath = opts.StatsFilePath },
		"relay-token":         func() { cfg.RelayToken = opts.RelayToken },
		"slave-message":       func() { cfg.SlaveMessage = opts.SlaveMessage },
		"early-failure-limit": func() { cfg.EarlyFailureLimit = opts.EarlyFailureLimit },
		"suite-dir":           func() { cfg.SuiteDir = opts.SuiteDir },
	}
	for name, apply := range flagOverrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	if a.verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDriver(a *App, cfg *config.Config) (int, error) {
	bootLog := runctx.NewLogger("", "cli", cfg.Verbose)

	rctx, err := driver.BuildContext(cfg, runctx.Hooks{}, bootLog)
	if err != nil {
		return 1, err
	}

	role := "master"
	if rctx.RelayMode() {
		role = "relay"
	}
	log := runctx.NewLogger(rctx.RunID, role, cfg.Verbose)
	rctx.Log = log

	exe, err := os.Executable()
	if err != nil {
		return 1, fmt.Errorf("resolve own binary: %w", err)
	}

	deps := driver.Deps{
		WorkerCommand:    workerFactory(exe, rctx, cfg),
		DiscoveryCommand: discoveryFactory(exe, rctx, cfg),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return driver.New(rctx, deps, log).Run(ctx)
}

// workerConnect is the address workers dial for POP: the primary's
// listener in relay mode, our own otherwise, with the wildcard host
// rewritten to loopback for local dialing.
func workerConnect(rctx *runctx.Context) string {
	if rctx.RelayMode() {
		return rctx.RelayEndpoint
	}
	return dialable(rctx.ListenEndpoint)
}

func dialable(endpoint string) string {
	if strings.HasPrefix(endpoint, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(endpoint, "0.0.0.0")
	}
	if ep, err := protocol.ParseEndpoint(endpoint); err == nil &&
		ep.Network == "tcp" && strings.HasPrefix(ep.Addr, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(ep.Addr, "0.0.0.0")
	}
	return endpoint
}

func workerFactory(exe string, rctx *runctx.Context, cfg *config.Config) func(int) *exec.Cmd {
	connect := workerConnect(rctx)
	return func(num int) *exec.Cmd {
		args := []string{
			"worker",
			"--num", strconv.Itoa(num),
			"--connect", connect,
			"--token", rctx.Token,
			"--scratch", rctx.Scratch,
			"--suite-dir", cfg.SuiteDir,
		}
		if rctx.EarlyFailureLimit > 0 {
			args = append(args, "--early-failure-limit", strconv.Itoa(rctx.EarlyFailureLimit))
		}
		if rctx.Verbose {
			args = append(args, "--verbose")
		}
		return exec.Command(exe, args...)
	}
}

func discoveryFactory(exe string, rctx *runctx.Context, cfg *config.Config) func() *exec.Cmd {
	return func() *exec.Cmd {
		args := []string{
			"discover",
			"--connect", dialable(rctx.ListenEndpoint),
			"--token", rctx.Token,
			"--suite-dir", cfg.SuiteDir,
		}
		if rctx.Verbose {
			args = append(args, "--verbose")
		}
		cmd := exec.Command(exe, args...)
		cmd.Stderr = os.Stderr
		return cmd
	}
}
