// Package driver orchestrates the run lifecycle: listener, hooks,
// discovery, workers, dispatch loop, summary, exit status. Cleanup is
// guaranteed on every exit path.
package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/config"
	"github.com/yagince/test-queue/internal/discovery"
	"github.com/yagince/test-queue/internal/master"
	"github.com/yagince/test-queue/internal/metrics"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/queue"
	"github.com/yagince/test-queue/internal/runctx"
	"github.com/yagince/test-queue/internal/stats"
	"github.com/yagince/test-queue/internal/worker"
)

// Deps bundles the process-spawning factories. They live here rather than
// in runctx because they encode the binary's hidden subcommand surface.
type Deps struct {
	// WorkerCommand builds the worker subprocess for worker number num.
	WorkerCommand worker.CommandFactory

	// DiscoveryCommand builds the discovery subprocess.
	DiscoveryCommand func() *exec.Cmd
}

// Driver runs one primary or relay lifecycle.
type Driver struct {
	rctx *runctx.Context
	deps Deps
	log  *zap.Logger
}

// BuildContext resolves the immutable run context from validated
// configuration. A relay endpoint equal to the listen endpoint disables
// relay mode with a warning.
func BuildContext(cfg *config.Config, hooks runctx.Hooks, log *zap.Logger) (*runctx.Context, error) {
	token := cfg.RelayToken
	if token == "" {
		var err error
		if token, err = runctx.NewToken(); err != nil {
			return nil, err
		}
	}

	runID, err := runctx.NewRunID()
	if err != nil {
		return nil, err
	}

	scratch := os.TempDir()

	listen := cfg.ListenEndpoint
	if listen == "" {
		listen = runctx.DefaultSocketPath(scratch, runID)
	}

	relay := cfg.RelayEndpoint
	if relay != "" && relay == cfg.ListenEndpoint {
		log.Warn("relay endpoint equals own endpoint, disabling relay mode",
			zap.String("endpoint", relay))
		relay = ""
	}

	if hooks.QueueStatus == nil {
		hooks.QueueStatus = metrics.Observe
	}

	return &runctx.Context{
		Token:               token,
		RunID:               runID,
		Scratch:             scratch,
		Concurrency:         cfg.Concurrency,
		Whitelist:           cfg.WhitelistNames(),
		ListenEndpoint:      listen,
		RelayEndpoint:       relay,
		RelayConnectTimeout: time.Duration(cfg.RelayConnectTimeoutSeconds) * time.Second,
		SlaveMessage:        strings.ReplaceAll(cfg.SlaveMessage, "\n", " "),
		EarlyFailureLimit:   cfg.EarlyFailureLimit,
		StatsPath:           cfg.StatsFilePath,
		Verbose:             cfg.Verbose,
		Hooks:               hooks,
		Log:                 log,
	}, nil
}

// New creates a driver.
func New(rctx *runctx.Context, deps Deps, log *zap.Logger) *Driver {
	return &Driver{rctx: rctx, deps: deps, log: log}
}

// Run executes the lifecycle and returns the process exit status: the
// saturating sum of worker exit statuses, clamped to 255. Abort paths
// return a non-nil error and a non-zero status.
func (d *Driver) Run(ctx context.Context) (int, error) {
	if d.rctx.RelayMode() {
		return d.runRelay(ctx)
	}
	return d.runPrimary(ctx)
}

func (d *Driver) runPrimary(ctx context.Context) (int, error) {
	store, err := stats.Open(d.rctx.StatsPath)
	if err != nil {
		return 1, err
	}
	defer store.Close()

	times, err := store.Load()
	if err != nil {
		return 1, err
	}

	q := queue.New(d.rctx.Whitelist)
	q.Seed(timedSuites(times))

	sup := worker.NewSupervisor(d.rctx.Scratch, d.deps.WorkerCommand, d.log)
	m := master.New(d.rctx, q, sup, d.log)

	if err := m.Listen(); err != nil {
		return 1, err
	}
	defer m.Close()

	if hook := d.rctx.Hooks.Prepare; hook != nil {
		if err := hook(d.rctx.Concurrency); err != nil {
			return 1, fmt.Errorf("prepare hook: %w", err)
		}
	}

	// Discovery runs unless the whitelist is already fully satisfied by
	// stats.
	var child *discovery.Child
	if len(d.rctx.Whitelist) == 0 || len(m.AwaitedNames()) > 0 {
		child, err = discovery.StartChild(d.deps.DiscoveryCommand())
		if err != nil {
			return 1, err
		}
		m.SetDiscovery(child)
	}

	if err := sup.Spawn(d.rctx.Concurrency); err != nil {
		if child != nil {
			child.Kill()
		}
		sup.KillAll()
		sup.ReapAll()
		return 1, err
	}

	loopErr := m.Loop(ctx)

	completed := append(sup.Completed(), m.RemoteCompleted()...)

	if err := saveStats(store, completed); err != nil {
		d.log.Warn("save stats", zap.Error(err))
	}

	d.summarize(completed)

	if loopErr != nil {
		return 1, loopErr
	}
	return exitStatus(completed), nil
}

func (d *Driver) runRelay(ctx context.Context) (int, error) {
	sup := worker.NewSupervisor(d.rctx.Scratch, d.deps.WorkerCommand, d.log)

	if hook := d.rctx.Hooks.Prepare; hook != nil {
		if err := hook(d.rctx.Concurrency); err != nil {
			return 1, fmt.Errorf("prepare hook: %w", err)
		}
	}

	relay, err := master.NewRelay(d.rctx, d.log)
	if err != nil {
		return 1, err
	}
	if err := relay.Handshake(); err != nil {
		return 1, err
	}
	sup.OnReap = relay.ForwardWorker

	if err := sup.Spawn(d.rctx.Concurrency); err != nil {
		sup.KillAll()
		sup.ReapAll()
		return 1, err
	}

	// Wait for workers, hard-killing on external cancellation.
	done := make(chan struct{})
	go func() {
		sup.ReapAll()
		close(done)
	}()
	var aborted bool
	select {
	case <-done:
	case <-ctx.Done():
		aborted = true
		sup.KillAll()
		<-done
	}

	completed := sup.Completed()
	d.summarize(completed)

	if aborted {
		return 1, ctx.Err()
	}
	return exitStatus(completed), nil
}

// exitStatus is the saturating sum of worker exit statuses, clamped to 255.
func exitStatus(completed []*protocol.WorkerRecord) int {
	sum := 0
	for _, rec := range completed {
		sum += rec.ExitStatus
		if sum >= 255 {
			return 255
		}
	}
	return sum
}

func timedSuites(times []stats.SuiteTime) []queue.TimedSuite {
	out := make([]queue.TimedSuite, 0, len(times))
	for _, t := range times {
		out = append(out, queue.TimedSuite{
			Pair:     protocol.SuitePair{Name: t.Name, Path: t.Path},
			Duration: t.DurationSeconds,
		})
	}
	return out
}

// saveStats merges every completed worker's suites_run into the store,
// overwriting stored durations with this run's observations.
func saveStats(store *stats.Store, completed []*protocol.WorkerRecord) error {
	var times []stats.SuiteTime
	for _, rec := range completed {
		for _, result := range rec.SuitesRun {
			times = append(times, stats.SuiteTime{
				Name:            result.Name,
				Path:            result.Path,
				DurationSeconds: result.DurationSeconds,
			})
		}
	}
	if len(times) == 0 {
		return nil
	}
	return store.Save(times)
}
