package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/adapter"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

// waitBackoff is how long a worker sleeps after a WAIT reply.
const waitBackoff = 100 * time.Millisecond

// Options configures one worker process.
type Options struct {
	Num     int
	Connect string
	Token   string
	Scratch string

	// EarlyFailureLimit, when positive, escalates KABOOM after that many
	// failed suites.
	EarlyFailureLimit int

	Adapter adapter.Adapter
	Hooks   runctx.Hooks
	Verbose bool
}

// Run is the worker process body: request one suite at a time from the
// master, execute it, and hand the serialized results back through the
// scratch files. Returns the process exit status — the number of failed
// suites, clamped to 255.
func Run(ctx context.Context, opts Options) int {
	pid := os.Getpid()

	// The capture file doubles as the worker's log sink; the master reads
	// and deletes it at reap time.
	capture, err := os.Create(runctx.WorkerOutputPath(opts.Scratch, pid))
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: create capture file: %v\n", opts.Num, err)
		return 1
	}
	defer capture.Close()

	log := runctx.NewLoggerWithWriter(opts.Token, "worker", opts.Verbose, capture).
		With(zap.Int("worker", opts.Num))

	if opts.Hooks.AfterFork != nil {
		opts.Hooks.AfterFork(opts.Num)
	}

	client, err := protocol.NewClient(opts.Connect, opts.Token)
	if err != nil {
		log.Error("bad master endpoint", zap.Error(err))
		return 1
	}

	if opts.Hooks.RunWorker != nil {
		return opts.Hooks.RunWorker(func() *protocol.SuitePair {
			for {
				pair, wait, err := client.Pop()
				if err != nil {
					return nil
				}
				if wait {
					time.Sleep(waitBackoff)
					continue
				}
				return pair
			}
		})
	}

	var results []protocol.SuiteResult
	failures := 0

loop:
	for {
		if ctx.Err() != nil {
			break
		}

		pair, wait, err := client.Pop()
		switch {
		case errors.Is(err, protocol.ErrRunDone):
			break loop
		case errors.Is(err, protocol.ErrWrongRun):
			log.Info("wrong run token, treating run as over")
			break loop
		case err != nil:
			// Master gone; the run is over for us.
			log.Info("master unreachable, treating run as over", zap.Error(err))
			break loop
		case wait:
			time.Sleep(waitBackoff)
			continue
		}

		result := runSuite(ctx, opts, log, *pair)
		results = append(results, result)
		if len(result.Detail) > 0 {
			capture.Write(result.Detail)
		}

		if result.Status != protocol.SuitePassed {
			failures++
			if opts.EarlyFailureLimit > 0 && failures >= opts.EarlyFailureLimit {
				log.Info("early failure limit reached, sending KABOOM",
					zap.Int("failures", failures))
				if err := client.Kaboom(); err != nil {
					log.Warn("send KABOOM", zap.Error(err))
				}
				break loop
			}
		}
	}

	if err := writeSuitesFile(opts.Scratch, pid, results); err != nil {
		log.Error("write suites file", zap.Error(err))
		if failures == 0 {
			failures = 1
		}
	}

	if failures > 255 {
		return 255
	}
	return failures
}

func runSuite(ctx context.Context, opts Options, log *zap.Logger, pair protocol.SuitePair) protocol.SuiteResult {
	log.Debug("running suite", zap.String("name", pair.Name), zap.String("path", pair.Path))

	run := func() protocol.SuiteResult {
		suite, err := adapter.Resolve(opts.Adapter, pair)
		if err != nil || suite == nil {
			detail := fmt.Sprintf("suite %s not found in %s", pair.Name, pair.Path)
			if err != nil {
				detail = err.Error()
			}
			return protocol.SuiteResult{
				Name:   pair.Name,
				Path:   pair.Path,
				Status: protocol.SuiteErrored,
				Detail: []byte(detail),
			}
		}
		return suite.Run(ctx)
	}

	if opts.Hooks.AroundFilter != nil {
		return opts.Hooks.AroundFilter(pair, run)
	}
	return run()
}

func writeSuitesFile(scratch string, pid int, results []protocol.SuiteResult) error {
	data, err := protocol.EncodeSuiteResults(results)
	if err != nil {
		return err
	}
	return os.WriteFile(runctx.WorkerSuitesPath(scratch, pid), data, 0o644)
}
