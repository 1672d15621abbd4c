// Package runctx carries the per-run immutable context: the run token,
// scratch paths, concurrency, whitelist, and hook injection points. All of
// it is fixed at driver construction; nothing here mutates after startup.
package runctx

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/protocol"
)

// Hooks are the optional injection points a framework integration may
// supply. Nil fields mean default behavior.
type Hooks struct {
	// Prepare runs exactly once before any worker is spawned, e.g. to
	// create per-worker databases.
	Prepare func(concurrency int) error

	// AfterFork runs in each worker process before its loop starts.
	AfterFork func(num int)

	// AroundFilter wraps one suite execution and may short-circuit by
	// returning without calling run.
	AroundFilter func(pair protocol.SuitePair, run func() protocol.SuiteResult) protocol.SuiteResult

	// RunWorker, when set, replaces the worker's default execution loop.
	// It receives an iterator yielding the next dispatched suite (nil
	// once the run is over, WAIT handled internally) and returns the
	// worker exit status. The hook takes over result reporting.
	RunWorker func(next func() *protocol.SuitePair) int

	// Summarize runs after the built-in summary with the completed worker
	// records.
	Summarize func(completed []*protocol.WorkerRecord)

	// QueueStatus is the dispatch-loop heartbeat, called once per tick.
	// It must not block.
	QueueStatus func(start time.Time, queueLen, localWorkers, remoteWorkers int)
}

// Context is the immutable run context.
type Context struct {
	Token   string
	RunID   string
	Scratch string

	Concurrency int
	Whitelist   []string

	ListenEndpoint      string
	RelayEndpoint       string
	RelayConnectTimeout time.Duration
	SlaveMessage        string

	EarlyFailureLimit int
	StatsPath         string
	Verbose           bool

	Hooks Hooks
	Log   *zap.Logger
}

// RelayMode reports whether this process is a remote master.
func (c *Context) RelayMode() bool {
	return c.RelayEndpoint != ""
}

// NewToken returns a fresh random hex run token.
func NewToken() (string, error) {
	return randomHex(8)
}

// NewRunID returns a short random run identifier used in scratch paths.
func NewRunID() (string, error) {
	return randomHex(4)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DefaultSocketPath returns the default listener path for this process.
func DefaultSocketPath(scratch, runID string) string {
	return filepath.Join(scratch, fmt.Sprintf("test_queue_%d_%s.sock", os.Getpid(), runID))
}

// WorkerOutputPath is the worker's stdout/stderr capture file, consumed
// and deleted by the master at reap time.
func WorkerOutputPath(scratch string, pid int) string {
	return filepath.Join(scratch, fmt.Sprintf("test_queue_worker_%d_output", pid))
}

// WorkerSuitesPath is the worker's serialized-results handoff file,
// consumed and deleted by the master at reap time.
func WorkerSuitesPath(scratch string, pid int) string {
	return filepath.Join(scratch, fmt.Sprintf("test_queue_worker_%d_suites", pid))
}
