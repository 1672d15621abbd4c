// Package worker contains the worker process loop and the supervisor that
// spawns, reaps, and kills worker processes. Workers are independent OS
// processes (the binary re-invoked with a hidden subcommand), never
// threads: a crashed worker cannot corrupt master state.
package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

// CommandFactory builds the exec.Cmd for worker number num. The cli wires
// the binary's hidden worker subcommand here.
type CommandFactory func(num int) *exec.Cmd

// Supervisor tracks spawned worker processes by PID and finalizes their
// records at reap time.
type Supervisor struct {
	scratch string
	factory CommandFactory
	log     *zap.Logger

	// OnReap, when set, observes each finalized record. Relay mode uses
	// it to forward records to the primary.
	OnReap func(*protocol.WorkerRecord)

	procs   map[int]*exec.Cmd
	records map[int]*protocol.WorkerRecord
	exits   chan exitEvent
	wg      sync.WaitGroup

	completed []*protocol.WorkerRecord
}

type exitEvent struct {
	pid    int
	status int
}

// NewSupervisor creates a supervisor writing worker handoff files under
// scratch.
func NewSupervisor(scratch string, factory CommandFactory, log *zap.Logger) *Supervisor {
	return &Supervisor{
		scratch: scratch,
		factory: factory,
		log:     log,
		procs:   make(map[int]*exec.Cmd),
		records: make(map[int]*protocol.WorkerRecord),
		// Sized generously so exit goroutines never block on a slow reap.
		exits: make(chan exitEvent, 256),
	}
}

// Spawn starts n workers numbered 0..n-1. Children inherit no descriptors
// beyond the standard three, so the master's listener never leaks into a
// worker.
func (s *Supervisor) Spawn(n int) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	for num := 0; num < n; num++ {
		cmd := s.factory(num)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn worker %d: %w", num, err)
		}
		pid := cmd.Process.Pid

		s.procs[pid] = cmd
		s.records[pid] = &protocol.WorkerRecord{
			Num:       num,
			Pid:       pid,
			Host:      hostname,
			StartTime: time.Now(),
		}
		s.log.Debug("spawned worker", zap.Int("num", num), zap.Int("pid", pid))

		s.wg.Add(1)
		go func(pid int, cmd *exec.Cmd) {
			defer s.wg.Done()
			s.exits <- exitEvent{pid: pid, status: waitStatus(cmd)}
		}(pid, cmd)
	}
	return nil
}

func waitStatus(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Killed by signal.
		return 1
	}
	return 1
}

// ReapNonblocking finalizes any workers that have exited, without waiting.
func (s *Supervisor) ReapNonblocking() {
	for {
		select {
		case ev := <-s.exits:
			s.finalize(ev)
		default:
			return
		}
	}
}

// ReapAll blocks until every tracked worker has exited and been finalized.
func (s *Supervisor) ReapAll() {
	for len(s.procs) > 0 {
		s.finalize(<-s.exits)
	}
	s.wg.Wait()
}

// KillAll hard-kills every tracked worker. Reaping still happens through
// the normal exit path.
func (s *Supervisor) KillAll() {
	for pid, cmd := range s.procs {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				s.log.Debug("kill worker", zap.Int("pid", pid), zap.Error(err))
			}
		}
	}
}

// Count returns the number of live workers.
func (s *Supervisor) Count() int {
	return len(s.procs)
}

// Completed returns the finalized records in reap order.
func (s *Supervisor) Completed() []*protocol.WorkerRecord {
	return s.completed
}

// finalize consumes the worker's handoff files, stamps the record, and
// appends it to the completed list.
func (s *Supervisor) finalize(ev exitEvent) {
	rec, ok := s.records[ev.pid]
	if !ok {
		return
	}
	delete(s.procs, ev.pid)
	delete(s.records, ev.pid)

	rec.EndTime = time.Now()
	rec.ExitStatus = ev.status

	outputPath := runctx.WorkerOutputPath(s.scratch, ev.pid)
	if data, err := os.ReadFile(outputPath); err == nil {
		rec.Stdout = data
	}
	os.Remove(outputPath)

	suitesPath := runctx.WorkerSuitesPath(s.scratch, ev.pid)
	if data, err := os.ReadFile(suitesPath); err == nil {
		if results, err := protocol.DecodeSuiteResults(data); err == nil {
			rec.SuitesRun = results
		} else {
			s.log.Warn("bad suites file", zap.Int("pid", ev.pid), zap.Error(err))
		}
	}
	os.Remove(suitesPath)

	s.completed = append(s.completed, rec)
	s.log.Debug("reaped worker",
		zap.Int("num", rec.Num),
		zap.Int("pid", rec.Pid),
		zap.Int("exit_status", rec.ExitStatus),
		zap.Int("suites", len(rec.SuitesRun)))

	if s.OnReap != nil {
		s.OnReap(rec)
	}
}
