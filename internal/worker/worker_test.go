package worker

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yagince/test-queue/internal/adapter"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

const testToken = "feedface"

// fakeMaster serves scripted POP replies over a unix socket and records
// KABOOMs. Pops past the script get an empty body (run done).
type fakeMaster struct {
	listener net.Listener
	pairs    []protocol.SuitePair

	mu      sync.Mutex
	served  int
	kabooms int
}

func startFakeMaster(t *testing.T, socket string, pairs []protocol.SuitePair) *fakeMaster {
	t.Helper()
	listener, err := net.Listen("unix", socket)
	require.NoError(t, err)

	fm := &fakeMaster{listener: listener, pairs: pairs}
	go fm.serve()
	t.Cleanup(func() { listener.Close() })
	return fm
}

func (fm *fakeMaster) serve() {
	for {
		conn, err := fm.listener.Accept()
		if err != nil {
			return
		}
		func() {
			defer conn.Close()
			cmd, err := protocol.ReadCommand(bufio.NewReader(conn))
			if err != nil {
				return
			}
			if cmd.Token != testToken {
				io.WriteString(conn, protocol.RespWrongRun+"\n")
				return
			}
			switch cmd.Name {
			case protocol.CmdPop:
				fm.mu.Lock()
				i := fm.served
				fm.served++
				fm.mu.Unlock()
				if i < len(fm.pairs) {
					body, _ := protocol.EncodeSuitePair(fm.pairs[i])
					conn.Write(body)
				}
			case protocol.CmdKaboom:
				fm.mu.Lock()
				fm.kabooms++
				fm.mu.Unlock()
			}
		}()
	}
}

func (fm *fakeMaster) kaboomCount() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.kabooms
}

func writeSuiteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func readResults(t *testing.T, scratch string) []protocol.SuiteResult {
	t.Helper()
	data, err := os.ReadFile(runctx.WorkerSuitesPath(scratch, os.Getpid()))
	require.NoError(t, err)
	results, err := protocol.DecodeSuiteResults(data)
	require.NoError(t, err)
	return results
}

func TestRun_ExecutesSuitesUntilDone(t *testing.T) {
	dir := t.TempDir()
	pass := writeSuiteScript(t, dir, "pass.test", "exit 0\n")
	fail := writeSuiteScript(t, dir, "fail.test", "exit 1\n")

	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	startFakeMaster(t, socket, []protocol.SuitePair{
		{Name: "pass", Path: pass},
		{Name: "fail", Path: fail},
	})

	status := Run(context.Background(), Options{
		Num:     0,
		Connect: socket,
		Token:   testToken,
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(dir),
	})
	assert.Equal(t, 1, status)

	results := readResults(t, scratch)
	require.Len(t, results, 2)
	assert.Equal(t, protocol.SuitePassed, results[0].Status)
	assert.Equal(t, protocol.SuiteFailed, results[1].Status)
}

func TestRun_EarlyFailureLimitEscalatesKaboom(t *testing.T) {
	dir := t.TempDir()
	fail := writeSuiteScript(t, dir, "fail.test", "exit 1\n")

	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	fm := startFakeMaster(t, socket, []protocol.SuitePair{
		{Name: "fail", Path: fail},
		{Name: "fail", Path: fail},
	})

	status := Run(context.Background(), Options{
		Connect:           socket,
		Token:             testToken,
		Scratch:           scratch,
		EarlyFailureLimit: 1,
		Adapter:           adapter.NewScriptAdapter(dir),
	})
	assert.Equal(t, 1, status)
	// KABOOM gets no reply, so the fake master may record it just after
	// Run returns.
	require.Eventually(t, func() bool { return fm.kaboomCount() > 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, fm.kaboomCount())

	// Only the first suite ran; the worker bailed out after KABOOM.
	results := readResults(t, scratch)
	assert.Len(t, results, 1)
}

func TestRun_WrongRunTreatedAsOver(t *testing.T) {
	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	startFakeMaster(t, socket, nil)

	status := Run(context.Background(), Options{
		Connect: socket,
		Token:   "0ldc0ffee",
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(scratch),
	})
	assert.Equal(t, 0, status)
	assert.Empty(t, readResults(t, scratch))
}

func TestRun_MasterGoneTreatedAsOver(t *testing.T) {
	scratch := t.TempDir()

	status := Run(context.Background(), Options{
		Connect: filepath.Join(scratch, "nobody-home.sock"),
		Token:   testToken,
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(scratch),
	})
	assert.Equal(t, 0, status)
}

func TestRun_AroundFilterShortCircuits(t *testing.T) {
	dir := t.TempDir()
	fail := writeSuiteScript(t, dir, "fail.test", "exit 1\n")

	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	startFakeMaster(t, socket, []protocol.SuitePair{{Name: "fail", Path: fail}})

	var filtered []string
	hooks := runctx.Hooks{
		AroundFilter: func(pair protocol.SuitePair, run func() protocol.SuiteResult) protocol.SuiteResult {
			filtered = append(filtered, pair.Name)
			// Short-circuit: never actually run the failing script.
			return protocol.SuiteResult{Name: pair.Name, Path: pair.Path, Status: protocol.SuitePassed}
		},
	}

	status := Run(context.Background(), Options{
		Connect: socket,
		Token:   testToken,
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(dir),
		Hooks:   hooks,
	})
	assert.Equal(t, 0, status)
	assert.Equal(t, []string{"fail"}, filtered)
}

func TestRun_RunWorkerHookOverridesLoop(t *testing.T) {
	dir := t.TempDir()
	pass := writeSuiteScript(t, dir, "pass.test", "exit 0\n")

	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	startFakeMaster(t, socket, []protocol.SuitePair{{Name: "pass", Path: pass}})

	var seen []string
	hooks := runctx.Hooks{
		RunWorker: func(next func() *protocol.SuitePair) int {
			for pair := next(); pair != nil; pair = next() {
				seen = append(seen, pair.Name)
			}
			return 42
		},
	}

	status := Run(context.Background(), Options{
		Connect: socket,
		Token:   testToken,
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(dir),
		Hooks:   hooks,
	})
	assert.Equal(t, 42, status)
	assert.Equal(t, []string{"pass"}, seen)
}

func TestRun_AfterForkHookRuns(t *testing.T) {
	scratch := t.TempDir()
	socket := filepath.Join(scratch, "m.sock")
	startFakeMaster(t, socket, nil)

	var gotNum int
	Run(context.Background(), Options{
		Num:     7,
		Connect: socket,
		Token:   testToken,
		Scratch: scratch,
		Adapter: adapter.NewScriptAdapter(scratch),
		Hooks:   runctx.Hooks{AfterFork: func(num int) { gotNum = num }},
	})
	assert.Equal(t, 7, gotNum)
}
