package worker

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

func shFactory(script string) CommandFactory {
	return func(num int) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func TestSupervisor_ReapCollectsExitStatus(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), shFactory("exit 3"), zap.NewNop())
	require.NoError(t, sup.Spawn(2))
	assert.Equal(t, 2, sup.Count())

	sup.ReapAll()
	assert.Equal(t, 0, sup.Count())

	completed := sup.Completed()
	require.Len(t, completed, 2)
	for _, rec := range completed {
		assert.Equal(t, 3, rec.ExitStatus)
		assert.False(t, rec.EndTime.IsZero())
		assert.False(t, rec.StartTime.After(rec.EndTime))
	}
}

func TestSupervisor_ConsumesAndDeletesHandoffFiles(t *testing.T) {
	scratch := t.TempDir()
	// The child writes its own capture file, named by its pid, exactly
	// like the real worker subcommand does.
	script := fmt.Sprintf(`echo captured > %s/test_queue_worker_$$_output; exit 0`, scratch)

	sup := NewSupervisor(scratch, shFactory(script), zap.NewNop())
	require.NoError(t, sup.Spawn(1))
	sup.ReapAll()

	completed := sup.Completed()
	require.Len(t, completed, 1)
	assert.Contains(t, string(completed[0].Stdout), "captured")

	// The handoff file is deleted at reap time.
	path := runctx.WorkerOutputPath(scratch, completed[0].Pid)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSupervisor_ReapNonblocking(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), shFactory("sleep 5"), zap.NewNop())
	require.NoError(t, sup.Spawn(1))

	// Nothing has exited; a non-blocking reap must return immediately.
	done := make(chan struct{})
	go func() {
		sup.ReapNonblocking()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReapNonblocking blocked")
	}
	assert.Equal(t, 1, sup.Count())

	sup.KillAll()
	sup.ReapAll()
}

func TestSupervisor_KillAll(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), shFactory("sleep 60"), zap.NewNop())
	require.NoError(t, sup.Spawn(2))

	start := time.Now()
	sup.KillAll()
	sup.ReapAll()

	assert.Less(t, time.Since(start), 10*time.Second)
	completed := sup.Completed()
	require.Len(t, completed, 2)
	for _, rec := range completed {
		assert.NotEqual(t, 0, rec.ExitStatus)
	}
}

func TestSupervisor_OnReapObservesRecords(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), shFactory("exit 0"), zap.NewNop())

	var forwarded []*protocol.WorkerRecord
	sup.OnReap = func(rec *protocol.WorkerRecord) {
		forwarded = append(forwarded, rec)
	}

	require.NoError(t, sup.Spawn(3))
	sup.ReapAll()
	assert.Len(t, forwarded, 3)
}

func TestSupervisor_RecordsNumberedInSpawnOrder(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), shFactory("exit 0"), zap.NewNop())
	require.NoError(t, sup.Spawn(4))
	sup.ReapAll()

	nums := map[int]bool{}
	for _, rec := range sup.Completed() {
		nums[rec.Num] = true
	}
	for i := 0; i < 4; i++ {
		assert.True(t, nums[i], "missing worker num %d", i)
	}
}
