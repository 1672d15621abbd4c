package driver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/config"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
	"github.com/yagince/test-queue/internal/stats"
)

func TestExitStatus_SaturatingSum(t *testing.T) {
	cases := []struct {
		name     string
		statuses []int
		want     int
	}{
		{name: "all zero", statuses: []int{0, 0, 0}, want: 0},
		{name: "simple sum", statuses: []int{1, 2, 3}, want: 6},
		{name: "clamped at 255", statuses: []int{200, 200}, want: 255},
		{name: "single overflow", statuses: []int{255, 1}, want: 255},
		{name: "empty", statuses: nil, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var completed []*protocol.WorkerRecord
			for _, s := range tc.statuses {
				completed = append(completed, &protocol.WorkerRecord{ExitStatus: s})
			}
			assert.Equal(t, tc.want, exitStatus(completed))
		})
	}
}

func TestBuildContext_Defaults(t *testing.T) {
	cfg := config.Defaults()
	rctx, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)

	assert.NotEmpty(t, rctx.Token)
	assert.NotEmpty(t, rctx.RunID)
	assert.Contains(t, rctx.ListenEndpoint, "test_queue_")
	assert.Contains(t, rctx.ListenEndpoint, rctx.RunID)
	assert.False(t, rctx.RelayMode())
	// The metrics heartbeat is wired when no QueueStatus hook is given.
	assert.NotNil(t, rctx.Hooks.QueueStatus)
}

func TestBuildContext_FreshTokenPerRun(t *testing.T) {
	cfg := config.Defaults()
	a, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)
	b, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestBuildContext_RelayTokenForcesToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.RelayToken = "c0ordinated"

	rctx, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "c0ordinated", rctx.Token)
}

func TestBuildContext_RelayEqualsOwnEndpointDisablesRelay(t *testing.T) {
	cfg := config.Defaults()
	cfg.ListenEndpoint = "10.0.0.5:8765"
	cfg.RelayEndpoint = "10.0.0.5:8765"

	rctx, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, rctx.RelayMode())
}

func TestBuildContext_StripsNewlinesFromSlaveMessage(t *testing.T) {
	cfg := config.Defaults()
	cfg.SlaveMessage = "line one\nline two"

	rctx, err := BuildContext(cfg, runctx.Hooks{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "line one line two", rctx.SlaveMessage)
}

func TestSaveStats_MergesAllWorkers(t *testing.T) {
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer store.Close()

	completed := []*protocol.WorkerRecord{
		{SuitesRun: []protocol.SuiteResult{
			{Name: "A", Path: "a.test", DurationSeconds: 5, Status: protocol.SuitePassed},
		}},
		{Host: "host2", SuitesRun: []protocol.SuiteResult{
			{Name: "B", Path: "b.test", DurationSeconds: 3, Status: protocol.SuiteFailed},
		}},
	}
	require.NoError(t, saveStats(store, completed))

	times, err := store.Load()
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, "A", times[0].Name)
	assert.Equal(t, "B", times[1].Name)
}

func TestSaveStats_NothingToSave(t *testing.T) {
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, saveStats(store, []*protocol.WorkerRecord{{}}))
	times, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, times)
}
