package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yagince/test-queue/internal/config"
	"github.com/yagince/test-queue/internal/runctx"
)

func TestDialable_RewritesWildcardHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8765", dialable("0.0.0.0:8765"))
	assert.Equal(t, "127.0.0.1:8765", dialable("8765"))
	assert.Equal(t, "10.0.0.5:8765", dialable("10.0.0.5:8765"))
	assert.Equal(t, "/tmp/q.sock", dialable("/tmp/q.sock"))
}

func TestWorkerConnect(t *testing.T) {
	local := &runctx.Context{ListenEndpoint: "/tmp/q.sock"}
	assert.Equal(t, "/tmp/q.sock", workerConnect(local))

	relayed := &runctx.Context{
		ListenEndpoint: "/tmp/q.sock",
		RelayEndpoint:  "primary:8765",
	}
	assert.Equal(t, "primary:8765", workerConnect(relayed))
}

func TestWorkerFactory_Args(t *testing.T) {
	rctx := &runctx.Context{
		Token:             "feedface",
		Scratch:           "/scratch",
		ListenEndpoint:    "/tmp/q.sock",
		EarlyFailureLimit: 5,
	}
	cfg := config.Defaults()
	cfg.SuiteDir = "suites"

	cmd := workerFactory("/usr/bin/testq", rctx, cfg)(3)
	args := cmd.Args

	require.Equal(t, "/usr/bin/testq", args[0])
	assert.Equal(t, "worker", args[1])
	assert.Contains(t, args, "--num")
	assert.Contains(t, args, "3")
	assert.Contains(t, args, "--connect")
	assert.Contains(t, args, "/tmp/q.sock")
	assert.Contains(t, args, "--token")
	assert.Contains(t, args, "feedface")
	assert.Contains(t, args, "--early-failure-limit")
	assert.Contains(t, args, "5")
}

func TestDiscoveryFactory_Args(t *testing.T) {
	rctx := &runctx.Context{
		Token:          "feedface",
		ListenEndpoint: "0.0.0.0:8765",
	}
	cfg := config.Defaults()

	cmd := discoveryFactory("/usr/bin/testq", rctx, cfg)()
	args := cmd.Args

	assert.Equal(t, "discover", args[1])
	assert.Contains(t, args, "127.0.0.1:8765")
	assert.NotContains(t, args, "0.0.0.0:8765")
}
