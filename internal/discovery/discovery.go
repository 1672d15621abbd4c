// Package discovery implements the suite-discovery subprocess: a child of
// the primary master that walks every candidate file, enumerates suites,
// and streams each one back over the master endpoint as NEW SUITE.
package discovery

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/adapter"
	"github.com/yagince/test-queue/internal/protocol"
)

// Options configures the discovery process body.
type Options struct {
	Connect string
	Token   string
	Adapter adapter.Adapter
	Log     *zap.Logger
}

// Run walks the adapter's candidate files and reports each discovered
// suite to the master. SIGINT sets a stop flag checked between suites, so
// being told to finish early (whitelist satisfied) is cheap. Returns nil
// on completion or interrupt.
func Run(opts Options) error {
	var stopped atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		stopped.Store(true)
	}()

	client, err := protocol.NewClient(opts.Connect, opts.Token)
	if err != nil {
		return err
	}

	files, err := opts.Adapter.SuiteFiles()
	if err != nil {
		return fmt.Errorf("enumerate suite files: %w", err)
	}

	for _, file := range files {
		if stopped.Load() {
			return nil
		}
		suites, err := opts.Adapter.Suites(file)
		if err != nil {
			return fmt.Errorf("enumerate suites in %s: %w", file, err)
		}
		for _, suite := range suites {
			if stopped.Load() {
				return nil
			}
			pair := protocol.SuitePair{Name: suite.Name(), Path: suite.Path()}
			if err := client.NewSuite(pair); err != nil {
				return fmt.Errorf("report suite %s: %w", pair.Name, err)
			}
			opts.Log.Debug("discovered suite",
				zap.String("name", pair.Name), zap.String("path", pair.Path))
		}
	}
	return nil
}
