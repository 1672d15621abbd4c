// Package adapter defines the framework adapter: the only component that
// understands test semantics. The master only ever sees (name, path)
// pairs; workers use the adapter to resolve a pair back into something
// executable.
package adapter

import (
	"context"

	"github.com/yagince/test-queue/internal/protocol"
)

// Suite is an executable suite handle resolved from a (name, path) pair.
type Suite interface {
	Name() string
	Path() string

	// Run executes the suite and reports its result. Run must not panic;
	// execution faults are reported as SuiteErrored.
	Run(ctx context.Context) protocol.SuiteResult
}

// Adapter enumerates candidate files and the suites they contain.
type Adapter interface {
	// SuiteFiles returns the ordered set of candidate file paths.
	SuiteFiles() ([]string, error)

	// Suites returns the suites contained in one file.
	Suites(path string) ([]Suite, error)
}

// Resolve finds the suite matching pair within the adapter's enumeration
// of pair.Path. Returns nil if the file no longer contains the suite.
func Resolve(a Adapter, pair protocol.SuitePair) (Suite, error) {
	suites, err := a.Suites(pair.Path)
	if err != nil {
		return nil, err
	}
	for _, s := range suites {
		if s.Name() == pair.Name {
			return s, nil
		}
	}
	return nil, nil
}
