package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yagince/test-queue/internal/protocol"
)

// suiteMarker declares a named suite inside a script file. A file with no
// markers is a single suite named by its basename without the .test suffix.
const suiteMarker = "# suite:"

// ScriptAdapter treats executable *.test files under Root as suites. A
// marked file is run once per suite as `<file> <suite-name>`; an unmarked
// file is run bare. Pass/fail follows the exit status.
type ScriptAdapter struct {
	Root string
}

// NewScriptAdapter creates an adapter rooted at dir.
func NewScriptAdapter(dir string) *ScriptAdapter {
	return &ScriptAdapter{Root: dir}
}

// SuiteFiles walks Root for *.test files, sorted by path.
func (a *ScriptAdapter) SuiteFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".test") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", a.Root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Suites enumerates the suites declared in one file.
func (a *ScriptAdapter) Suites(path string) ([]Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, suiteMarker) {
			if name := strings.TrimSpace(strings.TrimPrefix(line, suiteMarker)); name != "" {
				names = append(names, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	if len(names) == 0 {
		base := strings.TrimSuffix(filepath.Base(path), ".test")
		return []Suite{&scriptSuite{name: base, path: path}}, nil
	}

	suites := make([]Suite, 0, len(names))
	for _, name := range names {
		suites = append(suites, &scriptSuite{name: name, path: path, arg: name})
	}
	return suites, nil
}

type scriptSuite struct {
	name string
	path string

	// arg is passed to the script for marked files; empty for bare files.
	arg string
}

func (s *scriptSuite) Name() string { return s.name }
func (s *scriptSuite) Path() string { return s.path }

func (s *scriptSuite) Run(ctx context.Context) protocol.SuiteResult {
	start := time.Now()

	var cmd *exec.Cmd
	if s.arg != "" {
		cmd = exec.CommandContext(ctx, s.path, s.arg)
	} else {
		cmd = exec.CommandContext(ctx, s.path)
	}
	out, err := cmd.CombinedOutput()

	result := protocol.SuiteResult{
		Name:            s.name,
		Path:            s.path,
		DurationSeconds: time.Since(start).Seconds(),
		Status:          protocol.SuitePassed,
		Detail:          out,
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			result.Status = protocol.SuiteFailed
		} else {
			result.Status = protocol.SuiteErrored
			result.Detail = append(result.Detail, []byte(err.Error())...)
		}
	}
	return result
}
