package exec

import (
	"context"
	"strings"
	"sync"
)

// MockCommandRunner records commands instead of running them.
type MockCommandRunner struct {
	mu sync.Mutex

	// Commands records every command line that was run.
	Commands []string
	// Inputs records the stdin passed with each command.
	Inputs []string

	// LookPathFunc allows custom behavior for LookPath in tests.
	LookPathFunc func(file string) (string, error)

	// RunFunc allows custom behavior for Run in tests.
	RunFunc func(stdin string, name string, args ...string) (string, error)
}

// LookPath implements CommandRunner. By default every command exists.
func (m *MockCommandRunner) LookPath(file string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(file)
	}
	return "/path/to/" + file, nil
}

// Run implements CommandRunner.
func (m *MockCommandRunner) Run(ctx context.Context, stdin string, dir string, name string, args ...string) (string, error) {
	cmdStr := name
	if len(args) > 0 {
		cmdStr = name + " " + strings.Join(args, " ")
	}

	m.mu.Lock()
	m.Commands = append(m.Commands, cmdStr)
	m.Inputs = append(m.Inputs, stdin)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(stdin, name, args...)
	}
	return "", nil
}
