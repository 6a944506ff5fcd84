package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecError wraps an execution error with the command's stderr.
type ExecError struct {
	Err    error
	Output string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.TrimSpace(e.Output))
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// RealCommandRunner implements CommandRunner with os/exec.
type RealCommandRunner struct{}

// LookPath searches for an executable named file in the directories
// named by the PATH environment variable.
func (r *RealCommandRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes the command and returns stdout. A non-zero exit becomes an
// *ExecError carrying stderr.
func (r *RealCommandRunner) Run(ctx context.Context, stdin string, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &ExecError{
			Err:    err,
			Output: stderr.String(),
		}
	}
	return stdout.String(), nil
}
