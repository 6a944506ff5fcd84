package exec

import "context"

// CommandRunner runs external commands. The LLM command client is built on it
// so tests can swap in MockCommandRunner.
type CommandRunner interface {
	// LookPath searches for an executable named file in the directories
	// named by the PATH environment variable.
	LookPath(file string) (string, error)

	// Run executes name with args, feeding stdin to the process, and returns
	// its standard output once it exits.
	Run(ctx context.Context, stdin string, dir string, name string, args ...string) (string, error)
}
