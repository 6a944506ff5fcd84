package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/exec"
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.NewLogger("grove-kb.llm")

// CommandOptions configures the command line LLM client.
type CommandOptions struct {
	// Command is the executable, "llm" by default.
	Command string
	// Model is passed with -m when set.
	Model string
	// Args are appended verbatim before the prompt is piped in.
	Args []string
	// ConversationFlag, when set, passes the conversation tag, e.g. "--cid".
	ConversationFlag string
	// WorkingDir is the working directory of the command.
	WorkingDir string
}

// CommandClient implements Client by piping the prompt to a command line
// tool such as `llm` and reading the completion from stdout.
type CommandClient struct {
	runner exec.CommandRunner
	opts   CommandOptions
}

// NewCommandClient creates a client. A nil runner uses the real os/exec runner.
func NewCommandClient(runner exec.CommandRunner, opts CommandOptions) *CommandClient {
	if runner == nil {
		runner = &exec.RealCommandRunner{}
	}
	if opts.Command == "" {
		opts.Command = "llm"
	}
	return &CommandClient{runner: runner, opts: opts}
}

// Available reports whether the configured command can be found.
func (c *CommandClient) Available() error {
	if _, err := c.runner.LookPath(c.opts.Command); err != nil {
		return fmt.Errorf("llm command %q not found in PATH: %w", c.opts.Command, err)
	}
	return nil
}

// Send implements Client.
func (c *CommandClient) Send(ctx context.Context, prompt string, conversationTag string) (Response, error) {
	args := []string{}
	if c.opts.Model != "" {
		args = append(args, "-m", c.opts.Model)
	}
	if c.opts.ConversationFlag != "" && conversationTag != "" {
		args = append(args, c.opts.ConversationFlag, conversationTag)
	}
	args = append(args, c.opts.Args...)

	start := time.Now()
	out, err := c.runner.Run(ctx, prompt, c.opts.WorkingDir, c.opts.Command, args...)
	fields := logrus.Fields{
		"command":       c.opts.Command,
		"model":         c.opts.Model,
		"conversation":  conversationTag,
		"prompt_bytes":  len(prompt),
		"duration_msec": time.Since(start).Milliseconds(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Debug("LLM command failed")
		return Response{}, fmt.Errorf("llm command failed: %w", err)
	}

	fields["response_bytes"] = len(out)
	log.WithFields(fields).Debug("LLM command succeeded")
	return Response{Text: out}, nil
}
