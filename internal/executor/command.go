package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// CommandExecutor runs a configured shell command once per packet. The
// packet and project are passed through the environment as
// CLAUDIA_PACKET_ID and CLAUDIA_PROJECT_ID, so the command template
// itself stays static.
type CommandExecutor struct {
	command string
	args    []string
	dir     string
	logger  *logging.Logger
}

// NewCommandExecutor creates an executor around the given command
// template. An empty command is allowed here and rejected at Execute
// time, so construction can happen before config validation.
func NewCommandExecutor(command string, logger *logging.Logger) *CommandExecutor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandExecutor{
		command: command,
		logger:  logger.WithComponent("command-executor"),
	}
}

// SetDir overrides the working directory for executed commands.
// Defaults to the process working directory.
func (e *CommandExecutor) SetDir(dir string) {
	e.dir = dir
}

// SetArgs appends extra arguments to the command line. They are joined
// into the shell invocation verbatim, so shell-significant characters
// keep their meaning.
func (e *CommandExecutor) SetArgs(args []string) {
	e.args = args
}

// Execute runs the command for one packet and captures its combined
// output. A non-zero exit is a failed Result, not an error; errors are
// reserved for executions that never ran (no command configured, shell
// missing, spawn failure).
func (e *CommandExecutor) Execute(ctx context.Context, packetID, projectID string) (*Result, error) {
	if e.command == "" {
		return nil, errors.NewValidationError("executor command is not configured").WithField("executor.command")
	}

	line := e.command
	if len(e.args) > 0 {
		line += " " + strings.Join(e.args, " ")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = e.dir
	cmd.Env = append(os.Environ(),
		"CLAUDIA_PACKET_ID="+packetID,
		"CLAUDIA_PROJECT_ID="+projectID,
	)

	e.logger.Debug("executing packet command",
		"packet_id", packetID,
		"project_id", projectID,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return &Result{
				Success:   false,
				RawOutput: string(output),
			}, nil
		}
		return nil, fmt.Errorf("failed to run executor command: %w", err)
	}

	return &Result{
		Success:   true,
		RawOutput: string(output),
	}, nil
}
