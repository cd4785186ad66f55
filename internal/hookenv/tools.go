// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"
)

// Runner runs a hook tool and returns its standard output.
type Runner interface {
	Run(tool string, args ...string) ([]byte, error)
}

// CommandRunner runs shell commands.
type CommandRunner interface {
	RunCommands(run exec.RunParams) (*exec.ExecResponse, error)
}

type defaultRunner struct{}

func (defaultRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	return exec.RunCommands(run)
}

// ToolError is returned when a hook tool exits with a non-zero code.
type ToolError struct {
	Command string
	Code    int
	Stderr  string
}

// Error implements error.
func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Stderr)
}

// ToolRunner runs hook tools in a shell, with the environment of the
// hook that started the process.
type ToolRunner struct {
	commands CommandRunner
	environ  []string
}

// NewToolRunner returns a ToolRunner which runs commands through
// runner. A nil runner runs them on the local machine.
func NewToolRunner(runner CommandRunner) *ToolRunner {
	if runner == nil {
		runner = defaultRunner{}
	}
	return &ToolRunner{
		commands: runner,
		environ:  os.Environ(),
	}
}

// Run implements Runner.
func (r *ToolRunner) Run(tool string, args ...string) ([]byte, error) {
	command := shellquote.Join(append([]string{tool}, args...)...)
	result, err := r.commands.RunCommands(exec.RunParams{
		Commands:    command,
		Environment: r.environ,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "running %s", tool)
	}
	if result.Code != 0 {
		return nil, errors.Trace(&ToolError{
			Command: tool,
			Code:    result.Code,
			Stderr:  strings.TrimSpace(string(result.Stderr)),
		})
	}
	return result.Stdout, nil
}
