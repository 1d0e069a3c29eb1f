// Package process runs external programs behind a narrow interface so that
// callers can be tested without the real binaries.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	shellquote "github.com/kballard/go-shellquote"
)

// Command describes a single program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line in shell syntax.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner executes commands and reports their exit status.
//
// A non-zero exit is not an error: err is only set when the program could not
// be started or waited for.
type Runner interface {
	Run(ctx context.Context, cmd Command) (exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
//
// A started process is never interrupted: ctx is only checked before the
// program is launched.
type ExecRunner struct {
	Logger *slog.Logger
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (int, error) {
	if cmd.Name == "" {
		return -1, errors.New("no command provided")
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	r.logger().Debug("running command", "command", cmd.String(), "dir", cmd.Dir)

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		r.logger().Debug("command exited", "command", cmd.Name, "exit_code", exitErr.ExitCode())
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", cmd.Name, err)
}

func (r *ExecRunner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
