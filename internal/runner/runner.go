// Package runner runs external processes (the Python interpreter, pip,
// venv) and captures their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes one process invocation.
type Command struct {
	// Op labels the invocation in logs and metrics ("attributes", "pip").
	Op   string
	Name string
	Args []string
	// Env entries are appended to the current process environment.
	Env []string
	Dir string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Invoker runs a command to completion. A process that starts but exits
// non-zero returns its Result together with an *ExitError.
type Invoker interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CodeCommand builds the "interpreter -c code args..." invocation.
func CodeCommand(interpreter, code string, args ...string) Command {
	return Command{
		Name: interpreter,
		Args: append([]string{"-c", code}, args...),
	}
}

// ExitError reports a process that ran but did not exit cleanly.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecInvoker runs commands with os/exec.
type ExecInvoker struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// context kills the process.
	WaitDelay time.Duration
}

func NewExecInvoker() *ExecInvoker {
	return &ExecInvoker{WaitDelay: 5 * time.Second}
}

func (i *ExecInvoker) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.WaitDelay = i.WaitDelay
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run %s: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Command:  c.Name,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return nil, fmt.Errorf("start %s: %w", c.Name, err)
}
