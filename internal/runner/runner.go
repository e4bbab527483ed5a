// Package runner executes external tools on behalf of the pipelines.
//
// A nonzero exit is never fatal here: it is reported in Result and callers
// decide what it means for their stage.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command is one invocation of an external operation.
type Command struct {
	// Name tags forwarded output lines, e.g. "export /camera/front".
	Name string
	// Tool is the toolchain entry the argv was built from.
	Tool string
	// Argv is the program followed by its arguments.
	Argv []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Inputs and Output describe the operation's data flow. The runner does not
	// interpret them; they are carried for logging and for test doubles.
	Inputs []string
	Output string
}

// String renders the argv the way it would be typed in a shell.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result is the outcome of a finished command.
type Result struct {
	Command  Command
	ExitCode int
	Duration time.Duration

	err error
}

// Success reports a zero exit with no start or cancellation error.
func (r Result) Success() bool {
	return r.err == nil && r.ExitCode == 0
}

// Err converts the result into an error, or nil on success.
func (r Result) Err() error {
	if r.err != nil {
		return fmt.Errorf("%s: %w", r.Command.Name, r.err)
	}
	if r.ExitCode != 0 {
		return &ExitError{Name: r.Command.Name, Argv: r.Command.Argv, ExitCode: r.ExitCode}
	}
	return nil
}

// NewResult builds a Result directly. Test doubles use it to report outcomes
// without running a process.
func NewResult(cmd Command, exitCode int, err error) Result {
	return Result{Command: cmd, ExitCode: exitCode, err: err}
}

// ExitError reports a command that ran but exited nonzero.
type ExitError struct {
	Name     string
	Argv     []string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exited with status %d (%s)", e.Name, e.ExitCode, strings.Join(e.Argv, " "))
}

// Executor is what the pipelines need from a runner.
type Executor interface {
	Run(ctx context.Context, cmd Command) Result
}

// ProcessRunner runs commands as child processes.
type ProcessRunner struct {
	// Logf receives forwarded stdout/stderr lines. When nil the child inherits
	// Stdout and Stderr and its output is not consumed.
	Logf func(format string, v ...interface{})
	// DryRun logs each command instead of executing it.
	DryRun bool
	// Stdout and Stderr default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// NewProcessRunner creates a runner forwarding output to logf (nil to inherit).
func NewProcessRunner(logf func(format string, v ...interface{}), dryRun bool) *ProcessRunner {
	return &ProcessRunner{Logf: logf, DryRun: dryRun}
}

// Run executes cmd and blocks until it exits.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) Result {
	h, err := r.Spawn(ctx, cmd)
	if err != nil {
		return Result{Command: cmd, ExitCode: -1, err: err}
	}
	return h.Wait()
}

// Spawn starts cmd and returns immediately. The handle must be waited on.
func (r *ProcessRunner) Spawn(ctx context.Context, cmd Command) (*Handle, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("%s: empty command", cmd.Name)
	}

	h := &Handle{cmd: cmd, ctx: ctx, start: time.Now()}

	if r.DryRun {
		if r.Logf != nil {
			r.Logf("[DRY-RUN] %s: %s", cmd.Name, cmd)
		}
		h.result = &Result{Command: cmd}
		return h, nil
	}

	proc := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = cmd.Dir
	h.proc = proc

	if r.Logf != nil {
		stdout, err := proc.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%s: stdout pipe: %w", cmd.Name, err)
		}
		stderr, err := proc.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%s: stderr pipe: %w", cmd.Name, err)
		}
		if err := proc.Start(); err != nil {
			return nil, fmt.Errorf("%s: start: %w", cmd.Name, err)
		}
		h.readers.Add(2)
		go h.forward(stdout, "stdout", r.Logf)
		go h.forward(stderr, "stderr", r.Logf)
		return h, nil
	}

	proc.Stdout = r.Stdout
	if proc.Stdout == nil {
		proc.Stdout = os.Stdout
	}
	proc.Stderr = r.Stderr
	if proc.Stderr == nil {
		proc.Stderr = os.Stderr
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("%s: start: %w", cmd.Name, err)
	}
	return h, nil
}

// Handle is a running command.
type Handle struct {
	cmd     Command
	ctx     context.Context
	proc    *exec.Cmd
	start   time.Time
	readers sync.WaitGroup

	once   sync.Once
	result *Result
}

// Wait blocks until the command exits and its output has been drained. It is
// safe to call more than once.
func (h *Handle) Wait() Result {
	h.once.Do(func() {
		if h.result != nil {
			return
		}
		// Pipes must be fully read before Wait closes them.
		h.readers.Wait()
		err := h.proc.Wait()

		res := Result{Command: h.cmd, Duration: time.Since(h.start)}
		res.settle(err, h.ctx.Err())
		h.result = &res
	})
	return *h.result
}

// settle records how the process ended given the error from exec.Cmd.Wait.
// A clean exit stands even if ctx was cancelled afterwards.
func (r *Result) settle(waitErr, ctxErr error) {
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case ctxErr != nil:
		r.ExitCode = -1
		r.err = ctxErr
	case errors.As(waitErr, &exitErr):
		r.ExitCode = exitErr.ExitCode()
	default:
		r.ExitCode = -1
		r.err = waitErr
	}
}

func (h *Handle) forward(r io.Reader, stream string, logf func(format string, v ...interface{})) {
	defer h.readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanSegments)
	for scanner.Scan() {
		if line, ok := forwardable(scanner.Bytes()); ok {
			logf("[%s %s] %s", h.cmd.Name, stream, line)
		}
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// scanSegments splits on '\n', "\r\n" and a lone '\r', keeping the terminator
// so callers can tell progress-bar redraws from complete lines.
func scanSegments(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 == len(data) && !atEOF {
				// A '\n' may follow in the next read.
				return 0, nil, nil
			}
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i+2], nil
			}
		}
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// forwardable drops carriage-return-terminated and blank segments.
func forwardable(segment []byte) (string, bool) {
	if len(segment) > 0 && segment[len(segment)-1] == '\r' {
		return "", false
	}
	line := strings.TrimRight(string(segment), "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}
