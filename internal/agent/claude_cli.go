package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	defaultBinary   = "claude"
	stderrTailBytes = 4 * 1024
	maxLineBytes    = 4 * 1024 * 1024
	interruptGrace  = 10 * time.Second
)

// ErrNotStarted is returned when signalling a run whose process never started.
var ErrNotStarted = errors.New("agent process not started")

// CLIRuntime runs the Claude Code CLI in stream-json mode, one process per run.
type CLIRuntime struct {
	binary string
	logger *slog.Logger
}

// NewCLIRuntime creates a runtime that invokes binary (defaults to "claude").
func NewCLIRuntime(binary string, logger *slog.Logger) *CLIRuntime {
	if binary == "" {
		binary = defaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRuntime{binary: binary, logger: logger}
}

// buildArgs assembles the CLI flags for one run. The prompt travels on stdin
// because --allowedTools consumes every following positional argument.
func buildArgs(opts RunOptions) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	mode := opts.PermissionMode
	if mode == "" {
		mode = DefaultPermissionMode
	}
	args = append(args, "--permission-mode", mode)
	if mode == DefaultPermissionMode {
		args = append(args, "--allow-dangerously-skip-permissions")
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}
	tools := opts.AllowedTools
	if len(tools) == 0 {
		tools = DefaultAllowedTools
	}
	args = append(args, "--allowedTools", strings.Join(tools, ","))
	return args
}

// Start spawns the CLI. Cancelling ctx interrupts the process and, after a
// grace period, kills it.
func (r *CLIRuntime) Start(ctx context.Context, opts RunOptions) (Run, error) {
	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(opts.Prompt)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = interruptGrace

	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", r.binary, err)
	}

	r.logger.Debug("Agent process started",
		"pid", cmd.Process.Pid,
		"cwd", opts.WorkDir,
		"resume", opts.ResumeID != "",
	)

	return &cliRun{
		cmd:    cmd,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: stderr,
		logger: r.logger,
	}, nil
}

type cliRun struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
	stderr *tailBuffer
	logger *slog.Logger

	consumed    atomic.Bool
	interrupted atomic.Bool

	waitOnce sync.Once
	waitErr  error
}

func (c *cliRun) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

// Events yields parsed stream-json events until stdout closes. Stopping the
// iteration early kills the process.
func (c *cliRun) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !c.consumed.CompareAndSwap(false, true) {
			yield(nil, errors.New("agent event stream already consumed"))
			return
		}

		scanner := bufio.NewScanner(c.stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			ev, err := ParseLine(line)
			if err != nil {
				c.logger.Warn("Skipping malformed agent output line", "error", err)
				continue
			}
			if !yield(ev, nil) {
				c.kill()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			c.kill()
			yield(nil, fmt.Errorf("reading agent output: %w", err))
			return
		}

		if err := c.wait(); err != nil {
			if c.interrupted.Load() {
				c.logger.Debug("Agent process exited after interrupt", "error", err)
				return
			}
			tail := strings.TrimSpace(c.stderr.String())
			if tail != "" {
				yield(nil, fmt.Errorf("agent process failed: %w: %s", err, tail))
				return
			}
			yield(nil, fmt.Errorf("agent process failed: %w", err))
		}
	}
}

// Interrupt sends SIGINT, which makes the CLI finish the current step and exit.
func (c *cliRun) Interrupt(_ context.Context) error {
	if c.cmd.Process == nil {
		return ErrNotStarted
	}
	c.interrupted.Store(true)
	if err := c.cmd.Process.Signal(syscall.SIGINT); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("interrupting agent process: %w", err)
	}
	return nil
}

func (c *cliRun) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.wait()
}
