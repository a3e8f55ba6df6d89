// Package sandbox runs single commands against a virtual desktop, either
// inside a docker container or on the host display.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// Backend names accepted in configuration.
const (
	BackendDocker = "docker"
	BackendLocal  = "local"
)

var (
	// ErrTimeout is the cause of an ExecutionFailedError when the command
	// outlived its configured timeout.
	ErrTimeout = errors.New("command timed out")

	// ErrNoContainer is returned by the docker backend for a host-only handle.
	ErrNoContainer = errors.New("handle has no container")
)

// Executor runs one command to completion against the desktop addressed by
// a Handle and returns its raw standard output.
type Executor interface {
	Run(ctx context.Context, h Handle, cmd Command) ([]byte, error)
}

// ExecutionFailedError reports a command that exited abnormally or could not
// be started. Executors never retry.
type ExecutionFailedError struct {
	Command Command
	Stderr  string
	Cause   error
}

func (e *ExecutionFailedError) Error() string {
	msg := fmt.Sprintf("execute %s: %v", e.Command, e.Cause)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecutionFailedError) Unwrap() error {
	return e.Cause
}

// Observer receives the program name, duration and error of every command run.
type Observer func(program string, elapsed time.Duration, err error)

// Config holds executor settings shared by both backends.
type Config struct {
	// Timeout bounds a single command. Zero means no bound.
	Timeout time.Duration
	// DockerBinary is the docker CLI used by the docker backend.
	DockerBinary string
	// Observer, when set, is called after each command.
	Observer Observer
}

// Option configures an executor.
type Option func(*Config)

// WithTimeout bounds each command run.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithDockerBinary overrides the docker CLI path.
func WithDockerBinary(path string) Option {
	return func(c *Config) { c.DockerBinary = path }
}

// WithObserver installs a per-command callback, typically for metrics.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observer = o }
}

func newConfig(opts []Option) Config {
	cfg := Config{DockerBinary: "docker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DockerExecutor runs commands with `docker exec` inside the handle's container.
type DockerExecutor struct {
	config Config
}

// NewDockerExecutor creates a docker-backed executor.
func NewDockerExecutor(opts ...Option) (*DockerExecutor, error) {
	cfg := newConfig(opts)
	if err := ValidateProgram(cfg.DockerBinary); err != nil {
		return nil, fmt.Errorf("docker binary %q: %w", cfg.DockerBinary, err)
	}
	return &DockerExecutor{config: cfg}, nil
}

// Run executes cmd inside the container with DISPLAY set to the handle's display.
func (d *DockerExecutor) Run(ctx context.Context, h Handle, cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, &ExecutionFailedError{Command: cmd, Cause: err}
	}
	if h.Container() == "" {
		return nil, &ExecutionFailedError{Command: cmd, Cause: ErrNoContainer}
	}

	args := make([]string, 0, len(cmd.Args)+5)
	args = append(args, "exec", "-e", "DISPLAY="+h.Display(), h.Container(), cmd.Program)
	args = append(args, cmd.Args...)
	return runProcess(ctx, d.config, cmd, d.config.DockerBinary, args, nil)
}

// LocalExecutor runs commands directly on the host with DISPLAY set.
type LocalExecutor struct {
	config Config
}

// NewLocalExecutor creates a host executor.
func NewLocalExecutor(opts ...Option) *LocalExecutor {
	return &LocalExecutor{config: newConfig(opts)}
}

// Run executes cmd on the host. The handle's container is ignored.
func (l *LocalExecutor) Run(ctx context.Context, h Handle, cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, &ExecutionFailedError{Command: cmd, Cause: err}
	}
	env := append(os.Environ(), "DISPLAY="+h.Display())
	return runProcess(ctx, l.config, cmd, cmd.Program, cmd.Args, env)
}

// New returns the executor for a backend name.
func New(backend string, opts ...Option) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendDocker:
		return NewDockerExecutor(opts...)
	case BackendLocal:
		return NewLocalExecutor(opts...), nil
	default:
		return nil, fmt.Errorf("unknown environment backend %q", backend)
	}
}

// RunText runs cmd and decodes its output as UTF-8, replacing undecodable
// byte sequences instead of failing.
func RunText(ctx context.Context, e Executor, h Handle, cmd Command) (string, error) {
	out, err := e.Run(ctx, h, cmd)
	if err != nil {
		return "", err
	}
	return decodeText(out), nil
}

func decodeText(raw []byte) string {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(decoded)
}

func runProcess(ctx context.Context, cfg Config, cmd Command, name string, args []string, env []string) ([]byte, error) {
	runCtx := ctx
	cancel := func() {}
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	defer cancel()

	proc := osexec.CommandContext(runCtx, name, args...)
	if env != nil {
		proc.Env = env
	}
	proc.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	elapsed := time.Since(start)

	if err != nil {
		cause := err
		switch {
		case ctx.Err() != nil:
			cause = ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			cause = fmt.Errorf("%w after %s", ErrTimeout, cfg.Timeout)
		}
		err = &ExecutionFailedError{
			Command: cmd,
			Stderr:  strings.TrimSpace(decodeText(stderr.Bytes())),
			Cause:   cause,
		}
	}
	if cfg.Observer != nil {
		cfg.Observer(cmd.Program, elapsed, err)
	}
	if err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
