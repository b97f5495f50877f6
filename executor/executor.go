package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/flanksource/commons/logger"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultSlots bounds simultaneous analyzer subprocesses.
	DefaultSlots = 4
	// DefaultTimeout bounds the wall time of a single analyzer run.
	DefaultTimeout = 10 * time.Second
)

// SpawnError reports that the analyzer process could not be started,
// typically because the binary is missing or not executable.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the analyzer exceeded its deadline and was
// killed.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s", e.Command, e.Timeout)
}

// Invocation describes how to launch the analyzer. Args must contain a
// single TempFileArg placeholder, which the executor substitutes with the
// path of the materialized temp file.
type Invocation struct {
	Binary string
	Args   []string
}

// TempFileArg marks the argv position that receives the temp file path.
const TempFileArg = "{file}"

// Executor runs the external analyzer against in-memory content under a
// global concurrency bound and a hard per-run deadline.
type Executor struct {
	slots   *semaphore.Weighted
	timeout time.Duration
	tempDir string
}

// Option configures an Executor.
type Option func(*Executor)

// WithSlots sets the size of the execution slot pool.
func WithSlots(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout sets the per-run deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTempDir overrides the directory used to materialize content.
func WithTempDir(dir string) Option {
	return func(e *Executor) {
		e.tempDir = dir
	}
}

// New creates an executor with the default slot pool and timeout.
func New(opts ...Option) *Executor {
	e := &Executor{
		slots:   semaphore.NewWeighted(DefaultSlots),
		timeout: DefaultTimeout,
		tempDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run materializes content into a uniquely named temp file, invokes the
// analyzer against it and returns captured stdout. The caller suspends
// until an execution slot is free; the temp file is removed on every
// exit path. Analyzers in the PHPMD family exit non-zero when they find
// violations, so an exit error with stdout present is treated as
// success.
func (e *Executor) Run(ctx context.Context, content []byte, inv Invocation) ([]byte, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.slots.Release(1)

	tmp, err := os.CreateTemp(e.tempDir, "phpmd-*.php")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := make([]string, 0, len(inv.Args))
	for _, arg := range inv.Args {
		if arg == TempFileArg {
			arg = tmpPath
		}
		args = append(args, arg)
	}

	cmd := exec.CommandContext(runCtx, inv.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("executing: %s %v", inv.Binary, args)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: inv.Binary, Err: err}
	}

	err = cmd.Wait()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Command: inv.Binary, Timeout: e.timeout}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stdout.Len() > 0 {
			// Violations found; the report is on stdout.
			logger.Debugf("%s exited %d with output, treating as success", inv.Binary, exitErr.ExitCode())
			return stdout.Bytes(), nil
		}
		return nil, fmt.Errorf("%s failed: %w\nstderr:\n%s", inv.Binary, err, stderr.String())
	}

	return stdout.Bytes(), nil
}
