// Package checker invokes the project's type checker as a bounded-time
// subprocess and turns its output into structured diagnostics. The checker
// is the campaign's oracle of correctness: the replacer commits nothing the
// checker does not accept, and the monitor probes it for build stability.
package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one checker invocation. A timeout is reported as
// an unstable result, never as a distinct success path.
type Result struct {
	Stable      bool          `json:"stable"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timed_out"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	RawOutput   string        `json:"raw_output,omitempty"`
}

// ErrorCount returns the number of error diagnostics.
func (r *Result) ErrorCount() int {
	return len(r.Diagnostics)
}

// ErrorMessages flattens diagnostics into display strings.
func (r *Result) ErrorMessages() []string {
	msgs := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		msgs = append(msgs, d.String())
	}
	return msgs
}

// Runner executes the configured checker command with a timeout.
type Runner struct {
	command []string
	dir     string
	timeout time.Duration
	log     *zap.Logger
}

// NewRunner builds a runner for the given command (binary + args) executed
// in dir. A zero timeout defaults to two minutes.
func NewRunner(command []string, dir string, timeout time.Duration, log *zap.Logger) (*Runner, error) {
	if len(command) == 0 {
		return nil, errors.New("checker command is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{command: command, dir: dir, timeout: timeout, log: log}, nil
}

// Check runs the checker once. The subprocess inherits a minimal
// environment (PATH, HOME, temp dirs, node settings) rather than the full
// process environment. Exit code 0 with no error diagnostics means stable.
func (r *Runner) Check(ctx context.Context) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.log.Debug("running checker",
		zap.Strings("command", r.command), zap.Duration("timeout", r.timeout))

	cmd := exec.CommandContext(execCtx, r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Env = baseToolEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n" + stderr.String()
	}

	result := &Result{
		Duration:  duration,
		RawOutput: output,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		result.Diagnostics = []Diagnostic{{
			Message: fmt.Sprintf("checker timed out after %s", r.timeout),
		}}
		r.log.Warn("checker timed out", zap.Duration("timeout", r.timeout))
		return result, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Binary missing, permission denied: the probe itself failed.
			return nil, fmt.Errorf("running checker %q: %w", r.command[0], runErr)
		}
	}

	outcome := ParseDiagnostics(output)
	result.Diagnostics = outcome.Diagnostics

	result.Stable = result.ExitCode == 0 && len(result.Diagnostics) == 0
	r.log.Debug("checker finished",
		zap.Bool("stable", result.Stable),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("diagnostics", len(result.Diagnostics)),
		zap.Duration("duration", duration))
	return result, nil
}

// baseToolEnv passes through only the variables node-based toolchains need.
func baseToolEnv() []string {
	keys := []string{
		"PATH", "HOME", "USERPROFILE", "TEMP", "TMP", "TMPDIR",
		"NODE_OPTIONS", "NODE_PATH", "npm_config_cache",
	}
	var env []string
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return env
}
