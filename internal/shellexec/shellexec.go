// Package shellexec runs external commands with captured output, without a
// shell, and keeps secret bytes off the command line. It does not apply the
// shell-metacharacter denylist itself; callers validate caller-influenced
// arguments with internal/validate first.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// DefaultTimeout bounds any single external-command invocation absent a more
// specific caller-supplied context deadline.
const DefaultTimeout = 30 * time.Second

// Runner executes external commands. Build one with New; a zero-value Runner
// has a nil Logger and panics when it logs.
type Runner struct {
	Logger hclog.Logger
}

// New builds a Runner logging through log, or a discarding logger if nil.
func New(log hclog.Logger) *Runner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Runner{Logger: log}
}

// Result carries a completed command's exit code and combined output.
type Result struct {
	ExitCode int
	Output   []byte
}

// Run executes name with args, returning the combined stdout+stderr. Callers
// are responsible for running every externally supplied component of args
// (lease IDs, account names, usernames, domains) through internal/validate
// before composing the command — this adapter never shells through /bin/sh,
// so only program-controlled punctuation like FQDNs or file paths is safe to
// pass here unvalidated.
func (r *Runner) Run(ctx context.Context, env map[string]string, name string, args ...string) (Result, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = envSlice(env)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			r.Logger.Debug("ran external command", "cmd", name, "exit_code", exitErr.ExitCode())
			return Result{ExitCode: exitErr.ExitCode(), Output: out}, nil
		}
		return Result{}, fmt.Errorf("%w: running %s: %v", cferrors.ErrIoFailure, name, err)
	}
	r.Logger.Debug("ran external command", "cmd", name, "exit_code", 0)
	return Result{ExitCode: 0, Output: out}, nil
}

// RunWithStdinBytes behaves like Run but additionally writes secret to the
// child's stdin pipe. secret is never placed on the command line or in the
// environment map.
func (r *Runner) RunWithStdinBytes(ctx context.Context, env map[string]string, secret []byte, name string, args ...string) (Result, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = envSlice(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: opening stdin pipe: %v", cferrors.ErrIoFailure, err)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: starting %s: %v", cferrors.ErrIoFailure, name, err)
	}

	_, writeErr := stdin.Write(secret)
	closeErr := stdin.Close()

	waitErr := cmd.Wait()
	code := exitCode(cmd, waitErr)
	r.Logger.Debug("ran external command with stdin", "cmd", name, "exit_code", code)

	if writeErr != nil {
		return Result{ExitCode: code, Output: out.Bytes()}, fmt.Errorf("%w: writing stdin to %s: %v", cferrors.ErrIoFailure, name, writeErr)
	}
	if closeErr != nil {
		return Result{ExitCode: code, Output: out.Bytes()}, fmt.Errorf("%w: closing stdin to %s: %v", cferrors.ErrIoFailure, name, closeErr)
	}
	return Result{ExitCode: code, Output: out.Bytes()}, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
