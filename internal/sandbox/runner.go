package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Output is what a finished process produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs one external command. Implementations return a non-nil
// error only when the process could not be started or did not exit on its
// own; a non-zero exit is reported through Output.ExitCode.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (Output, error)
}

// ExecRunner runs commands with os/exec, passing a scrubbed environment.
type ExecRunner struct{}

// Run executes name with args. Context cancellation kills the process.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = sanitizeEnv(os.Environ())
	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			out.ExitCode = status.ExitStatus()
		} else {
			out.ExitCode = exitErr.ExitCode()
		}
		return out, nil
	}
	return out, err
}

// sensitivePrefixes are env var names never handed to the container runtime.
var sensitivePrefixes = []string{
	"TRUSTGATE_", "OPENAI_", "ANTHROPIC_", "GROQ_", "AWS_SECRET", "AWS_SESSION", "REDIS_PASSWORD",
}

func sanitizeEnv(env []string) []string {
	clean := make([]string, 0, len(env))
	for _, entry := range env {
		name, _, _ := strings.Cut(entry, "=")
		upper := strings.ToUpper(name)
		if upper == "API_KEY" || upper == "API_SECRET" {
			continue
		}
		skip := false
		for _, p := range sensitivePrefixes {
			if strings.HasPrefix(upper, p) {
				skip = true
				break
			}
		}
		if !skip {
			clean = append(clean, entry)
		}
	}
	return clean
}
