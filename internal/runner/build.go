package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"macsweep/internal/supervisor"
)

// ErrBuildFailed marks a build that exited non-zero or ran past its timeout.
// The runner skips the repeat and carries on.
var ErrBuildFailed = errors.New("build failed")

// Builder compiles the subject before a repeat. env carries injected parameters.
type Builder interface {
	Build(ctx context.Context, env []string) error
}

// CommandBuilder runs a build command under its own supervisor so a timed-out
// build is stopped together with its children.
type CommandBuilder struct {
	Argv        []string
	Dir         string
	LogPath     string
	Timeout     time.Duration
	GracePeriod time.Duration
}

// Build runs the command and waits for it, at most Timeout.
func (b *CommandBuilder) Build(ctx context.Context, env []string) error {
	sup := supervisor.New(supervisor.Options{Dir: b.Dir, Env: env, GracePeriod: b.GracePeriod})
	defer sup.TerminateAll()

	h, err := sup.Start("build", b.Argv, b.LogPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	timer := time.NewTimer(b.Timeout)
	defer timer.Stop()
	select {
	case <-h.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %s timed out after %s", ErrBuildFailed, strings.Join(b.Argv, " "), b.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := sup.Poll("build"); err != nil {
		return err
	}
	if err := h.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	if code := h.ExitCode(); code != 0 {
		return fmt.Errorf("%w: %s exited with status %d%s", ErrBuildFailed, strings.Join(b.Argv, " "), code, logTail(b.LogPath))
	}
	return nil
}

// logTail returns the last lines of the build log for error messages.
func logTail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return "\n" + strings.Join(lines, "\n")
}
