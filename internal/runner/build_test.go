package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, script string, timeout time.Duration) *CommandBuilder {
	t.Helper()
	dir := t.TempDir()
	return &CommandBuilder{
		Argv:        sh(script),
		Dir:         dir,
		LogPath:     filepath.Join(dir, "tmp", "build.log"),
		Timeout:     timeout,
		GracePeriod: 200 * time.Millisecond,
	}
}

func TestCommandBuilder_Success(t *testing.T) {
	b := newTestBuilder(t, `echo "compiling cw=$MACSWEEP_CW_MIN"`, 5*time.Second)

	require.NoError(t, b.Build(context.Background(), []string{"MACSWEEP_CW_MIN=20"}))

	data, err := os.ReadFile(b.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "compiling cw=20")
}

func TestCommandBuilder_NonZeroExit(t *testing.T) {
	b := newTestBuilder(t, "echo 'error[E0308]: mismatched types'; exit 101", 5*time.Second)

	err := b.Build(context.Background(), nil)
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "status 101")
	assert.Contains(t, err.Error(), "mismatched types")
}

func TestCommandBuilder_Timeout(t *testing.T) {
	b := newTestBuilder(t, "sleep 60", 150*time.Millisecond)

	start := time.Now()
	err := b.Build(context.Background(), nil)
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandBuilder_MissingBinary(t *testing.T) {
	b := newTestBuilder(t, "", time.Second)
	b.Argv = []string{filepath.Join(b.Dir, "no-cargo")}

	assert.ErrorIs(t, b.Build(context.Background(), nil), ErrBuildFailed)
}

func TestCommandBuilder_Cancelled(t *testing.T) {
	b := newTestBuilder(t, "sleep 60", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := b.Build(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrBuildFailed)
}
