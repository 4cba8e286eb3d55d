package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(script string) []string {
	return []string{"sh", "-c", script}
}

func TestStart_RedirectsCombinedOutput(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{})
	logPath := filepath.Join(dir, "logs", "rx1.log")

	h, err := sup.Start("rx1", sh("echo to-stdout; echo to-stderr >&2"), logPath)
	require.NoError(t, err)
	assert.Equal(t, "rx1", h.Name())
	assert.Positive(t, h.PID())
	assert.False(t, h.StartedAt().IsZero())

	done, err := sup.WaitFor("rx1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, done)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to-stdout")
	assert.Contains(t, string(data), "to-stderr")

	d, ok := sup.Duration("rx1")
	assert.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, Completed, h.State())
	assert.Equal(t, 0, h.ExitCode())
	assert.NoError(t, h.Err())
}

func TestWaitFor_TimeoutRecordsNothing(t *testing.T) {
	sup := New(Options{GracePeriod: 200 * time.Millisecond})
	defer sup.Reset()

	_, err := sup.Start("tx1", sh("sleep 5"), filepath.Join(t.TempDir(), "tx1.log"))
	require.NoError(t, err)

	start := time.Now()
	done, err := sup.WaitFor("tx1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, ok := sup.Duration("tx1")
	assert.False(t, ok)
	h, err := sup.Handle("tx1")
	require.NoError(t, err)
	_, ended := h.EndedAt()
	assert.False(t, ended)
	assert.Equal(t, []string{"tx1"}, sup.Running())
}

func TestPoll_NonBlocking(t *testing.T) {
	sup := New(Options{GracePeriod: 200 * time.Millisecond})
	defer sup.Reset()
	dir := t.TempDir()

	_, err := sup.Start("fast", sh("exit 3"), filepath.Join(dir, "fast.log"))
	require.NoError(t, err)
	_, err = sup.Start("slow", sh("sleep 5"), filepath.Join(dir, "slow.log"))
	require.NoError(t, err)

	start := time.Now()
	completed, err := sup.Poll("slow")
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		ok, err := sup.Poll("fast")
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	h, err := sup.Handle("fast")
	require.NoError(t, err)
	assert.Equal(t, 3, h.ExitCode(), "a non-zero exit is still a completion")
	assert.Equal(t, []string{"slow"}, sup.Running())
}

func TestTerminateAll_StopsStragglers(t *testing.T) {
	sup := New(Options{GracePeriod: 300 * time.Millisecond})
	dir := t.TempDir()

	polite, err := sup.Start("polite", sh("sleep 30"), filepath.Join(dir, "polite.log"))
	require.NoError(t, err)
	stubborn, err := sup.Start("stubborn", sh(`trap "" TERM; sleep 30`), filepath.Join(dir, "stubborn.log"))
	require.NoError(t, err)
	_, err = sup.Start("quick", sh("exit 0"), filepath.Join(dir, "quick.log"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	sup.TerminateAll()
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, Terminated, polite.State())
	assert.Equal(t, Terminated, stubborn.State())
	assert.Empty(t, sup.Running())

	_, ok := sup.Duration("polite")
	assert.False(t, ok, "terminated processes carry no duration")
	_, ok = sup.Duration("stubborn")
	assert.False(t, ok)
	_, ok = sup.Duration("quick")
	assert.True(t, ok, "an exit seen during termination counts as completion")

	assertProcessGone(t, polite.PID())
	assertProcessGone(t, stubborn.PID())
}

func TestStart_Errors(t *testing.T) {
	sup := New(Options{})
	dir := t.TempDir()

	_, err := sup.Start("missing", []string{filepath.Join(dir, "no-such-binary")}, filepath.Join(dir, "m.log"))
	require.Error(t, err)
	_, err = sup.Handle("missing")
	assert.ErrorIs(t, err, ErrUnknownProcess, "a failed spawn leaves no handle behind")

	_, err = sup.Start("empty", nil, filepath.Join(dir, "e.log"))
	assert.Error(t, err)

	_, err = sup.Start("dup", sh("exit 0"), filepath.Join(dir, "dup.log"))
	require.NoError(t, err)
	_, err = sup.Start("dup", sh("exit 0"), filepath.Join(dir, "dup.log"))
	assert.ErrorIs(t, err, ErrDuplicateProcess)

	_, err = sup.Poll("nobody")
	assert.ErrorIs(t, err, ErrUnknownProcess)
	_, err = sup.WaitFor("nobody", time.Millisecond)
	assert.ErrorIs(t, err, ErrUnknownProcess)
	_, ok := sup.Duration("nobody")
	assert.False(t, ok)
}

func TestReset_ClearsBookkeeping(t *testing.T) {
	sup := New(Options{GracePeriod: 200 * time.Millisecond})
	dir := t.TempDir()

	h, err := sup.Start("tx1", sh("sleep 30"), filepath.Join(dir, "tx1.log"))
	require.NoError(t, err)
	sup.Reset()

	assert.Empty(t, sup.Names())
	assertProcessGone(t, h.PID())

	_, err = sup.Start("tx1", sh("exit 0"), filepath.Join(dir, "tx1.log"))
	assert.NoError(t, err, "names can be reused after a reset")
	sup.Reset()
}

func TestOptions_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	sup := New(Options{Dir: dir, Env: []string{"MACSWEEP_CW_MIN=42"}})

	logPath := filepath.Join(dir, "env.log")
	_, err := sup.Start("env", sh(`echo "cw=$MACSWEEP_CW_MIN"; pwd`), logPath)
	require.NoError(t, err)
	done, err := sup.WaitFor("env", 5*time.Second)
	require.NoError(t, err)
	require.True(t, done)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cw=42")
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Base(resolved))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not-started", NotStarted.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
