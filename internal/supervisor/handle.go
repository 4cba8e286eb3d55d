package supervisor

import (
	"errors"
	"os/exec"
	"sync"
	"time"
)

// Handle tracks one supervised process. End stays zero until completion is observed;
// a terminated process never gets one.
type Handle struct {
	name       string
	argv       []string
	outputPath string
	pid        int
	start      time.Time
	cmd        *exec.Cmd

	// done is closed by wait once the process has been reaped.
	done     chan struct{}
	exitedAt time.Time
	exitCode int
	waitErr  error

	mu    sync.Mutex
	end   time.Time
	state State
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.exitedAt = time.Now()
	h.waitErr = err
	h.exitCode = -1
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit is still a completion; the code is kept for the log.
		h.waitErr = nil
	}
	close(h.done)
}

// markCompleted records the end timestamp on first observation of exit.
// It returns true when the handle is (now) completed.
func (h *Handle) markCompleted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Running {
		h.state = Completed
		h.end = h.exitedAt
	}
	return h.state == Completed
}

func (h *Handle) markTerminated() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Running {
		h.state = Terminated
	}
}

// Name returns the role name the process was started under.
func (h *Handle) Name() string { return h.name }

// Args returns the launch command.
func (h *Handle) Args() []string { return append([]string(nil), h.argv...) }

// OutputPath returns the file receiving combined output.
func (h *Handle) OutputPath() string { return h.outputPath }

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// PID returns the operating system process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns the launch timestamp.
func (h *Handle) StartedAt() time.Time { return h.start }

// EndedAt returns the completion timestamp, if one was recorded.
func (h *Handle) EndedAt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.end, h.state == Completed
}

// State returns the last known lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Duration returns end minus start when completion was recorded.
func (h *Handle) Duration() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Completed {
		return 0, false
	}
	return h.end.Sub(h.start), true
}

// ExitCode returns the exit status once the process is done; -1 while running or
// when the process was killed by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Err returns a wait error other than a plain non-zero exit, once the process is done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}
