// Package supervisor launches named external processes, tracks when they start and
// finish, and terminates the ones that outlive their welcome.
//
// Completion is observed only through Poll and the bounded WaitFor; nothing in this
// package blocks without a deadline.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"macsweep/internal/logger"
)

// DefaultGracePeriod is how long TerminateAll waits between the polite signal and the kill.
const DefaultGracePeriod = 2 * time.Second

var (
	// ErrUnknownProcess is returned for a name that was never started on this supervisor.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrDuplicateProcess is returned when a name is started twice without a Reset.
	ErrDuplicateProcess = errors.New("process already started")
)

// State is the lifecycle position of a supervised process.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	Terminated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures every process a Supervisor starts.
type Options struct {
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env entries (KEY=VALUE) appended to the inherited environment.
	Env []string
	// GracePeriod between SIGTERM and SIGKILL; zero means DefaultGracePeriod.
	GracePeriod time.Duration
}

// Supervisor owns the processes of a single repeat. It is safe for concurrent use,
// although the runner drives it from one goroutine.
type Supervisor struct {
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	order   []string
}

// New creates an empty supervisor.
func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		opts:    opts,
		log:     logger.NewStyledLogger("supervisor"),
		handles: make(map[string]*Handle),
	}
}

// Start launches argv under name with stdout and stderr both redirected to outputPath.
// Spawn failures are returned as-is to the caller; nothing is retried.
func (s *Supervisor) Start(name string, argv []string, outputPath string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("process %s: empty command", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProcess, name)
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("process %s: failed to create log directory: %w", name, err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("process %s: failed to open output file: %w", name, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.opts.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	if len(s.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("process %s: failed to start %q: %w", name, argv[0], err)
	}
	// The child holds its own descriptor now.
	_ = out.Close()

	h := &Handle{
		name:       name,
		argv:       append([]string(nil), argv...),
		outputPath: outputPath,
		pid:        cmd.Process.Pid,
		start:      time.Now(),
		state:      Running,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go h.wait()

	s.handles[name] = h
	s.order = append(s.order, name)
	s.log.Info("Started process", "role", name, "pid", h.pid, "log", outputPath)
	return h, nil
}

// Handle returns the handle for name.
func (s *Supervisor) Handle(name string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(name)
}

// Names returns the started process names in launch order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Poll reports whether name has completed, recording its end timestamp the first
// time completion is observed. It never blocks.
func (s *Supervisor) Poll(name string) (bool, error) {
	h, err := s.Handle(name)
	if err != nil {
		return false, err
	}
	select {
	case <-h.done:
		return h.markCompleted(), nil
	default:
		return h.State() == Completed, nil
	}
}

// WaitFor blocks up to timeout for name to exit. On exit the end timestamp is
// recorded and true is returned; on timeout it returns false and records nothing.
func (s *Supervisor) WaitFor(name string, timeout time.Duration) (bool, error) {
	h, err := s.Handle(name)
	if err != nil {
		return false, err
	}
	if timeout <= 0 {
		return s.Poll(name)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.markCompleted(), nil
	case <-timer.C:
		return false, nil
	}
}

// Duration returns end minus start for a completed process. The boolean is false
// when the process has not completed (still running, terminated, or unknown).
func (s *Supervisor) Duration(name string) (time.Duration, bool) {
	h, err := s.Handle(name)
	if err != nil {
		return 0, false
	}
	return h.Duration()
}

// Running returns the names of processes that have not been observed to finish.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, name := range s.order {
		if s.handles[name].State() == Running {
			names = append(names, name)
		}
	}
	return names
}

// TerminateAll stops every process without a recorded end timestamp: SIGTERM to its
// process group, a shared grace period, then SIGKILL for survivors. When it returns,
// no process started by this supervisor is alive.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	var pending []*Handle
	for _, name := range s.order {
		h := s.handles[name]
		if h.State() != Running {
			continue
		}
		select {
		case <-h.done:
			// Exited since the last poll; that is a completion, not a straggler.
			h.markCompleted()
			continue
		default:
		}
		pending = append(pending, h)
	}
	grace := s.opts.GracePeriod
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	for _, h := range pending {
		s.log.Warn("Terminating process", "role", h.name, "pid", h.pid)
		if err := signalTerminate(h.cmd); err != nil {
			s.log.Debug("Terminate signal failed", "role", h.name, "error", err)
		}
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	var survivors []*Handle
	for _, h := range pending {
		select {
		case <-h.done:
		case <-deadline.C:
			// Deadline passed: everything not yet done is a survivor.
			survivors = append(survivors, h)
			deadline.Reset(0)
		}
	}

	for _, h := range survivors {
		select {
		case <-h.done:
			continue
		default:
		}
		s.log.Warn("Killing process after grace period", "role", h.name, "pid", h.pid, "grace", grace)
		if err := signalKill(h.cmd); err != nil {
			s.log.Debug("Kill signal failed", "role", h.name, "error", err)
		}
	}

	// SIGKILL cannot be ignored; the reap is bounded anyway so a wedged
	// kernel state never stalls the controller forever.
	reap := time.NewTimer(grace + time.Second)
	defer reap.Stop()
	for _, h := range pending {
		select {
		case <-h.done:
		case <-reap.C:
			s.log.Error("Process did not exit after kill", "role", h.name, "pid", h.pid)
			reap.Reset(0)
		}
		h.markTerminated()
	}
}

// Reset terminates anything still running and clears all bookkeeping so the
// supervisor can be reused.
func (s *Supervisor) Reset() {
	s.TerminateAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = make(map[string]*Handle)
	s.order = nil
}

func (s *Supervisor) lookup(name string) (*Handle, error) {
	h, ok := s.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	return h, nil
}
