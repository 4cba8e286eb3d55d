// Package runner drives a parameter sweep: for every set and repeat it injects the
// parameters, rebuilds the subject, launches the roles and measures how long they run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"macsweep/internal/config"
	"macsweep/internal/logger"
	"macsweep/internal/params"
	"macsweep/internal/patcher"
	"macsweep/internal/results"
	"macsweep/internal/supervisor"
)

// EnvVarPrefix prefixes each constant passed with env injection.
const EnvVarPrefix = "MACSWEEP_"

// ProcessSupervisor is the part of supervisor.Supervisor the runner uses.
type ProcessSupervisor interface {
	Start(name string, argv []string, outputPath string) (*supervisor.Handle, error)
	Poll(name string) (bool, error)
	Duration(name string) (time.Duration, bool)
	TerminateAll()
}

// SupervisorFactory creates the fresh supervisor each repeat runs under.
type SupervisorFactory func(opts supervisor.Options) ProcessSupervisor

// DefaultSupervisorFactory returns a real supervisor.
func DefaultSupervisorFactory(opts supervisor.Options) ProcessSupervisor {
	return supervisor.New(opts)
}

// Session is one invocation of the sweep.
type Session struct {
	ID        string
	StartedAt time.Time
	Sets      []params.Set
	Store     *results.Store
}

// Runner executes a session.
type Runner struct {
	cfg           *config.Config
	session       *Session
	builder       Builder
	newSupervisor SupervisorFactory
	log           *log.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithBuilder replaces the configured build command.
func WithBuilder(b Builder) Option {
	return func(r *Runner) { r.builder = b }
}

// WithSupervisorFactory replaces how per-repeat supervisors are created.
func WithSupervisorFactory(f SupervisorFactory) Option {
	return func(r *Runner) { r.newSupervisor = f }
}

// New creates a runner for space under cfg. cfg is expected to be valid.
func New(cfg *config.Config, space *params.Space, opts ...Option) *Runner {
	id := uuid.New().String()
	r := &Runner{
		cfg: cfg,
		session: &Session{
			ID:        id,
			StartedAt: time.Now(),
			Sets:      space.Sets(),
			Store:     results.NewStore(id),
		},
		builder: &CommandBuilder{
			Argv:        cfg.BuildCommand,
			Dir:         cfg.SubjectDir,
			LogPath:     cfg.LogPath(config.Role{Name: "build"}),
			Timeout:     cfg.BuildTimeout,
			GracePeriod: cfg.GracePeriod,
		},
		newSupervisor: DefaultSupervisorFactory,
		log:           logger.NewStyledLogger("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session being run.
func (r *Runner) Session() *Session {
	return r.session
}

// Run executes every set Repeats times. With source injection the constants file is
// captured first and restored exactly once when Run returns, whatever the outcome.
// Results gathered before an error or cancellation stay in the session store.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting sweep", "session", r.session.ID, "sets", len(r.session.Sets),
		"repeats", r.cfg.Repeats, "injection", r.cfg.Injection)

	if r.cfg.Injection == config.InjectionEnv {
		return r.sweep(ctx, nil)
	}

	err := patcher.WithOriginal(r.cfg.ConstsPath(), func(p *patcher.Patcher) error {
		return r.sweep(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("sweep %s: %w", r.session.ID, err)
	}
	return nil
}

func (r *Runner) sweep(ctx context.Context, p *patcher.Patcher) error {
	total := len(r.session.Sets) * r.cfg.Repeats
	attempt := 0
	for _, set := range r.session.Sets {
		for repeat := 1; repeat <= r.cfg.Repeats; repeat++ {
			attempt++
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := r.runRepeat(ctx, p, set, repeat)
			switch {
			case errors.Is(err, ErrBuildFailed):
				r.log.Error("Build failed, skipping repeat", "config", set.Name(), "repeat", repeat, "error", err)
			case err != nil:
				return fmt.Errorf("config %s repeat %d: %w", set.Name(), repeat, err)
			default:
				r.session.Store.Append(res)
				r.log.Info("Repeat finished", "config", set.Name(), "repeat", repeat,
					"max_time", res.MaxTime, "complete", res.Complete())
			}

			if attempt < total {
				if err := sleep(ctx, r.cfg.SettleDelay); err != nil {
					return err
				}
			}
		}
	}
	r.log.Info("Sweep finished", "session", r.session.ID, "results", r.session.Store.Len())
	return nil
}

// runRepeat performs one measured run of set. Build failures are returned wrapping
// ErrBuildFailed; any other error aborts the session.
func (r *Runner) runRepeat(ctx context.Context, p *patcher.Patcher, set params.Set, repeat int) (results.TestResult, error) {
	r.log.Info("Running repeat", "config", set.Name(), "repeat", repeat, "params", set.String())

	var env []string
	if p != nil {
		if _, err := p.Apply(set); err != nil {
			return results.TestResult{}, err
		}
	} else {
		env = Env(set)
	}

	if err := r.builder.Build(ctx, env); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results.TestResult{}, ctxErr
		}
		return results.TestResult{}, err
	}

	for _, role := range r.cfg.Roles {
		if err := os.Remove(r.cfg.LogPath(role)); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("Could not remove stale log", "role", role.Name, "error", err)
		}
	}

	sup := r.newSupervisor(supervisor.Options{
		Dir:         r.cfg.SubjectDir,
		Env:         env,
		GracePeriod: r.cfg.GracePeriod,
	})
	// Stragglers are stopped on every path out of the repeat.
	defer sup.TerminateAll()

	for _, role := range r.cfg.Roles {
		if _, err := sup.Start(role.Name, role.Args, r.cfg.LogPath(role)); err != nil {
			return results.TestResult{}, fmt.Errorf("failed to launch role %s: %w", role.Name, err)
		}
		if err := sleep(ctx, role.Delay); err != nil {
			return results.TestResult{}, err
		}
	}

	if err := r.awaitCompletion(ctx, sup, set.Name(), repeat); err != nil {
		return results.TestResult{}, err
	}
	sup.TerminateAll()

	durations := make(map[string]float64, len(r.cfg.Roles))
	for _, role := range r.cfg.Roles {
		if d, ok := sup.Duration(role.Name); ok {
			durations[role.Name] = d.Seconds()
		} else {
			durations[role.Name] = results.Sentinel
		}
	}
	return results.NewTestResult(set.Name(), set.Snapshot(), durations, repeat), nil
}

// awaitCompletion polls until every transmitter or every receiver has exited, or the
// total timeout passes. Only cancellation is an error.
func (r *Runner) awaitCompletion(ctx context.Context, sup ProcessSupervisor, name string, repeat int) error {
	tx := r.cfg.RoleNames(config.SideTx)
	rx := r.cfg.RoleNames(config.SideRx)

	deadline := time.NewTimer(r.cfg.TotalTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		txDone, err := allCompleted(sup, tx)
		if err != nil {
			return err
		}
		rxDone, err := allCompleted(sup, rx)
		if err != nil {
			return err
		}
		if txDone || rxDone {
			r.log.Debug("Side finished", "config", name, "repeat", repeat, "tx_done", txDone, "rx_done", rxDone)
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			r.log.Warn("Timed out waiting for roles", "config", name, "repeat", repeat, "timeout", r.cfg.TotalTimeout)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// allCompleted polls every name, without stopping at the first running one.
func allCompleted(sup ProcessSupervisor, names []string) (bool, error) {
	all := true
	for _, n := range names {
		done, err := sup.Poll(n)
		if err != nil {
			return false, err
		}
		all = all && done
	}
	return all, nil
}

// Env renders set as MACSWEEP_<NAME>=<value> entries in key order.
func Env(set params.Set) []string {
	keys := set.Keys()
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := set.Get(k)
		env = append(env, EnvVarPrefix+k+"="+strconv.Itoa(v))
	}
	return env
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
