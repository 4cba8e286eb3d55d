// Package config holds the harness settings: where the subject lives, how it is built,
// how its roles are launched and how long the runner waits for them.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Injection selects how parameter values reach the subject.
type Injection string

const (
	// InjectionSource rewrites the constants file before each build.
	InjectionSource Injection = "source"
	// InjectionEnv passes MACSWEEP_<NAME>=<value> to the build and role processes.
	InjectionEnv Injection = "env"
)

// Side is the modem direction a role plays.
type Side string

// Role sides.
const (
	SideTx Side = "tx"
	SideRx Side = "rx"
)

// Role is one subject process in the launch plan. Delay is the pause after launching
// it and must be positive for every role but the last.
type Role struct {
	Name    string        `mapstructure:"name"`
	Side    Side          `mapstructure:"side"`
	Args    []string      `mapstructure:"args"`
	LogFile string        `mapstructure:"log_file"`
	Delay   time.Duration `mapstructure:"delay"`
}

// Config is the complete harness configuration.
type Config struct {
	SubjectDir   string        `mapstructure:"subject_dir"`
	ConstsFile   string        `mapstructure:"consts_file"`
	LogDir       string        `mapstructure:"log_dir"`
	ResultsDir   string        `mapstructure:"results_dir"`
	BuildCommand []string      `mapstructure:"build_command"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	Repeats      int           `mapstructure:"repeats"`
	Injection    Injection     `mapstructure:"injection"`
	ParamsFile   string        `mapstructure:"params_file"`
	LogLevel     string        `mapstructure:"log_level"`
	Roles        []Role        `mapstructure:"roles"`
}

// Default harness values.
const (
	DefaultConstsFile   = "src/utils/consts.rs"
	DefaultLogDir       = "tmp"
	DefaultResultsDir   = "tmp/experiment_logs"
	DefaultBuildTimeout = 120 * time.Second
	DefaultTotalTimeout = 120 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGracePeriod  = 2 * time.Second
	DefaultSettleDelay  = 2 * time.Second
	DefaultRepeats      = 4
)

// DefaultBuildCommand builds the subject.
var DefaultBuildCommand = []string{"cargo", "build"}

func subjectRun(args ...string) []string {
	return append([]string{"cargo", "run", "--release", "--"}, args...)
}

// DefaultRoles is the two-link plan: both receivers first, then both transmitters.
func DefaultRoles() []Role {
	return []Role{
		{Name: "rx2", Side: SideRx, Args: subjectRun("rx", "-l", "2", "-r", "1", "-d", "40"), LogFile: "rx2.log", Delay: time.Second},
		{Name: "rx1", Side: SideRx, Args: subjectRun("rx", "-l", "1", "-r", "2", "-d", "40"), LogFile: "rx1.log", Delay: time.Second},
		{Name: "tx2", Side: SideTx, Args: subjectRun("tx", "-l", "2", "-r", "1"), LogFile: "tx2.log", Delay: 500 * time.Millisecond},
		{Name: "tx1", Side: SideTx, Args: subjectRun("tx", "-l", "1", "-r", "2"), LogFile: "tx1.log"},
	}
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		SubjectDir:   ".",
		ConstsFile:   DefaultConstsFile,
		LogDir:       DefaultLogDir,
		ResultsDir:   DefaultResultsDir,
		BuildCommand: append([]string(nil), DefaultBuildCommand...),
		BuildTimeout: DefaultBuildTimeout,
		TotalTimeout: DefaultTotalTimeout,
		PollInterval: DefaultPollInterval,
		GracePeriod:  DefaultGracePeriod,
		SettleDelay:  DefaultSettleDelay,
		Repeats:      DefaultRepeats,
		Injection:    InjectionSource,
		Roles:        DefaultRoles(),
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SubjectDir) == "" {
		errs = append(errs, errors.New("subject_dir must not be empty"))
	}
	if c.Injection == InjectionSource && strings.TrimSpace(c.ConstsFile) == "" {
		errs = append(errs, errors.New("consts_file is required for source injection"))
	}
	if len(c.BuildCommand) == 0 {
		errs = append(errs, errors.New("build_command must not be empty"))
	}
	for key, d := range map[string]time.Duration{
		"build_timeout": c.BuildTimeout,
		"total_timeout": c.TotalTimeout,
		"poll_interval": c.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative, got %s", c.GracePeriod))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle_delay must not be negative, got %s", c.SettleDelay))
	}
	if c.Repeats < 1 {
		errs = append(errs, fmt.Errorf("repeats must be at least 1, got %d", c.Repeats))
	}
	switch c.Injection {
	case InjectionSource, InjectionEnv:
	default:
		errs = append(errs, fmt.Errorf("unknown injection mode %q (want %q or %q)", c.Injection, InjectionSource, InjectionEnv))
	}
	errs = append(errs, c.validateRoles()...)
	return errors.Join(errs...)
}

func (c *Config) validateRoles() []error {
	if len(c.Roles) == 0 {
		return []error{errors.New("roles must not be empty")}
	}
	var errs []error
	seen := make(map[string]bool)
	sides := make(map[Side]bool)
	last := len(c.Roles) - 1
	for i, r := range c.Roles {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("roles[%d]: name is required", i))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("roles[%d]: duplicate role %q", i, r.Name))
		}
		seen[r.Name] = true
		if r.Side != SideTx && r.Side != SideRx {
			errs = append(errs, fmt.Errorf("role %q: side must be %q or %q, got %q", r.Name, SideTx, SideRx, r.Side))
		}
		if r.Side == SideRx && sides[SideTx] {
			errs = append(errs, fmt.Errorf("role %q: receivers must be listed before every transmitter", r.Name))
		}
		sides[r.Side] = true
		if len(r.Args) == 0 {
			errs = append(errs, fmt.Errorf("role %q: args must not be empty", r.Name))
		}
		if r.Delay < 0 {
			errs = append(errs, fmt.Errorf("role %q: delay must not be negative", r.Name))
		} else if r.Delay == 0 && i < last {
			errs = append(errs, fmt.Errorf("role %q: delay must be positive before the next launch", r.Name))
		}
	}
	if !sides[SideTx] || !sides[SideRx] {
		errs = append(errs, errors.New("roles must include at least one tx and one rx"))
	}
	return errs
}

// resolve joins p onto the subject directory unless it is absolute.
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.SubjectDir, p)
}

// ConstsPath is the constants file the patcher owns.
func (c *Config) ConstsPath() string { return c.resolve(c.ConstsFile) }

// LogPath is where role r writes its combined output.
func (c *Config) LogPath(r Role) string {
	name := r.LogFile
	if name == "" {
		name = r.Name + ".log"
	}
	return filepath.Join(c.resolve(c.LogDir), name)
}

// ResultsPath is the directory results documents are written to.
func (c *Config) ResultsPath() string { return c.resolve(c.ResultsDir) }

// RoleNames returns the role names on one side, in plan order.
func (c *Config) RoleNames(side Side) []string {
	var names []string
	for _, r := range c.Roles {
		if r.Side == side {
			names = append(names, r.Name)
		}
	}
	return names
}
