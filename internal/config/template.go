package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfigExists is returned by WriteTemplate when the target exists and overwrite is off.
var ErrConfigExists = errors.New("config file already exists")

// Template is the annotated settings file written by `macsweep init`.
// Loading it yields exactly Default().
const Template = `# macsweep harness configuration.
# Every key can be overridden with MACSWEEP_<KEY>, e.g. MACSWEEP_REPEATS=2,
# either in the environment or in a .env file next to this one.

# Root of the subject project; relative paths below resolve against it.
subject_dir: "."
# Constants file rewritten for each parameter set (source injection only).
consts_file: src/utils/consts.rs
log_dir: tmp
results_dir: tmp/experiment_logs

# source: rewrite consts_file; env: pass MACSWEEP_<NAME>=<value> to build and roles.
injection: source

build_command: [cargo, build]
build_timeout: 2m0s

# A repeat stops as soon as every tx or every rx role has exited.
total_timeout: 2m0s
poll_interval: 500ms
grace_period: 2s
settle_delay: 2s
repeats: 4

# params_file: sweep.yaml
# log_level: debug

# Launched in order; delay is the pause after launching that role.
roles:
  - name: rx2
    side: rx
    args: [cargo, run, "--release", "--", rx, "-l", "2", "-r", "1", "-d", "40"]
    log_file: rx2.log
    delay: 1s
  - name: rx1
    side: rx
    args: [cargo, run, "--release", "--", rx, "-l", "1", "-r", "2", "-d", "40"]
    log_file: rx1.log
    delay: 1s
  - name: tx2
    side: tx
    args: [cargo, run, "--release", "--", tx, "-l", "2", "-r", "1"]
    log_file: tx2.log
    delay: 500ms
  - name: tx1
    side: tx
    args: [cargo, run, "--release", "--", tx, "-l", "1", "-r", "2"]
    log_file: tx1.log
    delay: 0s
`

// WriteTemplate writes Template to path, creating parent directories.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
