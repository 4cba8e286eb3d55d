// Package patcher rewrites integer constants in the subject's configuration source
// and guarantees the original bytes can be written back.
package patcher

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"macsweep/internal/logger"
	"macsweep/internal/params"
)

var (
	// ErrNotCaptured is returned when Apply or Restore runs before CaptureOriginal.
	ErrNotCaptured = errors.New("original configuration not captured")

	// ErrAlreadyCaptured is returned by a second CaptureOriginal call.
	ErrAlreadyCaptured = errors.New("original configuration already captured")
)

// ApplyReport lists which constants were rewritten and which had no declaration.
type ApplyReport struct {
	Applied []string
	Skipped []string
}

// Patcher owns the configuration source for the duration of a session.
type Patcher struct {
	path string
	log  *log.Logger

	mu       sync.Mutex
	captured bool
	original []byte
	mode     os.FileMode
}

// New creates a patcher for the configuration source at path.
func New(path string) *Patcher {
	return &Patcher{
		path: path,
		log:  logger.NewStyledLogger("patcher"),
	}
}

// Path returns the configuration source path.
func (p *Patcher) Path() string {
	return p.path
}

// CaptureOriginal reads and keeps the configuration source verbatim.
// It must be called exactly once, before the first Apply.
func (p *Patcher) CaptureOriginal() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.captured {
		return ErrAlreadyCaptured
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("failed to stat configuration source: %w", err)
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read configuration source: %w", err)
	}
	p.original = data
	p.mode = info.Mode().Perm()
	p.captured = true
	p.log.Debug("Captured configuration source", "path", p.path, "bytes", len(data))
	return nil
}

// Original returns a copy of the captured content.
func (p *Patcher) Original() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.captured {
		return nil, ErrNotCaptured
	}
	out := make([]byte, len(p.original))
	copy(out, p.original)
	return out, nil
}

// Apply rewrites every constant of set that has a matching declaration.
// Each set is applied on top of the captured original, so constants a set does
// not name keep their original values. Constants without a declaration are skipped.
func (p *Patcher) Apply(set params.Set) (ApplyReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.captured {
		return ApplyReport{}, ErrNotCaptured
	}

	content, report := rewrite(p.original, set)
	for _, key := range report.Skipped {
		p.log.Warn("Constant declaration not found, skipping", "config", set.Name(), "constant", key)
	}

	if err := os.WriteFile(p.path, content, p.mode); err != nil {
		return report, fmt.Errorf("failed to write patched configuration: %w", err)
	}
	p.log.Debug("Applied parameter set", "config", set.Name(), "applied", len(report.Applied), "skipped", len(report.Skipped))
	return report, nil
}

// Restore writes the captured content back verbatim. It is idempotent.
func (p *Patcher) Restore() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.captured {
		return ErrNotCaptured
	}
	if err := os.WriteFile(p.path, p.original, p.mode); err != nil {
		return fmt.Errorf("failed to restore configuration source: %w", err)
	}
	p.log.Debug("Restored configuration source", "path", p.path)
	return nil
}

// WithOriginal captures the source at path, runs fn and restores the source on
// every exit path, including a panic in fn. Restore failures are joined to fn's error.
func WithOriginal(path string, fn func(p *Patcher) error) (err error) {
	p := New(path)
	if err := p.CaptureOriginal(); err != nil {
		return err
	}

	defer func() {
		r := recover()
		if rerr := p.Restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if r != nil {
			panic(r)
		}
	}()

	return fn(p)
}

// declPattern matches `pub const NAME: TYPE = <int>` and captures everything before the literal.
// The literal must be plain decimal; hex, octal and suffixed literals do not match.
func declPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(pub\s+const\s+` + regexp.QuoteMeta(name) + `\s*:\s*\w+\s*=\s*)-?\d[\d_]*\b`)
}

// rewrite substitutes the literals of set into content without touching anything else.
func rewrite(content []byte, set params.Set) ([]byte, ApplyReport) {
	var report ApplyReport
	out := content
	for _, key := range set.Keys() {
		value, _ := set.Get(key)
		re := declPattern(key)
		if !re.Match(out) {
			report.Skipped = append(report.Skipped, key)
			continue
		}
		literal := []byte(strconv.Itoa(value))
		out = re.ReplaceAllFunc(out, func(match []byte) []byte {
			prefix := re.FindSubmatch(match)[1]
			replaced := make([]byte, 0, len(prefix)+len(literal))
			replaced = append(replaced, prefix...)
			return append(replaced, literal...)
		})
		report.Applied = append(report.Applied, key)
	}
	return out, report
}
