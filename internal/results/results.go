// Package results holds per-repeat measurements and the session results document.
package results

import (
	"math"
	"sort"
)

// Sentinel marks a duration for a role that did not complete.
const Sentinel = -1.0

// TestResult is the record of one repeat. It is never mutated after creation.
type TestResult struct {
	ConfigName string             `json:"config_name"`
	Parameters map[string]int     `json:"parameters"`
	Durations  map[string]float64 `json:"durations"`
	MaxTime    float64            `json:"max_time"`
	Repeat     int                `json:"repeat"`
	SessionID  string             `json:"session_id,omitempty"`
}

// NewTestResult builds a result, copying its maps and deriving MaxTime from durations.
// Durations are in seconds; Sentinel marks roles that did not complete.
func NewTestResult(configName string, parameters map[string]int, durations map[string]float64, repeat int) TestResult {
	p := make(map[string]int, len(parameters))
	for k, v := range parameters {
		p[k] = v
	}
	d := make(map[string]float64, len(durations))
	for k, v := range durations {
		d[k] = v
	}
	return TestResult{
		ConfigName: configName,
		Parameters: p,
		Durations:  d,
		MaxTime:    MaxTime(d),
		Repeat:     repeat,
	}
}

// MaxTime is the largest completed duration, or Sentinel when no role completed.
func MaxTime(durations map[string]float64) float64 {
	max := Sentinel
	for _, v := range durations {
		if IsSentinel(v) {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

// IsSentinel reports whether v marks a role that did not complete.
func IsSentinel(v float64) bool {
	return v < 0 || math.IsNaN(v)
}

// Complete reports whether every role finished.
func (r TestResult) Complete() bool {
	for _, v := range r.Durations {
		if IsSentinel(v) {
			return false
		}
	}
	return true
}

// Roles returns the role names in sorted order.
func (r TestResult) Roles() []string {
	roles := make([]string, 0, len(r.Durations))
	for role := range r.Durations {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
