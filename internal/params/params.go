// Package params defines the parameter sets swept by macsweep.
// A Space is a fixed, ordered enumeration of named Sets; neither can be mutated after construction.
package params

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Constant names understood by the subject's configuration source.
const (
	SamplesPerLevel      = "SAMPLES_PER_LEVEL"
	PreamblePatternBytes = "PREAMBLE_PATTERN_BYTES"
	DIFSDurationMS       = "DIFS_DURATION_MS"
	CWMin                = "CW_MIN"
	CWMax                = "CW_MAX"
	SlotTimeMS           = "SLOT_TIME_MS"
	MaxFrameDataSize     = "MAX_FRAME_DATA_SIZE"
)

// ErrUnknownSet is returned when a requested set name is not part of the space.
var ErrUnknownSet = errors.New("unknown parameter set")

// Set is an immutable named mapping from constant name to integer value.
type Set struct {
	name   string
	values map[string]int
}

// NewSet builds a Set, copying values so later changes to the map do not leak in.
func NewSet(name string, values map[string]int) (Set, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Set{}, fmt.Errorf("parameter set name is required")
	}
	if len(values) == 0 {
		return Set{}, fmt.Errorf("parameter set %q has no constants", name)
	}
	copied := make(map[string]int, len(values))
	for k, v := range values {
		if strings.TrimSpace(k) == "" {
			return Set{}, fmt.Errorf("parameter set %q has an empty constant name", name)
		}
		copied[k] = v
	}
	return Set{name: name, values: copied}, nil
}

// MustSet is NewSet for static enumerations; it panics on invalid input.
func MustSet(name string, values map[string]int) Set {
	s, err := NewSet(name, values)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the identity of the set.
func (s Set) Name() string {
	return s.name
}

// Get returns the value for key and whether it is present.
func (s Set) Get(key string) (int, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the constant names in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the values.
func (s Set) Snapshot() map[string]int {
	out := make(map[string]int, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of constants in the set.
func (s Set) Len() int {
	return len(s.values)
}

// String renders the set as name{K=V, ...} with sorted keys.
func (s Set) String() string {
	parts := make([]string, 0, len(s.values))
	for _, k := range s.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.values[k]))
	}
	return fmt.Sprintf("%s{%s}", s.name, strings.Join(parts, ", "))
}

// Space is an ordered enumeration of Sets with unique names.
type Space struct {
	sets []Set
}

// NewSpace validates and builds a Space. Order is preserved.
func NewSpace(sets ...Set) (*Space, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("parameter space is empty")
	}
	seen := make(map[string]bool, len(sets))
	for i, s := range sets {
		if s.name == "" || len(s.values) == 0 {
			return nil, fmt.Errorf("parameter set[%d] is not initialized", i)
		}
		if seen[s.name] {
			return nil, fmt.Errorf("duplicate parameter set name %q", s.name)
		}
		seen[s.name] = true
	}
	copied := make([]Set, len(sets))
	copy(copied, sets)
	return &Space{sets: copied}, nil
}

// Sets returns the enumeration in order.
func (sp *Space) Sets() []Set {
	out := make([]Set, len(sp.sets))
	copy(out, sp.sets)
	return out
}

// Len returns the number of sets.
func (sp *Space) Len() int {
	return len(sp.sets)
}

// Lookup finds a set by name.
func (sp *Space) Lookup(name string) (Set, bool) {
	for _, s := range sp.sets {
		if s.name == name {
			return s, true
		}
	}
	return Set{}, false
}

// Select returns a new Space restricted to names, keeping enumeration order.
// An empty selection returns the space unchanged.
func (sp *Space) Select(names ...string) (*Space, error) {
	if len(names) == 0 {
		return sp, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := sp.Lookup(n); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSet, n)
		}
		wanted[n] = true
	}
	var picked []Set
	for _, s := range sp.sets {
		if wanted[s.name] {
			picked = append(picked, s)
		}
	}
	return NewSpace(picked...)
}

// Default returns the built-in sweep over the link-layer constants.
func Default() *Space {
	base := func(overrides map[string]int) map[string]int {
		v := map[string]int{
			SamplesPerLevel:      3,
			PreamblePatternBytes: 4,
			DIFSDurationMS:       20,
			CWMin:                10,
			CWMax:                200,
			SlotTimeMS:           5,
			MaxFrameDataSize:     768,
		}
		for k, o := range overrides {
			v[k] = o
		}
		return v
	}

	space, err := NewSpace(
		MustSet("baseline", base(nil)),
		MustSet("larger mincw", base(map[string]int{CWMin: 50})),
		MustSet("1024 frame", base(map[string]int{MaxFrameDataSize: 1024})),
		MustSet("512 frame", base(map[string]int{MaxFrameDataSize: 512})),
		MustSet("128 frame", base(map[string]int{MaxFrameDataSize: 128})),
		MustSet("robust_encoding", base(map[string]int{SamplesPerLevel: 5, PreamblePatternBytes: 8})),
		MustSet("aggressive_backoff", base(map[string]int{CWMin: 2, CWMax: 32, SlotTimeMS: 2})),
		MustSet("conservative_backoff", base(map[string]int{DIFSDurationMS: 30, CWMin: 20, CWMax: 400, SlotTimeMS: 8})),
		MustSet("short_difs", base(map[string]int{DIFSDurationMS: 10})),
	)
	if err != nil {
		panic(err)
	}
	return space
}
