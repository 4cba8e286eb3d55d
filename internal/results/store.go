package results

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Document is the persisted form of a session's results.
type Document struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Results   []TestResult `json:"results"`
}

// GroupStats aggregates max_time over the repeats of one configuration.
type GroupStats struct {
	ConfigName string             `json:"config_name"`
	Runs       int                `json:"runs"`
	Incomplete int                `json:"incomplete"`
	Mean       float64            `json:"mean"`
	StdDev     float64            `json:"std_dev"`
	MaxTimes   []float64          `json:"max_times"`
	RoleMeans  map[string]float64 `json:"role_means"`
}

// Store accumulates results for one session.
type Store struct {
	sessionID string
	now       func() time.Time

	mu      sync.Mutex
	results []TestResult
}

// NewStore creates an empty store for sessionID.
func NewStore(sessionID string) *Store {
	return &Store{sessionID: sessionID, now: time.Now}
}

// FromDocument rebuilds a store from a persisted document.
func FromDocument(doc Document) *Store {
	s := NewStore(doc.SessionID)
	s.results = append(s.results, doc.Results...)
	return s
}

// SessionID returns the session the results belong to.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Append adds a result, stamping it with the store's session when it has none.
func (s *Store) Append(r TestResult) {
	if r.SessionID == "" {
		r.SessionID = s.sessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// Results returns a copy of all results in append order.
func (s *Store) Results() []TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TestResult(nil), s.results...)
}

// Len returns the number of results.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Persist writes results_YYYYMMDD_HHMMSS.json into dir and returns its path.
func (s *Store) Persist(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	now := s.now()
	doc := Document{
		Timestamp: now,
		SessionID: s.sessionID,
		Results:   s.Results(),
	}
	if doc.Results == nil {
		doc.Results = []TestResult{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("results_%s.json", now.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}
	return path, nil
}

// Load reads a document written by Persist.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read results file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse results file %s: %w", path, err)
	}
	return doc, nil
}

// GroupByConfig partitions results by configuration name, in first-seen order, and
// computes the mean and population standard deviation of max_time per group.
// Repeats where no role completed are counted as Incomplete and left out of the statistics.
func (s *Store) GroupByConfig() []GroupStats {
	results := s.Results()

	index := make(map[string]int)
	var groups []GroupStats
	roleSums := make(map[string]map[string]float64)
	roleCounts := make(map[string]map[string]int)

	for _, r := range results {
		i, ok := index[r.ConfigName]
		if !ok {
			i = len(groups)
			index[r.ConfigName] = i
			groups = append(groups, GroupStats{ConfigName: r.ConfigName, RoleMeans: map[string]float64{}})
			roleSums[r.ConfigName] = map[string]float64{}
			roleCounts[r.ConfigName] = map[string]int{}
		}
		g := &groups[i]
		g.Runs++
		if IsSentinel(r.MaxTime) {
			g.Incomplete++
		} else {
			g.MaxTimes = append(g.MaxTimes, r.MaxTime)
		}
		for role, d := range r.Durations {
			if IsSentinel(d) {
				continue
			}
			roleSums[r.ConfigName][role] += d
			roleCounts[r.ConfigName][role]++
		}
	}

	for i := range groups {
		g := &groups[i]
		g.Mean, g.StdDev = meanStd(g.MaxTimes)
		for role, sum := range roleSums[g.ConfigName] {
			g.RoleMeans[role] = sum / float64(roleCounts[g.ConfigName][role])
		}
	}
	return groups
}

// meanStd returns the mean and population standard deviation; zeros for no samples.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
