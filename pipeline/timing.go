package pipeline

import (
	"sort"
	"sync"
	"time"
)

// StageStats summarizes the durations of one stage across a run.
type StageStats struct {
	Stage string        `json:"stage"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Mean returns the average duration.
func (s StageStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Timings aggregates stage durations recorded by concurrent workers.
type Timings struct {
	mu     sync.Mutex
	stages map[string]*StageStats
}

// NewTimings creates an empty aggregate.
func NewTimings() *Timings {
	return &Timings{stages: make(map[string]*StageStats)}
}

// Record adds one duration for stage.
func (t *Timings) Record(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stages[stage]
	if !ok {
		s = &StageStats{Stage: stage, Min: d, Max: d}
		t.stages[stage] = s
	}
	s.Count++
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Get returns the stats for stage.
func (t *Timings) Get(stage string) (StageStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stages[stage]
	if !ok {
		return StageStats{}, false
	}
	return *s, true
}

// Snapshot returns a copy of every stage, sorted by name.
func (t *Timings) Snapshot() []StageStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StageStats, 0, len(t.stages))
	for _, s := range t.stages {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
