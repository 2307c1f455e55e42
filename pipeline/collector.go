// Package pipeline - Runs the preprocessing chain and the inference engine over
// a dataset and collects the results in enumeration order.
package pipeline

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/dataset"
	"github.com/nvr-ai/go-classify/errdefs"
)

// ScoredResult is the outcome for one record. Exactly one of Output and Err
// is set.
type ScoredResult struct {
	// Index is the position of the record in the enumeration.
	Index  int
	Record dataset.ImageRecord
	// Output is the raw model output, one value per class.
	Output []float32
	Err    error
	// Stage names where a failure happened.
	Stage    string
	Duration time.Duration
}

// OK reports whether the record was scored.
func (r ScoredResult) OK() bool { return r.Err == nil }

// Kind returns the failure kind, or "" for a scored record.
func (r ScoredResult) Kind() errdefs.Kind { return errdefs.KindOf(r.Err) }

// Collector stores results by enumeration index. Workers may complete out of
// order; readers always see enumeration order.
type Collector struct {
	mu      sync.RWMutex
	results []ScoredResult
	filled  []bool
	count   int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Reserve assigns the next enumeration index.
func (c *Collector) Reserve() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, ScoredResult{})
	c.filled = append(c.filled, false)
	return len(c.results) - 1
}

// Set stores r at r.Index, which must come from Reserve.
func (c *Collector) Set(r ScoredResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Index < 0 || r.Index >= len(c.results) {
		return errors.Errorf("result index %d was never reserved", r.Index)
	}
	if !c.filled[r.Index] {
		c.count++
	}
	c.results[r.Index] = r
	c.filled[r.Index] = true
	return nil
}

// All returns every completed result in enumeration order. Reserved slots
// that were never completed, such as records dropped by cancellation, are
// skipped.
func (c *Collector) All() []ScoredResult {
	return c.filter(func(ScoredResult) bool { return true })
}

// Scored returns the successful results in enumeration order.
func (c *Collector) Scored() []ScoredResult {
	return c.filter(ScoredResult.OK)
}

// Failed returns the failed results in enumeration order.
func (c *Collector) Failed() []ScoredResult {
	return c.filter(func(r ScoredResult) bool { return !r.OK() })
}

// Len returns the number of completed results.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

func (c *Collector) filter(keep func(ScoredResult) bool) []ScoredResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ScoredResult, 0, c.count)
	for i, r := range c.results {
		if c.filled[i] && keep(r) {
			out = append(out, r)
		}
	}
	return out
}
