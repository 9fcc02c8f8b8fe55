// Package check records named pass/fail assertions made against protocol responses and keeps
// aggregate counts per check name for the run summary.
package check

import (
	"fmt"
	"strings"
	"sync"
)

// Result is the outcome of one named assertion.
type Result struct {
	Name     string
	Passed   bool
	Expected string
	Actual   string
}

func (r Result) String() string {
	if r.Passed {
		return fmt.Sprintf("%s: ok", r.Name)
	}
	return fmt.Sprintf("%s: expected %s, got %s", r.Name, r.Expected, r.Actual)
}

// Equal builds a Result that passes when expected and actual are equal.
func Equal[T comparable](name string, expected, actual T) Result {
	return Result{
		Name:     name,
		Passed:   expected == actual,
		Expected: fmt.Sprintf("%v", expected),
		Actual:   fmt.Sprintf("%v", actual),
	}
}

// That builds a Result from an already evaluated condition.
func That(name string, passed bool, expected, actual string) Result {
	return Result{
		Name:     name,
		Passed:   passed,
		Expected: expected,
		Actual:   actual,
	}
}

// Describe joins the failed results into a single line.
func Describe(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "; ")
}

// Observer is notified about every recorded result.
type Observer interface {
	ObserveCheck(name string, passed bool)
}

// Counts holds the pass and fail totals of one check.
type Counts struct {
	Name   string
	Passes int64
	Fails  int64
}

// Registry aggregates check results. It is safe for concurrent use by multiple actors.
type Registry struct {
	mu       sync.Mutex
	counts   map[string]*Counts
	order    []string
	observer Observer
}

// NewRegistry creates an empty Registry. observer may be nil.
func NewRegistry(observer Observer) *Registry {
	return &Registry{
		counts:   map[string]*Counts{},
		observer: observer,
	}
}

// Check records every result and returns the failed ones in the order they were given.
// An empty return value means every assertion passed.
func (r *Registry) Check(results ...Result) []Result {
	var failed []Result

	r.mu.Lock()
	for _, result := range results {
		c, ok := r.counts[result.Name]
		if !ok {
			c = &Counts{Name: result.Name}
			r.counts[result.Name] = c
			r.order = append(r.order, result.Name)
		}
		if result.Passed {
			c.Passes++
		} else {
			c.Fails++
			failed = append(failed, result)
		}
	}
	r.mu.Unlock()

	if r.observer != nil {
		for _, result := range results {
			r.observer.ObserveCheck(result.Name, result.Passed)
		}
	}

	return failed
}

// Counts returns the totals of a single check.
func (r *Registry) Counts(name string) Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counts[name]; ok {
		return *c
	}
	return Counts{Name: name}
}

// Snapshot returns the totals of every check in first-seen order.
func (r *Registry) Snapshot() []Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Counts, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, *r.counts[name])
	}
	return snapshot
}

// Failures returns the number of failed assertions across all checks.
func (r *Registry) Failures() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fails int64
	for _, c := range r.counts {
		fails += c.Fails
	}
	return fails
}
