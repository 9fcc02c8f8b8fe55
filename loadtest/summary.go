package loadtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/resumable-upload-bench/check"
	"github.com/bitrise-io/resumable-upload-bench/upload"
	"github.com/docker/go-units"
)

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID         string
	Completed     int
	Interrupted   int
	AbortedByKind map[upload.Kind]int
	Checks        []check.Counts
	Steps         map[upload.Step]upload.StepStats
	BytesAccepted int64
	Elapsed       time.Duration
}

// Aborted returns the number of aborted iterations.
func (s Summary) Aborted() int {
	n := 0
	for _, count := range s.AbortedByKind {
		n += count
	}
	return n
}

// Iterations returns the number of iterations that were started.
func (s Summary) Iterations() int {
	return s.Completed + s.Aborted() + s.Interrupted
}

// CheckFailures returns the number of failed assertions.
func (s Summary) CheckFailures() int64 {
	var fails int64
	for _, c := range s.Checks {
		fails += c.Fails
	}
	return fails
}

// Passed reports whether no iteration was aborted and no check failed.
func (s Summary) Passed() bool {
	return s.Aborted() == 0 && s.CheckFailures() == 0
}

// Throughput returns accepted bytes per second.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.BytesAccepted) / s.Elapsed.Seconds()
}

// Print writes the summary the way a load test report lists it: checks first, then
// iterations, requests and transfer totals.
func (s Summary) Print(logger log.Logger) {
	logger.Println()
	logger.Infof("Checks:")
	for _, c := range s.Checks {
		if c.Fails == 0 {
			logger.Donef("  ✓ %s (%d passed)", c.Name, c.Passes)
		} else {
			logger.Errorf("  ✗ %s (%d passed, %d failed)", c.Name, c.Passes, c.Fails)
		}
	}

	logger.Println()
	logger.Infof("Iterations:")
	logger.Printf("  completed:   %d", s.Completed)
	logger.Printf("  aborted:     %d%s", s.Aborted(), s.abortedDetails())
	logger.Printf("  interrupted: %d", s.Interrupted)

	logger.Println()
	logger.Infof("Requests:")
	for _, step := range []upload.Step{upload.StepCreate, upload.StepAppend, upload.StepQuery} {
		stats, ok := s.Steps[step]
		if !ok || stats.Requests == 0 {
			continue
		}
		logger.Printf("  %-6s %d (avg %s)", step, stats.Requests, stats.Average().Round(time.Microsecond))
	}

	logger.Println()
	logger.Printf("Uploaded %s in %s (%s/s)",
		units.BytesSize(float64(s.BytesAccepted)),
		s.Elapsed.Round(time.Millisecond),
		units.BytesSize(s.Throughput()))

	if s.Passed() {
		logger.Donef("All %d iterations passed", s.Iterations())
	} else {
		logger.Warnf("%d of %d iterations aborted, %d checks failed", s.Aborted(), s.Iterations(), s.CheckFailures())
	}
}

func (s Summary) abortedDetails() string {
	if len(s.AbortedByKind) == 0 {
		return ""
	}

	parts := make([]string, 0, len(s.AbortedByKind))
	for kind, count := range s.AbortedByKind {
		parts = append(parts, fmt.Sprintf("%s: %d", kind, count))
	}
	sort.Strings(parts)

	return " (" + strings.Join(parts, ", ") + ")"
}
