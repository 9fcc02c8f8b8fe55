package loadtest

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

type runTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newRunTracker(tracker analytics.Tracker, logger log.Logger) runTracker {
	return runTracker{
		tracker: tracker,
		logger:  logger,
	}
}

func (t *runTracker) logIterationFinished(outcome Outcome) {
	if t.tracker == nil {
		return
	}

	properties := analytics.Properties{
		"iteration_id": outcome.ID,
		"actor":        outcome.Actor,
		"iteration":    outcome.Iteration,
		"outcome":      outcome.State.String(),
		"duration_ms":  outcome.Duration.Milliseconds(),
	}
	if outcome.State == StateAborted {
		properties["failure_kind"] = outcome.Kind.String()
	}
	t.tracker.Enqueue("resumable_upload_bench_iteration_finished", properties)
}

func (t *runTracker) logRunFinished(summary Summary) {
	if t.tracker == nil {
		return
	}

	properties := analytics.Properties{
		"completed":      summary.Completed,
		"aborted":        summary.Aborted(),
		"interrupted":    summary.Interrupted,
		"check_failures": summary.CheckFailures(),
		"bytes_accepted": summary.BytesAccepted,
		"elapsed_s":      summary.Elapsed.Truncate(time.Second).Seconds(),
	}
	t.tracker.Enqueue("resumable_upload_bench_run_finished", properties)
}

func (t *runTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.logger.TDebugf("Waiting for analytics events to be sent")
	t.tracker.Wait()
}
