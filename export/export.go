// Package export exposes run results as step outputs through envman.
package export

import (
	"fmt"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/resumable-upload-bench/loadtest"
)

// Output keys set after a run.
const (
	RunIDKey         = "RESUMABLE_UPLOAD_BENCH_RUN_ID"
	ResultKey        = "RESUMABLE_UPLOAD_BENCH_RESULT"
	CompletedKey     = "RESUMABLE_UPLOAD_BENCH_COMPLETED"
	AbortedKey       = "RESUMABLE_UPLOAD_BENCH_ABORTED"
	InterruptedKey   = "RESUMABLE_UPLOAD_BENCH_INTERRUPTED"
	CheckFailuresKey = "RESUMABLE_UPLOAD_BENCH_CHECK_FAILURES"
	BytesKey         = "RESUMABLE_UPLOAD_BENCH_BYTES_ACCEPTED"
)

// Exporter ...
type Exporter struct {
	cmdFactory command.Factory
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{cmdFactory: cmdFactory}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e *Exporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	return runExport(cmd)
}

// ExportSummary exports the totals of a finished run.
func (e *Exporter) ExportSummary(summary loadtest.Summary) error {
	result := "failed"
	if summary.Passed() {
		result = "passed"
	}

	outputs := []struct {
		key   string
		value string
	}{
		{RunIDKey, summary.RunID},
		{ResultKey, result},
		{CompletedKey, strconv.Itoa(summary.Completed)},
		{AbortedKey, strconv.Itoa(summary.Aborted())},
		{InterruptedKey, strconv.Itoa(summary.Interrupted)},
		{CheckFailuresKey, strconv.FormatInt(summary.CheckFailures(), 10)},
		{BytesKey, strconv.FormatInt(summary.BytesAccepted, 10)},
	}
	for _, o := range outputs {
		if err := e.ExportOutput(o.key, o.value); err != nil {
			return fmt.Errorf("export %s: %w", o.key, err)
		}
	}
	return nil
}

func runExport(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}
