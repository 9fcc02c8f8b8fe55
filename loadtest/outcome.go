package loadtest

import (
	"fmt"
	"time"

	"github.com/bitrise-io/resumable-upload-bench/upload"
)

// State is the terminal state of one iteration.
type State int

const (
	// StateCompleted means every byte was accepted and the final offset matched the length.
	StateCompleted State = iota + 1
	// StateAborted means a check failed; the session was abandoned.
	StateAborted
	// StateInterrupted means the run or iteration budget ran out while the upload was in
	// flight. It is not a protocol failure.
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the result of one iteration.
type Outcome struct {
	ID        string
	Actor     int
	Iteration int
	State     State
	// Kind is set for aborted iterations.
	Kind     upload.Kind
	Err      error
	Duration time.Duration
}
