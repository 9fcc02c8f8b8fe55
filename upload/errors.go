package upload

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/resumable-upload-bench/check"
)

// Kind classifies why an iteration had to be abandoned.
type Kind int

const (
	KindCreationFailed Kind = iota + 1
	KindAppendFailed
	KindOffsetMismatch
	KindIncompleteUpload
)

// Sentinels matched through errors.Is against a *StepError of the same Kind.
var (
	ErrCreationFailed   = errors.New("upload creation failed")
	ErrAppendFailed     = errors.New("upload appending failed")
	ErrOffsetMismatch   = errors.New("offset retrieve failed")
	ErrIncompleteUpload = errors.New("upload was not completed")
)

// ErrNoRequestSlot is returned when the request pacing cannot grant a request before the
// context deadline. Like a cancelled context it means the budget ran out, not that the
// server misbehaved.
var ErrNoRequestSlot = errors.New("no request slot before deadline")

func (k Kind) String() string {
	switch k {
	case KindCreationFailed:
		return "CreationFailed"
	case KindAppendFailed:
		return "AppendFailed"
	case KindOffsetMismatch:
		return "OffsetMismatch"
	case KindIncompleteUpload:
		return "IncompleteUpload"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindCreationFailed:
		return ErrCreationFailed
	case KindAppendFailed:
		return ErrAppendFailed
	case KindOffsetMismatch:
		return ErrOffsetMismatch
	case KindIncompleteUpload:
		return ErrIncompleteUpload
	default:
		return nil
	}
}

// StepError reports a protocol step that did not satisfy its checks.
// Failed holds the violated checks with their observed and expected values, Err the transport
// error if the request never produced a response.
type StepError struct {
	Kind   Kind
	Step   Step
	Failed []check.Result
	Err    error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s step failed", e.Step)
	if sentinel := e.Kind.sentinel(); sentinel != nil {
		msg = sentinel.Error()
	}
	if len(e.Failed) > 0 {
		msg += ": " + check.Describe(e.Failed)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *StepError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}
