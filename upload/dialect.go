// Package upload drives the resumable upload protocol: it creates upload resources, appends
// chunks at server-tracked offsets and verifies the committed offset, in either the stable
// tus 1.0 dialect or the resumable uploads interop draft dialect.
package upload

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bitrise-io/resumable-upload-bench/check"
)

// Header names used by the two dialects.
const (
	HeaderTusResumable   = "Tus-Resumable"
	HeaderUploadLength   = "Upload-Length"
	HeaderUploadOffset   = "Upload-Offset"
	HeaderUploadComplete = "Upload-Complete"
	HeaderInteropVersion = "Upload-Draft-Interop-Version"
	HeaderContentType    = "Content-Type"
	HeaderLocation       = "Location"
)

// Header values.
const (
	TusVersion            = "1.0.0"
	InteropVersion        = "5"
	OffsetOctetStreamType = "application/offset+octet-stream"

	completeTrue  = "?1"
	completeFalse = "?0"
)

// Dialect selects the header convention used by every request of a session.
type Dialect int

const (
	// DialectStable is tus 1.0: the length is declared at creation, completion is implied by
	// the offset reaching that length, and every message carries Tus-Resumable.
	DialectStable Dialect = iota + 1
	// DialectInteropDraft is the IETF resumable uploads draft (interop version 5): no length is
	// declared, every write says whether it completes the upload.
	DialectInteropDraft
)

// ParseDialect converts a configuration value into a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "stable":
		return DialectStable, nil
	case "interop-draft":
		return DialectInteropDraft, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q (valid: stable, interop-draft)", s)
	}
}

func (d Dialect) String() string {
	switch d {
	case DialectStable:
		return "stable"
	case DialectInteropDraft:
		return "interop-draft"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// Step is one of the three protocol operations.
type Step int

const (
	StepCreate Step = iota + 1
	StepAppend
	StepQuery
)

func (s Step) String() string {
	switch s {
	case StepCreate:
		return "create"
	case StepAppend:
		return "append"
	case StepQuery:
		return "query"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// Method returns the HTTP method of the step.
func (s Step) Method() string {
	switch s {
	case StepCreate:
		return http.MethodPost
	case StepAppend:
		return http.MethodPatch
	default:
		return http.MethodHead
	}
}

// SuccessStatus returns the only status code accepted for the step.
func (s Step) SuccessStatus() int {
	switch s {
	case StepCreate:
		return http.StatusCreated
	case StepAppend:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}

// message carries what a dialect needs to build the headers of one request.
type message struct {
	step           Step
	declaredLength int64
	offset         int64
	hasBody        bool
	final          bool
}

// requestHeaders returns the dialect headers of one request.
func (d Dialect) requestHeaders(m message) (http.Header, error) {
	h := http.Header{}

	switch d {
	case DialectStable:
		h.Set(HeaderTusResumable, TusVersion)
		switch m.step {
		case StepCreate:
			h.Set(HeaderUploadLength, strconv.FormatInt(m.declaredLength, 10))
		case StepAppend:
			h.Set(HeaderUploadOffset, strconv.FormatInt(m.offset, 10))
		}
		if m.hasBody {
			h.Set(HeaderContentType, OffsetOctetStreamType)
		}
	case DialectInteropDraft:
		h.Set(HeaderInteropVersion, InteropVersion)
		switch m.step {
		case StepCreate:
			h.Set(HeaderUploadComplete, completeFlag(m.final))
		case StepAppend:
			h.Set(HeaderUploadOffset, strconv.FormatInt(m.offset, 10))
			h.Set(HeaderUploadComplete, completeFlag(m.final))
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", d)
	}

	return h, nil
}

// responseChecks returns the dialect specific assertions every response must satisfy.
func (d Dialect) responseChecks(header http.Header) []check.Result {
	switch d {
	case DialectStable:
		return []check.Result{
			check.Equal("response includes resumable version", TusVersion, header.Get(HeaderTusResumable)),
		}
	default:
		return nil
	}
}

func completeFlag(final bool) string {
	if final {
		return completeTrue
	}
	return completeFalse
}
