package loadtest

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bitrise-io/resumable-upload-bench/upload"
)

// Options is the immutable description of one run.
type Options struct {
	// Endpoint is the upload creation URL.
	Endpoint string
	// Dialect is used by every session of the run.
	Dialect upload.Dialect
	// UploadLength is the size of a single upload in bytes.
	UploadLength int64
	// RequestPayloadSize is the maximum number of bytes sent in a single request.
	RequestPayloadSize int64
	// CreationWithData sends the first chunk in the creation request.
	CreationWithData bool
	// RetrieveOffsetBetweenRequests issues an offset retrieval after every append.
	RetrieveOffsetBetweenRequests bool
	// VirtualUsers is the number of concurrent actors.
	VirtualUsers int
	// UploadsPerVirtualUser is the number of sequential uploads per actor.
	UploadsPerVirtualUser int
	// MaxDuration bounds the whole run. Zero means no limit.
	MaxDuration time.Duration
	// IterationTimeout bounds a single upload. Zero means no limit.
	IterationTimeout time.Duration
}

// Validate checks the options for values no run can be started with.
func (o Options) Validate() error {
	var errs []error

	u, err := url.Parse(o.Endpoint)
	switch {
	case o.Endpoint == "":
		errs = append(errs, errors.New("endpoint is empty"))
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid endpoint: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("endpoint must be an http(s) URL, got %q", o.Endpoint))
	}

	if o.Dialect != upload.DialectStable && o.Dialect != upload.DialectInteropDraft {
		errs = append(errs, fmt.Errorf("unsupported dialect: %s", o.Dialect))
	}
	if o.UploadLength <= 0 {
		errs = append(errs, fmt.Errorf("upload length must be positive, got %d", o.UploadLength))
	}
	if o.RequestPayloadSize <= 0 {
		errs = append(errs, fmt.Errorf("request payload size must be positive, got %d", o.RequestPayloadSize))
	}
	if o.VirtualUsers < 1 {
		errs = append(errs, fmt.Errorf("virtual users must be at least 1, got %d", o.VirtualUsers))
	}
	if o.UploadsPerVirtualUser < 1 {
		errs = append(errs, fmt.Errorf("uploads per virtual user must be at least 1, got %d", o.UploadsPerVirtualUser))
	}
	if o.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("max duration must not be negative, got %s", o.MaxDuration))
	}
	if o.IterationTimeout < 0 {
		errs = append(errs, fmt.Errorf("iteration timeout must not be negative, got %s", o.IterationTimeout))
	}

	return errors.Join(errs...)
}
