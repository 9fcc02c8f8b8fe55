package loadtest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/resumable-upload-bench/check"
	"github.com/bitrise-io/resumable-upload-bench/internal/testserver"
	"github.com/bitrise-io/resumable-upload-bench/payload"
	"github.com/bitrise-io/resumable-upload-bench/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const mib = 1024 * 1024

type fakeTracker struct {
	mu     sync.Mutex
	events []string
	waited bool
}

func (t *fakeTracker) Enqueue(eventName string, _ ...analytics.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, eventName)
}

func (t *fakeTracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waited = true
}

type fakeIterationObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *fakeIterationObserver) ObserveIteration(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func newTestDriver(t *testing.T, options Options, opts ...DriverOption) *Driver {
	t.Helper()

	logger := log.NewLogger()
	httpClient := upload.NewHTTPClient(upload.DefaultTransportConfig(options.VirtualUsers), logger)
	t.Cleanup(func() { upload.CloseIdleConnections(httpClient) })
	client := upload.NewClient(httpClient, check.NewRegistry(nil), logger)

	driver, err := NewDriver(options, client, logger, opts...)
	require.NoError(t, err)
	return driver
}

func TestDriver_SingleChunkStable(t *testing.T) {
	// Given
	server := testserver.New(testserver.Stable, testserver.Behavior{})
	defer server.Close()

	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          mib,
		RequestPayloadSize:    mib,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 1,
		MaxDuration:           30 * time.Second,
	})

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.True(t, summary.Passed())
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, server.CountRequests("POST"))
	assert.Equal(t, 1, server.CountRequests("PATCH"))
	assert.Equal(t, 0, server.CountRequests("HEAD"))
	assert.Equal(t, 1, server.CompletedUploads())
	assert.Equal(t, int64(mib), summary.BytesAccepted)
	assert.Equal(t, int64(1), summary.Steps[upload.StepCreate].Requests)
	assert.Equal(t, int64(1), summary.Steps[upload.StepAppend].Requests)
	assert.Zero(t, summary.CheckFailures())

	for _, r := range server.Requests() {
		assert.Equal(t, "1.0.0", r.Header.Get("Tus-Resumable"))
	}
}

func TestDriver_InteropWithEmbeddedDataAndOffsetRetrieval(t *testing.T) {
	// Given
	server := testserver.New(testserver.InteropDraft, testserver.Behavior{})
	defer server.Close()

	driver := newTestDriver(t, Options{
		Endpoint:                      server.Endpoint(),
		Dialect:                       upload.DialectInteropDraft,
		UploadLength:                  3 * mib,
		RequestPayloadSize:            mib,
		CreationWithData:              true,
		RetrieveOffsetBetweenRequests: true,
		VirtualUsers:                  1,
		UploadsPerVirtualUser:         1,
	})

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.True(t, summary.Passed())
	assert.Equal(t, 1, summary.Completed)

	requests := server.Requests()
	methods := make([]string, 0, len(requests))
	for _, r := range requests {
		methods = append(methods, r.Method)
	}
	assert.Equal(t, []string{"POST", "PATCH", "HEAD", "PATCH", "HEAD"}, methods)

	assert.Equal(t, mib, requests[0].BodyLen)
	assert.Equal(t, "?0", requests[0].Header.Get("Upload-Complete"))
	assert.Equal(t, "1048576", requests[1].Header.Get("Upload-Offset"))
	assert.Equal(t, "?0", requests[1].Header.Get("Upload-Complete"))
	assert.Equal(t, "2097152", requests[3].Header.Get("Upload-Offset"))
	assert.Equal(t, "?1", requests[3].Header.Get("Upload-Complete"))
	for _, r := range requests {
		assert.Equal(t, "5", r.Header.Get("Upload-Draft-Interop-Version"))
	}
	assert.Equal(t, 1, server.CompletedUploads())
}

func TestDriver_DivergentOffsetAbortsIterationButActorContinues(t *testing.T) {
	// Given
	server := testserver.New(testserver.Stable, testserver.Behavior{
		AppendOffset: func(committed, claimed int64) string { return "500" },
	})
	defer server.Close()

	observer := &fakeIterationObserver{}
	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          2 * mib,
		RequestPayloadSize:    mib,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 2,
	}, WithIterationObserver(observer))

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.False(t, summary.Passed())
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, 2, summary.Aborted())
	assert.Equal(t, map[upload.Kind]int{upload.KindAppendFailed: 2}, summary.AbortedByKind)
	assert.Equal(t, 2, server.CountRequests("POST"))
	assert.Equal(t, 2, server.CountRequests("PATCH"))
	assert.Equal(t, map[string]int{"aborted": 2}, observer.outcomes)

	var offsetCheck check.Counts
	for _, c := range summary.Checks {
		if c.Name == upload.CheckUploadOffset {
			offsetCheck = c
		}
	}
	assert.Equal(t, int64(2), offsetCheck.Fails)
}

func TestDriver_ConcurrentActorsUseSeparateSessions(t *testing.T) {
	// Given
	server := testserver.New(testserver.Stable, testserver.Behavior{})
	defer server.Close()

	tracker := &fakeTracker{}
	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          64 * 1024,
		RequestPayloadSize:    16 * 1024,
		VirtualUsers:          3,
		UploadsPerVirtualUser: 2,
	}, WithTracker(tracker), WithRunID("run-1"))

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.True(t, summary.Passed())
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 6, summary.Completed)
	assert.Equal(t, 6, server.Uploads())
	assert.Equal(t, 6, server.CompletedUploads())
	assert.Equal(t, int64(6*64*1024), summary.BytesAccepted)
	assert.Equal(t, int64(6*4), summary.Steps[upload.StepAppend].Requests)

	require.Len(t, tracker.events, 7)
	assert.Equal(t, "resumable_upload_bench_run_finished", tracker.events[6])
	assert.True(t, tracker.waited)
}

func TestDriver_RunBudgetInterruptsInFlightUpload(t *testing.T) {
	// Given
	server := testserver.New(testserver.Stable, testserver.Behavior{Delay: 300 * time.Millisecond})
	defer server.Close()

	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          1024,
		RequestPayloadSize:    1024,
		VirtualUsers:          2,
		UploadsPerVirtualUser: 5,
		MaxDuration:           50 * time.Millisecond,
	})

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.Equal(t, 2, summary.Interrupted)
	assert.Equal(t, 0, summary.Aborted())
	assert.Equal(t, 0, summary.Completed)
	assert.True(t, summary.Passed())
	assert.Less(t, summary.Elapsed, 5*time.Second)
}

func TestDriver_PacedRequestsPastRunBudgetAreInterrupted(t *testing.T) {
	// Given
	server := testserver.New(testserver.Stable, testserver.Behavior{})
	defer server.Close()

	logger := log.NewLogger()
	httpClient := upload.NewHTTPClient(upload.DefaultTransportConfig(1), logger)
	defer upload.CloseIdleConnections(httpClient)
	client := upload.NewClient(httpClient, check.NewRegistry(nil), logger,
		upload.WithLimiter(rate.NewLimiter(1, 1)))

	driver, err := NewDriver(Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          2 * 1024,
		RequestPayloadSize:    1024,
		CreationWithData:      true,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 3,
		MaxDuration:           500 * time.Millisecond,
	}, client, logger)
	require.NoError(t, err)

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.True(t, summary.Passed())
	assert.Greater(t, summary.Interrupted, 0)
	assert.Equal(t, 0, summary.Aborted())
	assert.Zero(t, summary.CheckFailures())
	assert.Equal(t, 1, server.CountRequests("POST"))
	assert.Equal(t, 0, server.CountRequests("PATCH"))
}

func TestDriver_ChunkProvider(t *testing.T) {
	// Given
	server := testserver.New(testserver.InteropDraft, testserver.Behavior{})
	defer server.Close()

	provider := payload.NewByteSliceChunkProvider([][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	})
	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectInteropDraft,
		UploadLength:          provider.TotalLength(),
		RequestPayloadSize:    6,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 1,
	}, WithChunkProvider(provider))

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.True(t, summary.Passed())
	var bodies []int
	for _, r := range server.Requests() {
		if r.Method == "PATCH" {
			bodies = append(bodies, r.BodyLen)
		}
	}
	assert.Equal(t, []int{5, 6, 5}, bodies)
}

func TestNewDriver_ChunkProviderLengthMismatch(t *testing.T) {
	logger := log.NewLogger()
	client := upload.NewClient(nil, nil, logger)

	_, err := NewDriver(Options{
		Endpoint:              "http://localhost/files/",
		Dialect:               upload.DialectStable,
		UploadLength:          100,
		RequestPayloadSize:    10,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 1,
	}, client, logger, WithChunkProvider(payload.NewByteSliceChunkProvider([][]byte{[]byte("short")})))

	require.EqualError(t, err, "chunk provider holds 5 bytes, upload length is 100")
}

func TestDriver_IterationTimeoutStopsActor(t *testing.T) {
	// Given
	server := testserver.New(testserver.InteropDraft, testserver.Behavior{Delay: 200 * time.Millisecond})
	defer server.Close()

	observer := &fakeIterationObserver{}
	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectInteropDraft,
		UploadLength:          1024,
		RequestPayloadSize:    512,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 3,
		IterationTimeout:      20 * time.Millisecond,
	}, WithIterationObserver(observer))

	// When
	summary := driver.Run(context.Background())

	// Then
	assert.Equal(t, 1, summary.Interrupted)
	assert.Equal(t, 1, summary.Iterations())
	assert.Equal(t, map[string]int{"interrupted": 1}, observer.outcomes)
}

func TestDriver_CancelledParentContext(t *testing.T) {
	server := testserver.New(testserver.Stable, testserver.Behavior{})
	defer server.Close()

	driver := newTestDriver(t, Options{
		Endpoint:              server.Endpoint(),
		Dialect:               upload.DialectStable,
		UploadLength:          1024,
		RequestPayloadSize:    1024,
		VirtualUsers:          2,
		UploadsPerVirtualUser: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := driver.Run(ctx)

	assert.Equal(t, 0, summary.Iterations())
	assert.Empty(t, server.Requests())
}

func TestNewDriver_InvalidOptions(t *testing.T) {
	logger := log.NewLogger()
	httpClient := upload.NewHTTPClient(upload.DefaultTransportConfig(1), logger)
	client := upload.NewClient(httpClient, check.NewRegistry(nil), logger)

	_, err := NewDriver(Options{Endpoint: "ftp://example.com"}, client, logger)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid options"))

	_, err = NewDriver(Options{
		Endpoint:              "http://example.com/files/",
		Dialect:               upload.DialectStable,
		UploadLength:          1,
		RequestPayloadSize:    1,
		VirtualUsers:          1,
		UploadsPerVirtualUser: 1,
	}, nil, logger)
	require.EqualError(t, err, "upload client is nil")
}

func TestDriver_RequestsPerUpload(t *testing.T) {
	tests := []struct {
		name             string
		creationWithData bool
		retrieveOffset   bool
		want             int
	}{
		{name: "plain", want: 4},
		{name: "creation with data", creationWithData: true, want: 3},
		{name: "retrieve offset", retrieveOffset: true, want: 7},
		{name: "both", creationWithData: true, retrieveOffset: true, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := newTestDriver(t, Options{
				Endpoint:                      "http://localhost/files/",
				Dialect:                       upload.DialectStable,
				UploadLength:                  3 * 1024,
				RequestPayloadSize:            1024,
				CreationWithData:              tt.creationWithData,
				RetrieveOffsetBetweenRequests: tt.retrieveOffset,
				VirtualUsers:                  1,
				UploadsPerVirtualUser:         1,
			})

			assert.Equal(t, tt.want, driver.requestsPerUpload())
		})
	}
}
