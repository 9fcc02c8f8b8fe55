package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/resumable-upload-bench/check"
	"github.com/bitrise-io/resumable-upload-bench/payload"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Check names shared by several steps.
const (
	CheckUploadURL      = "response includes upload URL"
	CheckUploadOffset   = "response includes upload offset"
	CheckWithinLength   = "append stays within upload length"
	CheckUploadComplete = "offset matches upload length"
)

// RequestObserver is notified about every finished request. status is 0 when the request
// produced no response.
type RequestObserver interface {
	ObserveRequest(step string, status int, duration time.Duration)
}

// Client performs the protocol operations against sessions and validates every response.
// A Client is safe for concurrent use as long as each Session is used by one goroutine.
type Client struct {
	httpClient *retryablehttp.Client
	registry   *check.Registry
	logger     log.Logger
	limiter    *rate.Limiter
	observer   RequestObserver
	stats      *Stats
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter paces every request through limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRequestObserver reports every request to observer.
func WithRequestObserver(observer RequestObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient creates a Client. A nil httpClient is replaced with a single connection pool
// client, a nil registry with an empty one.
func NewClient(httpClient *retryablehttp.Client, registry *check.Registry, logger log.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTransportConfig(1), logger)
	}
	if registry == nil {
		registry = check.NewRegistry(nil)
	}

	c := &Client{
		httpClient: httpClient,
		registry:   registry,
		logger:     logger,
		stats:      NewStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the request statistics.
func (c *Client) Stats() *Stats {
	return c.stats
}

// Registry returns the registry the checks are recorded in.
func (c *Client) Registry() *check.Registry {
	return c.registry
}

// Create issues the creation request and returns the new session.
// When first is not nil its bytes are sent in the creation request and the session starts at
// its size; the completion signal is set if first already covers declaredLength.
func (c *Client) Create(ctx context.Context, endpoint string, dialect Dialect, declaredLength int64, first *payload.Chunk) (*Session, error) {
	var body []byte
	if first != nil {
		body = first.Data
	}
	sent := int64(len(body))

	headers, err := dialect.requestHeaders(message{
		step:           StepCreate,
		declaredLength: declaredLength,
		hasBody:        first != nil,
		final:          sent == declaredLength,
	})
	if err != nil {
		return nil, &StepError{Kind: KindCreationFailed, Step: StepCreate, Err: err}
	}

	resp, err := c.send(ctx, StepCreate, endpoint, headers, body)
	if err != nil {
		return nil, c.requestFailed(ctx, KindCreationFailed, StepCreate, err)
	}

	location := resp.header.Get(HeaderLocation)
	uploadURL, locationErr := resolveLocation(endpoint, location)
	offset := resp.header.Get(HeaderUploadOffset)

	results := []check.Result{
		statusCheck(StepCreate, resp),
		check.That(CheckUploadURL, locationErr == nil, "non-empty Location", headerValue(location)),
	}
	if first != nil {
		results = append(results, check.Equal(CheckUploadOffset, strconv.FormatInt(sent, 10), offset))
	} else {
		results = append(results, check.That(CheckUploadOffset, offset == "" || offset == "0", "0", headerValue(offset)))
	}
	results = append(results, dialect.responseChecks(resp.header)...)

	if failed := c.registry.Check(results...); len(failed) > 0 {
		return nil, &StepError{Kind: KindCreationFailed, Step: StepCreate, Failed: failed}
	}

	c.stats.AddAccepted(sent)
	c.logger.Debugf("Upload created at %s (offset: %d/%d)", uploadURL, sent, declaredLength)

	return &Session{
		url:            uploadURL,
		declaredLength: declaredLength,
		offset:         sent,
		dialect:        dialect,
	}, nil
}

// Append sends chunk at the session's current offset. final marks the chunk completing the
// upload; only the interop draft dialect transmits it.
// The session offset advances by the chunk size only if the server reports exactly that new
// offset; otherwise it is left unchanged.
func (c *Client) Append(ctx context.Context, session *Session, chunk payload.Chunk, final bool) error {
	if session == nil {
		return &StepError{Kind: KindAppendFailed, Step: StepAppend, Err: errors.New("no upload session")}
	}

	expected := session.offset + chunk.Size()
	if failed := c.registry.Check(check.That(CheckWithinLength, expected <= session.declaredLength,
		fmt.Sprintf("<= %d", session.declaredLength), strconv.FormatInt(expected, 10))); len(failed) > 0 {
		return &StepError{Kind: KindAppendFailed, Step: StepAppend, Failed: failed}
	}

	headers, err := session.dialect.requestHeaders(message{
		step:    StepAppend,
		offset:  session.offset,
		hasBody: true,
		final:   final,
	})
	if err != nil {
		return &StepError{Kind: KindAppendFailed, Step: StepAppend, Err: err}
	}

	resp, err := c.send(ctx, StepAppend, session.url, headers, chunk.Data)
	if err != nil {
		return c.requestFailed(ctx, KindAppendFailed, StepAppend, err)
	}

	results := []check.Result{
		statusCheck(StepAppend, resp),
		check.Equal(CheckUploadOffset, strconv.FormatInt(expected, 10), resp.header.Get(HeaderUploadOffset)),
	}
	results = append(results, session.dialect.responseChecks(resp.header)...)

	if failed := c.registry.Check(results...); len(failed) > 0 {
		return &StepError{Kind: KindAppendFailed, Step: StepAppend, Failed: failed}
	}

	session.advance(chunk.Size())
	c.stats.AddAccepted(chunk.Size())

	return nil
}

// RetrieveOffset asks the server for the committed offset and asserts it equals expected.
// It never changes the session.
func (c *Client) RetrieveOffset(ctx context.Context, session *Session, expected int64) error {
	if session == nil {
		return &StepError{Kind: KindOffsetMismatch, Step: StepQuery, Err: errors.New("no upload session")}
	}

	headers, err := session.dialect.requestHeaders(message{step: StepQuery})
	if err != nil {
		return &StepError{Kind: KindOffsetMismatch, Step: StepQuery, Err: err}
	}

	resp, err := c.send(ctx, StepQuery, session.url, headers, nil)
	if err != nil {
		return c.requestFailed(ctx, KindOffsetMismatch, StepQuery, err)
	}

	results := []check.Result{
		statusCheck(StepQuery, resp),
		check.Equal(CheckUploadOffset, strconv.FormatInt(expected, 10), resp.header.Get(HeaderUploadOffset)),
	}
	results = append(results, session.dialect.responseChecks(resp.header)...)

	if failed := c.registry.Check(results...); len(failed) > 0 {
		return &StepError{Kind: KindOffsetMismatch, Step: StepQuery, Failed: failed}
	}

	return nil
}

// VerifyComplete asserts the session reached its declared length.
func (c *Client) VerifyComplete(session *Session) error {
	if session == nil {
		return &StepError{Kind: KindIncompleteUpload, Err: errors.New("no upload session")}
	}

	failed := c.registry.Check(check.Equal(CheckUploadComplete, session.declaredLength, session.offset))
	if len(failed) > 0 {
		return &StepError{Kind: KindIncompleteUpload, Failed: failed}
	}
	return nil
}

type response struct {
	status int
	header http.Header
}

func (c *Client) send(ctx context.Context, step Step, target string, headers http.Header, body []byte) (response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, fmt.Errorf("%w: %s", ErrNoRequestSlot, err)
		}
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, step.Method(), target, rawBody)
	if err != nil {
		return response{}, fmt.Errorf("create %s request: %w", step, err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", step, string(dump))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	took := time.Since(start)
	c.stats.Update(step, took)

	if err != nil {
		c.observe(step, 0, took)
		return response{}, fmt.Errorf("%s %s: %w", step.Method(), target, err)
	}
	defer func(body io.ReadCloser) {
		if _, err := io.Copy(io.Discard, body); err != nil {
			c.logger.Debugf("drain %s response body: %s", step, err)
		}
		if err := body.Close(); err != nil {
			c.logger.Printf("%s", err)
		}
	}(resp.Body)

	dump, err = httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", step, string(dump))

	c.observe(step, resp.StatusCode, took)

	return response{status: resp.StatusCode, header: resp.Header}, nil
}

func (c *Client) observe(step Step, status int, took time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(step.String(), status, took)
	}
}

// requestFailed handles a request that produced no response. Only the status check is
// recorded, and nothing when the context or the request pacing ended the request.
func (c *Client) requestFailed(ctx context.Context, kind Kind, step Step, err error) *StepError {
	if ctx.Err() != nil || errors.Is(err, ErrNoRequestSlot) {
		return &StepError{Kind: kind, Step: step, Err: err}
	}

	want := step.SuccessStatus()
	failed := c.registry.Check(check.That(statusCheckName(step), false, strconv.Itoa(want), err.Error()))
	return &StepError{Kind: kind, Step: step, Failed: failed, Err: err}
}

func statusCheck(step Step, resp response) check.Result {
	want := step.SuccessStatus()
	return check.That(statusCheckName(step), resp.status == want, strconv.Itoa(want), strconv.Itoa(resp.status))
}

func statusCheckName(step Step) string {
	return fmt.Sprintf("response code was %d", step.SuccessStatus())
}

// resolveLocation resolves a possibly relative Location against the creation endpoint.
func resolveLocation(endpoint, location string) (string, error) {
	if location == "" {
		return "", errors.New("missing Location header")
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse Location header: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

func headerValue(v string) string {
	if v == "" {
		return "<missing>"
	}
	return v
}
