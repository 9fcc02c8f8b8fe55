// Package loadtest runs many independent resumable uploads concurrently. Each actor performs
// its uploads one after the other, every upload with a fresh session, and a failed upload
// only ends that upload.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/resumable-upload-bench/payload"
	"github.com/bitrise-io/resumable-upload-bench/upload"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// IterationObserver is notified about every finished iteration.
type IterationObserver interface {
	ObserveIteration(outcome string)
}

// Driver orchestrates the actors of one run.
type Driver struct {
	options  Options
	client   *upload.Client
	provider payload.ChunkProvider
	logger   log.Logger
	tracker  runTracker
	observer IterationObserver
	runID    string
	source   io.Reader
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithTracker sends iteration and run events to tracker.
func WithTracker(tracker analytics.Tracker) DriverOption {
	return func(d *Driver) {
		d.tracker.tracker = tracker
	}
}

// WithIterationObserver reports every finished iteration to observer.
func WithIterationObserver(observer IterationObserver) DriverOption {
	return func(d *Driver) {
		d.observer = observer
	}
}

// WithRunID sets the run identifier. By default a random UUID is used.
func WithRunID(runID string) DriverOption {
	return func(d *Driver) {
		d.runID = runID
	}
}

// WithChunkProvider uploads the chunks of provider instead of a generated random payload.
// Its total length must equal the configured upload length.
func WithChunkProvider(provider payload.ChunkProvider) DriverOption {
	return func(d *Driver) {
		d.provider = provider
	}
}

// WithPayloadSource sets where the payload bytes are read from. By default crypto/rand.
func WithPayloadSource(source io.Reader) DriverOption {
	return func(d *Driver) {
		d.source = source
	}
}

// NewDriver validates options and prepares the shared payload.
func NewDriver(options Options, client *upload.Client, logger log.Logger, opts ...DriverOption) (*Driver, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if client == nil {
		return nil, errors.New("upload client is nil")
	}

	d := &Driver{
		options: options,
		client:  client,
		logger:  logger,
		tracker: newRunTracker(nil, logger),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}

	if d.provider != nil {
		if total := d.provider.TotalLength(); total != options.UploadLength {
			return nil, fmt.Errorf("chunk provider holds %d bytes, upload length is %d", total, options.UploadLength)
		}
		return d, nil
	}

	plan, err := payload.NewPlan(options.UploadLength, options.RequestPayloadSize)
	if err != nil {
		return nil, fmt.Errorf("plan payload: %w", err)
	}
	provider, err := payload.NewRandomChunkProvider(plan, d.source)
	if err != nil {
		return nil, fmt.Errorf("generate payload: %w", err)
	}
	d.provider = provider

	return d, nil
}

// RunID returns the run identifier.
func (d *Driver) RunID() string {
	return d.runID
}

// Run starts the actors and blocks until all of them stopped. It never fails: protocol
// failures are part of the returned Summary.
func (d *Driver) Run(ctx context.Context) Summary {
	start := time.Now()

	runCtx := ctx
	if d.options.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.options.MaxDuration)
		defer cancel()
	}

	d.logger.Infof("Run %s: %d virtual users x %d uploads of %s in chunks of up to %s (%d requests each, %s dialect)",
		d.runID,
		d.options.VirtualUsers,
		d.options.UploadsPerVirtualUser,
		units.BytesSize(float64(d.provider.TotalLength())),
		units.BytesSize(float64(d.provider.ChunkSize(0))),
		d.requestsPerUpload(),
		d.options.Dialect)

	results := make([][]Outcome, d.options.VirtualUsers)

	g, gctx := errgroup.WithContext(runCtx)
	for actor := 0; actor < d.options.VirtualUsers; actor++ {
		g.Go(func() error {
			results[actor] = d.runActor(gctx, actor)
			return nil
		})
	}
	_ = g.Wait()

	summary := d.summarize(results, time.Since(start))
	d.tracker.logRunFinished(summary)
	d.tracker.wait()
	d.logger.TDonef("Run %s finished", d.runID)

	return summary
}

func (d *Driver) runActor(ctx context.Context, actor int) []Outcome {
	outcomes := make([]Outcome, 0, d.options.UploadsPerVirtualUser)

	for iteration := 0; iteration < d.options.UploadsPerVirtualUser; iteration++ {
		if ctx.Err() != nil {
			d.logger.Debugf("[actor %d] run budget exhausted, skipping remaining %d uploads",
				actor, d.options.UploadsPerVirtualUser-iteration)
			break
		}

		outcome := d.runIteration(ctx, actor, iteration)
		outcomes = append(outcomes, outcome)
		d.report(outcome)

		if outcome.State == StateInterrupted {
			break
		}
	}

	return outcomes
}

func (d *Driver) runIteration(ctx context.Context, actor, iteration int) Outcome {
	outcome := Outcome{
		ID:        uuid.NewString(),
		Actor:     actor,
		Iteration: iteration,
	}

	iterCtx := ctx
	if d.options.IterationTimeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, d.options.IterationTimeout)
		defer cancel()
	}

	start := time.Now()
	err := d.upload(iterCtx)
	outcome.Duration = time.Since(start)
	outcome.Err = err

	var stepErr *upload.StepError
	failedChecks := errors.As(err, &stepErr) && len(stepErr.Failed) > 0
	outOfBudget := iterCtx.Err() != nil || errors.Is(err, upload.ErrNoRequestSlot)

	switch {
	case err == nil:
		outcome.State = StateCompleted
	case !failedChecks && outOfBudget:
		outcome.State = StateInterrupted
	default:
		outcome.State = StateAborted
		if stepErr != nil {
			outcome.Kind = stepErr.Kind
		}
	}

	return outcome
}

// upload performs one full lifecycle: create, append every remaining chunk in payload order,
// optionally confirm the offset after each append, and verify the upload is complete.
func (d *Driver) upload(ctx context.Context) error {
	numChunks := d.provider.NumChunks()
	next := 0

	var first *payload.Chunk
	if d.options.CreationWithData && numChunks > 0 {
		chunk, err := d.provider.GetChunk(0)
		if err != nil {
			return err
		}
		first = &chunk
		next = 1
	}

	session, err := d.client.Create(ctx, d.options.Endpoint, d.options.Dialect, d.provider.TotalLength(), first)
	if err != nil {
		return err
	}

	for ; next < numChunks; next++ {
		chunk, err := d.provider.GetChunk(next)
		if err != nil {
			return err
		}

		if err := d.client.Append(ctx, session, chunk, next == numChunks-1); err != nil {
			return err
		}

		if d.options.RetrieveOffsetBetweenRequests {
			if err := d.client.RetrieveOffset(ctx, session, session.Offset()); err != nil {
				return err
			}
		}
	}

	return d.client.VerifyComplete(session)
}

func (d *Driver) report(outcome Outcome) {
	switch outcome.State {
	case StateCompleted:
		d.logger.Debugf("[actor %d] upload %d (%s) completed in %s",
			outcome.Actor, outcome.Iteration+1, outcome.ID, outcome.Duration.Round(time.Millisecond))
	case StateInterrupted:
		d.logger.Warnf("[actor %d] upload %d (%s) interrupted: %s",
			outcome.Actor, outcome.Iteration+1, outcome.ID, outcome.Err)
	default:
		d.logger.Warnf("[actor %d] upload %d (%s) aborted (%s): %s",
			outcome.Actor, outcome.Iteration+1, outcome.ID, outcome.Kind, outcome.Err)
	}

	if d.observer != nil {
		d.observer.ObserveIteration(outcome.State.String())
	}
	d.tracker.logIterationFinished(outcome)
}

func (d *Driver) summarize(results [][]Outcome, elapsed time.Duration) Summary {
	summary := Summary{
		RunID:         d.runID,
		AbortedByKind: map[upload.Kind]int{},
		Checks:        d.client.Registry().Snapshot(),
		Steps:         map[upload.Step]upload.StepStats{},
		BytesAccepted: d.client.Stats().BytesAccepted(),
		Elapsed:       elapsed,
	}

	for _, outcomes := range results {
		for _, outcome := range outcomes {
			switch outcome.State {
			case StateCompleted:
				summary.Completed++
			case StateInterrupted:
				summary.Interrupted++
			default:
				summary.AbortedByKind[outcome.Kind]++
			}
		}
	}

	for _, step := range []upload.Step{upload.StepCreate, upload.StepAppend, upload.StepQuery} {
		summary.Steps[step] = d.client.Stats().Step(step)
	}

	return summary
}

func (d *Driver) requestsPerUpload() int {
	n := d.provider.NumChunks()
	if !d.options.CreationWithData {
		n++
	}
	if d.options.RetrieveOffsetBetweenRequests {
		n += d.provider.NumChunks()
		if d.options.CreationWithData {
			n--
		}
	}
	return max(n, 1)
}
