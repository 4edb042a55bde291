// Package orchestrator accepts archive jobs, picks a backend for each and
// falls back from the native compressor to the buffered writer at most once.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"archiver/internal/archive"
	"archiver/internal/metrics"

	"github.com/rs/zerolog"
)

// Backend archives one job. Run never panics on job errors; every failure is
// reported in the returned Outcome.
type Backend interface {
	Kind() archive.BackendKind
	Run(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome
}

// Prober is implemented by backends that can tell up front whether they are
// usable.
type Prober interface {
	Available(ctx context.Context) bool
}

type Orchestrator struct {
	native   Backend
	buffered Backend
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	active map[string]string // destination -> job ID
	wg     sync.WaitGroup
}

// New creates an Orchestrator. native may be nil when no compressor is
// configured; m may be nil.
func New(native, buffered Backend, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		native:   native,
		buffered: buffered,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		metrics:  m,
		active:   make(map[string]string),
	}
}

// Run submits job and blocks until it finishes.
func (o *Orchestrator) Run(ctx context.Context, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	return o.Start(ctx, job, sink).Wait()
}

// Start submits job and returns immediately. The job runs until it finishes,
// ctx is done, or the handle is cancelled. Progress is delivered to sink from
// the job's goroutine and stops once cancellation is requested.
func (o *Orchestrator) Start(ctx context.Context, job archive.Job, sink archive.ProgressSink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(job, cancel, o.logger.With().Str("job_id", job.ID).Logger())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		h.finish(o.execute(ctx, h, job, sink))
	}()
	return h
}

// Wait blocks until every started job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, h *Handle, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	start := time.Now()
	o.metrics.JobStarted()

	out := o.attempt(ctx, h, job, sink)
	out.Elapsed = time.Since(start)
	if out.JobID == "" {
		out.JobID = job.ID
	}
	if !out.Success && ctx.Err() != nil && out.ErrorKind != archive.KindInvalidInput {
		out.ErrorKind = archive.KindCancelled
	}

	switch {
	case out.Success:
		h.setState(StateSucceeded)
	case out.ErrorKind == archive.KindCancelled:
		h.setState(StateCancelled)
	default:
		h.setState(StateFailed)
	}

	o.metrics.JobFinished(string(out.BackendUsed), out.Success, string(out.ErrorKind), out.Elapsed, out.BytesProcessed)

	event := h.logger.Info()
	if !out.Success {
		event = h.logger.Warn().Str("error_kind", string(out.ErrorKind)).Str("error", out.ErrorMessage)
	}
	event.
		Str("backend", string(out.BackendUsed)).
		Bool("fallback", out.Fallback).
		Int("files", out.FilesProcessed).
		Dur("elapsed", out.Elapsed).
		Msg("Archive job finished")
	return out
}

func (o *Orchestrator) attempt(ctx context.Context, h *Handle, job archive.Job, sink archive.ProgressSink) archive.Outcome {
	job, err := job.Normalize()
	if err != nil {
		return archive.Failed(job, job.Backend, archive.KindInvalidInput, err)
	}
	if err := job.Validate(); err != nil {
		return archive.Failed(job, job.Backend, archive.KindInvalidInput, err)
	}

	release, err := o.acquire(job)
	if err != nil {
		return archive.Failed(job, job.Backend, archive.KindInvalidInput, err)
	}
	defer release()

	if ctx.Err() != nil {
		return archive.Failed(job, job.Backend, archive.KindCancelled, &archive.Error{Kind: archive.KindCancelled, Op: "submit", Msg: "cancelled before start"})
	}

	guard := archive.NewProgressGuard(ctx, sink)
	primary := o.selectBackend(ctx, job.Backend)
	h.setState(StateBackendSelected)
	h.logger.Info().
		Str("requested", string(job.Backend)).
		Str("backend", string(primary.Kind())).
		Str("source", job.SourcePath).
		Str("destination", job.DestinationPath).
		Str("profile", job.Profile.String()).
		Msg("Archive job started")

	h.setState(StateRunning)
	out := primary.Run(ctx, job.WithBackend(primary.Kind()), guard.Sink())
	if out.Success {
		guard.Complete("")
		return out
	}
	if !o.shouldFallback(ctx, primary, out) {
		return out
	}

	h.setState(StateFailedFallback)
	o.metrics.Fallback(string(out.ErrorKind))
	h.logger.Warn().
		Str("error_kind", string(out.ErrorKind)).
		Str("error", out.ErrorMessage).
		Msg("Native archive failed, falling back to buffered backend")

	h.setState(StateRunning)
	fb := o.buffered.Run(ctx, job.WithBackend(archive.BackendBuffered), guard.Sink())
	fb.Fallback = true
	fb.PrimaryError = out.ErrorMessage
	if fb.Success {
		guard.Complete("")
	}
	return fb
}

// selectBackend resolves the requested kind to a concrete backend. Auto
// prefers the native compressor when it can be located.
func (o *Orchestrator) selectBackend(ctx context.Context, kind archive.BackendKind) Backend {
	switch kind {
	case archive.BackendBuffered:
		return o.buffered
	case archive.BackendNative:
		if o.native != nil {
			return o.native
		}
		return o.buffered
	}

	if o.native == nil {
		return o.buffered
	}
	if p, ok := o.native.(Prober); ok && !p.Available(ctx) {
		o.logger.Info().Msg("7-Zip unavailable, using buffered backend")
		return o.buffered
	}
	return o.native
}

// shouldFallback allows one buffered retry after a native failure, except
// when the caller cancelled or the job itself is invalid.
func (o *Orchestrator) shouldFallback(ctx context.Context, primary Backend, out archive.Outcome) bool {
	if primary.Kind() != archive.BackendNative || o.buffered == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	switch out.ErrorKind {
	case archive.KindCancelled, archive.KindInvalidInput:
		return false
	}
	return true
}

// acquire reserves the job's destination. Two live jobs never write the same
// path.
func (o *Orchestrator) acquire(job archive.Job) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if owner, busy := o.active[job.DestinationPath]; busy {
		return nil, &archive.Error{
			Kind: archive.KindInvalidInput,
			Op:   "submit",
			Msg:  "destination " + job.DestinationPath + " is in use by job " + owner,
		}
	}
	o.active[job.DestinationPath] = job.ID
	return func() {
		o.mu.Lock()
		delete(o.active, job.DestinationPath)
		o.mu.Unlock()
	}, nil
}
