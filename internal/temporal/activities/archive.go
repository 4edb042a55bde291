package activities

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"archiver/internal/archive"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// heartbeatInterval throttles progress heartbeats and paces the keep-alive
// between events; the final 100% event is always sent.
const heartbeatInterval = 5 * time.Second

type ArchiveActivityInput struct {
	JobID           string `json:"job_id,omitempty"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Backend         string `json:"backend,omitempty"`
	// Profile overrides the configured default compression profile.
	Profile *archive.CompressionProfile `json:"profile,omitempty"`
}

type ArchiveActivityOutput struct {
	Outcome archive.Outcome `json:"outcome"`
}

// ArchiveActivity runs one archive job. Progress is reported as heartbeat
// details, and a cancelled activity cancels the job.
func (a *Activities) ArchiveActivity(ctx context.Context, input ArchiveActivityInput) (*ArchiveActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("ArchiveActivity started", "source", input.SourcePath, "destination", input.DestinationPath)

	backend := input.Backend
	if backend == "" {
		backend = a.Config.Archive.Backend
	}
	kind, err := archive.ParseBackendKind(backend)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), string(archive.KindInvalidInput), err)
	}

	profile := a.Config.Archive.Profile()
	if input.Profile != nil {
		profile = *input.Profile
	}

	job := archive.NewJob(input.SourcePath, input.DestinationPath, profile, kind)
	if input.JobID != "" {
		job.ID = input.JobID
	}

	hb := newHeartbeater(func(details ...interface{}) {
		activity.RecordHeartbeat(ctx, details...)
	})
	aliveCtx, stopHeartbeats := context.WithCancel(ctx)
	go hb.keepAlive(aliveCtx, heartbeatInterval)
	out := a.App.Orchestrator.Run(ctx, job, hb.sink)
	stopHeartbeats()
	if !out.Success {
		logger.Error("ArchiveActivity failed", "error_kind", out.ErrorKind, "error", out.ErrorMessage, "backend", out.BackendUsed)
		return nil, activityError(ctx, out)
	}

	logger.Info("ArchiveActivity completed",
		"backend", out.BackendUsed,
		"fallback", out.Fallback,
		"files", out.FilesProcessed,
		"elapsed", out.Elapsed,
		"warning", out.Warning,
	)
	return &ArchiveActivityOutput{Outcome: out}, nil
}

// heartbeater forwards progress as heartbeat details. Between events it
// keeps repeating the last one so slow files do not hit the heartbeat timeout.
type heartbeater struct {
	record func(details ...interface{})

	mu   sync.Mutex
	last archive.ProgressEvent
	sent time.Time
}

func newHeartbeater(record func(details ...interface{})) *heartbeater {
	return &heartbeater{record: record}
}

func (h *heartbeater) sink(ev archive.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = ev
	if ev.Percent < 100 && time.Since(h.sent) < heartbeatInterval {
		return
	}
	h.sent = time.Now()
	h.record(ev)
}

// keepAlive heartbeats the last event every interval until ctx is done.
func (h *heartbeater) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			if time.Since(h.sent) >= interval {
				h.sent = time.Now()
				h.record(h.last)
			}
			h.mu.Unlock()
		}
	}
}

// activityError converts a failed outcome into the error Temporal sees. The
// error type is the outcome's error kind; invalid input and cancellation are
// never retried.
func activityError(ctx context.Context, out archive.Outcome) error {
	if out.ErrorKind == archive.KindCancelled && errors.Is(ctx.Err(), context.Canceled) {
		return temporal.NewCanceledError(out.ErrorMessage)
	}

	msg := fmt.Sprintf("%s backend: %s", out.BackendUsed, out.ErrorMessage)
	return temporal.NewApplicationErrorWithOptions(msg, string(out.ErrorKind), temporal.ApplicationErrorOptions{
		NonRetryable: !retryable(out.ErrorKind),
		Cause:        out.Err(),
		Details:      []interface{}{out},
	})
}

func retryable(kind archive.ErrorKind) bool {
	switch kind {
	case archive.KindInvalidInput, archive.KindCancelled, archive.KindIntegrityCheckFailed:
		return false
	}
	return true
}

type ProbeBinaryActivityInput struct {
	Reprobe bool `json:"reprobe"`
}

type ProbeBinaryActivityOutput struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProbeBinaryActivity reports which compressor this worker would use.
func (a *Activities) ProbeBinaryActivity(ctx context.Context, input ProbeBinaryActivityInput) (*ProbeBinaryActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Debug("ProbeBinaryActivity called", "reprobe", input.Reprobe)

	locate := a.App.Locator.Locate
	if input.Reprobe {
		locate = a.App.Locator.Reprobe
	}
	d, err := locate(ctx)
	if err != nil {
		logger.Warn("7-Zip unavailable", "error", err)
		return &ProbeBinaryActivityOutput{Error: err.Error()}, nil
	}
	return &ProbeBinaryActivityOutput{
		Available: true,
		Path:      d.Path,
		Version:   d.Version,
		Digest:    d.Digest,
		Warning:   d.Warning,
	}, nil
}
