package orchestrator

import (
	"context"
	"sync"

	"archiver/internal/archive"

	"github.com/rs/zerolog"
)

// Handle tracks one submitted job.
type Handle struct {
	job    archive.Job
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	history []State
	outcome archive.Outcome
}

func newHandle(job archive.Job, cancel context.CancelFunc, logger zerolog.Logger) *Handle {
	return &Handle{
		job:     job,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
		state:   StatePending,
		history: []State{StatePending},
	}
}

// Job returns the job as submitted.
func (h *Handle) Job() archive.Job {
	return h.job
}

// Cancel requests cancellation. It is safe to call at any time and more
// than once.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes and returns its outcome.
func (h *Handle) Wait() archive.Outcome {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// History returns every state the job has been in, oldest first.
func (h *Handle) History() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.history...)
}

func (h *Handle) setState(next State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.CanTransition(next) {
		h.logger.Warn().Str("from", string(h.state)).Str("to", string(next)).Msg("Ignoring invalid job state transition")
		return
	}
	h.logger.Debug().Str("from", string(h.state)).Str("to", string(next)).Msg("Job state changed")
	h.state = next
	h.history = append(h.history, next)
}

func (h *Handle) finish(out archive.Outcome) {
	h.mu.Lock()
	h.outcome = out
	h.mu.Unlock()
	close(h.done)
}
