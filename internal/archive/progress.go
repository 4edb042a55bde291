package archive

import (
	"context"
	"sync"
)

// ProgressGuard wraps a caller's sink for the lifetime of one job. Percentages
// never go backwards, nothing is delivered once the job context is done, and
// nothing exceeds 100. It is shared across backend attempts so a fallback
// starting again from zero does not rewind the caller's view.
type ProgressGuard struct {
	ctx  context.Context
	sink ProgressSink

	mu       sync.Mutex
	high     float64
	reported bool
}

// NewProgressGuard returns a guard delivering to sink. A nil sink is allowed.
func NewProgressGuard(ctx context.Context, sink ProgressSink) *ProgressGuard {
	return &ProgressGuard{ctx: ctx, sink: sink}
}

// Emit delivers ev, raising its percentage to the highest value already
// reported.
func (g *ProgressGuard) Emit(ev ProgressEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx.Err() != nil {
		return
	}
	if ev.Percent < 0 {
		ev.Percent = 0
	}
	if ev.Percent > 100 {
		ev.Percent = 100
	}
	if ev.Percent < g.high {
		ev.Percent = g.high
	}
	g.high = ev.Percent
	g.reported = true

	if g.sink != nil {
		g.sink(ev)
	}
}

// Complete reports 100% unless it was already reported.
func (g *ProgressGuard) Complete(file string) {
	g.mu.Lock()
	done := g.reported && g.high >= 100
	g.mu.Unlock()
	if !done {
		g.Emit(ProgressEvent{Percent: 100, CurrentFile: file})
	}
}

// Sink returns the guard as a ProgressSink.
func (g *ProgressGuard) Sink() ProgressSink {
	return g.Emit
}

// Percent returns the highest percentage reported so far.
func (g *ProgressGuard) Percent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.high
}
