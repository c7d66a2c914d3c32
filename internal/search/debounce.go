package search

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a submitted query runs.
const DefaultDebounce = 150 * time.Millisecond

// Debouncer collapses bursts of queries, as produced by a user typing, into
// one search per quiet period. A response is delivered only if no newer
// query was submitted while it ran.
type Debouncer struct {
	coord   *Coordinator
	delay   time.Duration
	limit   int
	deliver func(Response)
	logger  *slog.Logger

	seq   Sequencer
	mu    sync.Mutex
	timer *time.Timer
	ctx   context.Context
}

// NewDebouncer creates a Debouncer. Searches run with ctx; deliver is called
// from a timer goroutine.
func NewDebouncer(ctx context.Context, coord *Coordinator, delay time.Duration, limit int, deliver func(Response)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		coord:   coord,
		delay:   delay,
		limit:   limit,
		deliver: deliver,
		logger:  coord.logger,
		ctx:     ctx,
	}
}

// Submit schedules query, replacing any query still waiting.
func (d *Debouncer) Submit(query string) {
	seq := d.seq.Next()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.run(seq, query) })
}

func (d *Debouncer) run(seq uint64, query string) {
	if !d.seq.IsLatest(seq) || d.ctx.Err() != nil {
		return
	}
	resp, err := d.coord.SearchWithStatus(d.ctx, query, d.limit)
	if err != nil {
		d.logger.Warn("search: debounced query failed", slog.String("error", err.Error()))
		return
	}
	if !d.seq.IsLatest(seq) {
		d.logger.Debug("search: dropped superseded response", slog.String("query", query))
		return
	}
	d.deliver(resp)
}

// Stop cancels any waiting query.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
