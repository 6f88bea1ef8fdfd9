package engine

import (
	"log/slog"
	"time"

	"github.com/crossmedia/fourallportal/internal/metrics"
	"github.com/crossmedia/fourallportal/internal/response"
)

const (
	// DefaultPageSize is the number of remote events requested per page.
	DefaultPageSize = 100

	// DefaultBatchSize is the number of queued events read per store query.
	DefaultBatchSize = 50

	// DefaultStaleAfter is how long an event may stay in processing before
	// the next execute phase puts it back in the queue.
	DefaultStaleAfter = time.Hour
)

// Option configures the drivers and the orchestrator.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	sink       response.Sink
	metrics    *metrics.Recorder
	clock      Clock
	tokens     TokenGenerator
	pageSize   int
	maxPages   int
	batchSize  int
	staleAfter time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		logger:     slog.New(slog.DiscardHandler),
		sink:       response.Discard,
		clock:      SystemClock{},
		tokens:     UUIDv7Generator{},
		pageSize:   DefaultPageSize,
		batchSize:  DefaultBatchSize,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSink sets where operator-facing messages go.
func WithSink(s response.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithMetrics sets the metrics recorder. Nil records nothing.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithTokenGenerator overrides the claim token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.tokens = g
		}
	}
}

// WithPageSize sets the remote page size. Non-positive values keep the default.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMaxPages caps the pages fetched per module and run. 0 = unlimited.
func WithMaxPages(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxPages = n
		}
	}
}

// WithBatchSize sets how many queued events are read at once.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithStaleAfter sets the stale processing threshold. 0 disables recovery.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.staleAfter = d
		}
	}
}
