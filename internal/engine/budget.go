package engine

import "time"

// StopReason says why an execution stopped before the queue was empty.
type StopReason string

const (
	StopNone       StopReason = ""
	StopEventLimit StopReason = "event_limit"
	StopTimeLimit  StopReason = "time_limit"
)

// Budget tracks the event and time limits of one execute phase.
//
// It is checked between events only. An event that is already being applied
// always finishes, so a run may overrun its time limit by one event.
type Budget struct {
	maxEvents int           // 0 = unlimited
	maxTime   time.Duration // 0 = unlimited
	clock     Clock
	start     time.Time
	used      int
}

// NewBudget starts a budget at clock.Now().
func NewBudget(maxEvents int, maxTime time.Duration, clock Clock) *Budget {
	return &Budget{
		maxEvents: maxEvents,
		maxTime:   maxTime,
		clock:     clock,
		start:     clock.Now(),
	}
}

// Consume records one processed event.
func (b *Budget) Consume() {
	b.used++
}

// Exhausted returns the limit that has been reached, or StopNone.
// The event limit is checked first.
func (b *Budget) Exhausted() StopReason {
	if b.maxEvents > 0 && b.used >= b.maxEvents {
		return StopEventLimit
	}
	if b.maxTime > 0 && b.clock.Now().Sub(b.start) >= b.maxTime {
		return StopTimeLimit
	}
	return StopNone
}

// Used returns the number of consumed events.
func (b *Budget) Used() int {
	return b.used
}

// Elapsed returns the time since the budget started.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}
