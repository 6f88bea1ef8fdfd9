// Package lock provides the named exclusive lock that keeps overlapping sync
// runs from ingesting the same servers at once.
//
// A Coordinator asks a Factory for a Strategy the first time it is used and
// keeps it for the matching release. Strategies decide where the lock lives:
// StoreFactory keeps it in the event store's SQLite database, RedisFactory in
// a shared Redis instance.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// SyncLockName is the lock taken around the ingestion phase.
const SyncLockName = "4ap_sync"

// Capability is a bit set describing what a Strategy must support.
type Capability int

const (
	// CapabilityExclusive means at most one holder at a time.
	CapabilityExclusive Capability = 1 << iota
	// CapabilityShared means many readers may hold the lock together.
	CapabilityShared
	// CapabilityNoBlock means Acquire returns immediately instead of waiting.
	CapabilityNoBlock
)

// ErrUnsupportedCapability is returned by a Factory that cannot provide the
// requested capabilities.
var ErrUnsupportedCapability = errors.New("unsupported lock capability")

// Strategy is one lock instance.
type Strategy interface {
	// Acquire takes the lock without blocking. Returns false if it is held
	// elsewhere.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lock up. Returns false if it was not held by this
	// instance.
	Release(ctx context.Context) (bool, error)

	// Refresh extends a lock this instance holds by the strategy's ttl.
	// Returns false if the lock expired and is no longer ours.
	Refresh(ctx context.Context) (bool, error)
}

// Factory creates lock strategies.
type Factory interface {
	CreateLocker(name string, capability Capability) (Strategy, error)
}

// Coordinator wraps the sync lock for the orchestrator.
//
// Lock, Refresh and Unlock never return errors. A failing backend is logged and
// reported as "not acquired" / "not released" so the caller only has one
// thing to branch on.
type Coordinator struct {
	factory Factory
	logger  *slog.Logger

	mu     sync.Mutex
	locker Strategy
}

// NewCoordinator creates a coordinator for SyncLockName.
// A nil logger discards diagnostics.
func NewCoordinator(factory Factory, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		factory: factory,
		logger:  logger.With("component", "lock", "lock", SyncLockName),
	}
}

// Lock tries to take the sync lock.
func (c *Coordinator) Lock(ctx context.Context) bool {
	s, err := c.strategy()
	if err != nil {
		c.logger.Error("cannot create locker", "error", err)
		return false
	}
	ok, err := s.Acquire(ctx)
	if err != nil {
		c.logger.Error("lock acquire failed", "error", err)
		return false
	}
	c.logger.Debug("lock acquire", "acquired", ok)
	return ok
}

// Unlock releases the sync lock.
func (c *Coordinator) Unlock(ctx context.Context) bool {
	s, err := c.strategy()
	if err != nil {
		c.logger.Error("cannot create locker", "error", err)
		return false
	}
	ok, err := s.Release(ctx)
	if err != nil {
		c.logger.Error("lock release failed", "error", err)
		return false
	}
	c.logger.Debug("lock release", "released", ok)
	return ok
}

// Refresh extends the sync lock while a long run still needs it. A false
// result means another run may have taken the lock over.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	s, err := c.strategy()
	if err != nil {
		c.logger.Error("cannot create locker", "error", err)
		return false
	}
	ok, err := s.Refresh(ctx)
	if err != nil {
		c.logger.Error("lock refresh failed", "error", err)
		return false
	}
	if !ok {
		c.logger.Warn("lock lost")
	}
	return ok
}

// strategy returns the cached locker, creating it on first use.
func (c *Coordinator) strategy() (Strategy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locker != nil {
		return c.locker, nil
	}
	s, err := c.factory.CreateLocker(SyncLockName, CapabilityExclusive)
	if err != nil {
		return nil, err
	}
	c.locker = s
	return s, nil
}

func supports(have, want Capability) bool {
	return want&^have == 0
}
