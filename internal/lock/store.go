package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long a crashed holder blocks other runs.
const DefaultTTL = 10 * time.Minute

// Backend is the part of the event store the store strategy needs.
type Backend interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) (bool, error)
	RefreshLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
}

// StoreFactory creates locks kept in the event store's locks table.
type StoreFactory struct {
	backend Backend
	ttl     time.Duration
}

// NewStoreFactory creates a factory over backend. A non-positive ttl uses
// DefaultTTL.
func NewStoreFactory(backend Backend, ttl time.Duration) *StoreFactory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StoreFactory{backend: backend, ttl: ttl}
}

// CreateLocker implements Factory. Each locker gets its own owner token.
func (f *StoreFactory) CreateLocker(name string, capability Capability) (Strategy, error) {
	if !supports(CapabilityExclusive|CapabilityNoBlock, capability) {
		return nil, fmt.Errorf("store lock %q: %w", name, ErrUnsupportedCapability)
	}
	owner, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("store lock %q: owner token: %w", name, err)
	}
	return &storeLocker{
		backend: f.backend,
		name:    name,
		owner:   owner.String(),
		ttl:     f.ttl,
	}, nil
}

type storeLocker struct {
	backend Backend
	name    string
	owner   string
	ttl     time.Duration
}

func (l *storeLocker) Acquire(ctx context.Context) (bool, error) {
	return l.backend.AcquireLock(ctx, l.name, l.owner, l.ttl)
}

func (l *storeLocker) Release(ctx context.Context) (bool, error) {
	return l.backend.ReleaseLock(ctx, l.name, l.owner)
}

func (l *storeLocker) Refresh(ctx context.Context) (bool, error) {
	return l.backend.RefreshLock(ctx, l.name, l.owner, l.ttl)
}
