package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crossmedia/fourallportal/internal/model"
)

// testClock is a settable time source for deterministic timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestModule inserts a server with one module and returns the module.
func createTestModule(t *testing.T, s *Store, domain, moduleName string) model.Module {
	t.Helper()
	ctx := context.Background()

	srv := &model.Server{Domain: domain, Active: true}
	if _, err := s.UpsertServer(ctx, srv); err != nil {
		t.Fatalf("UpsertServer() failed: %v", err)
	}

	m := &model.Module{
		ServerID:      srv.ID,
		ModuleName:    moduleName,
		ConnectorName: moduleName + "_connector",
		MappingClass:  "entity",
	}
	if _, err := s.UpsertModule(ctx, m); err != nil {
		t.Fatalf("UpsertModule() failed: %v", err)
	}
	return *m
}

// createTestEvent builds a remote event for module m with minimal fields.
func createTestEvent(m model.Module, remoteID int64) model.Event {
	return model.Event{
		ModuleID:   m.ID,
		RemoteID:   remoteID,
		Action:     model.ActionUpdate,
		Target:     fmt.Sprintf("obj-%d", remoteID),
		PayloadRef: "ref",
		Payload:    []byte(`{"name":"x"}`),
	}
}
