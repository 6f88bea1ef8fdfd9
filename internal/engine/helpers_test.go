package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crossmedia/fourallportal/internal/mapping"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/pim"
	"github.com/crossmedia/fourallportal/internal/response"
	"github.com/crossmedia/fourallportal/internal/store"
	"github.com/crossmedia/fourallportal/internal/testutil"
)

// fixture is a store with one active server backed by a fake PIM, two
// modules ("products" and "assets") and an entity mapping registry.
type fixture struct {
	store    *store.Store
	pim      *testutil.FakePIM
	clock    *testutil.FakeClock
	sink     *response.CollectingResponse
	registry *mapping.Registry
	server   model.Server
	products model.Module
	assets   model.Module
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clock := testutil.NewFakeClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"), store.WithClock(clock.Peek))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fake := testutil.NewFakePIM(t, "sync", "secret")

	srv := model.Server{Domain: fake.URL(), Username: "sync", Password: "secret", Active: true}
	_, err = s.UpsertServer(ctx, &srv)
	require.NoError(t, err)

	products := model.Module{ServerID: srv.ID, ModuleName: "products", ConnectorName: "products_conn", MappingClass: "entity"}
	_, err = s.UpsertModule(ctx, &products)
	require.NoError(t, err)
	assets := model.Module{ServerID: srv.ID, ModuleName: "assets", ConnectorName: "assets_conn", MappingClass: "entity"}
	_, err = s.UpsertModule(ctx, &assets)
	require.NoError(t, err)

	registry := mapping.NewRegistry()
	require.NoError(t, registry.Register("entity", mapping.NewEntityMapper(s, nil)))

	return &fixture{
		store:    s,
		pim:      fake,
		clock:    clock,
		sink:     response.NewCollectingResponse(response.LevelDebug),
		registry: registry,
		server:   srv,
		products: products,
		assets:   assets,
	}
}

func (f *fixture) remotes(srv model.Server) (Remote, error) {
	c, err := pim.NewClient(pim.Config{
		Domain:    srv.Domain,
		Username:  srv.Username,
		Password:  srv.Password,
		RateLimit: -1,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f *fixture) options(extra ...Option) []Option {
	return append([]Option{
		WithSink(f.sink),
		WithClock(f.clock),
		WithTokenGenerator(testutil.NewSequentialTokens("claim")),
	}, extra...)
}

func (f *fixture) syncDriver(opts ...Option) *SyncDriver {
	return NewSyncDriver(f.store, f.remotes, f.options(opts...)...)
}

func (f *fixture) execDriver(applier Applier, opts ...Option) *ExecutionDriver {
	if applier == nil {
		applier = f.registry
	}
	return NewExecutionDriver(f.store, applier, f.options(opts...)...)
}

// queue stores n events for module with remote ids 1..n.
func (f *fixture) queue(t *testing.T, m model.Module, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := f.store.IngestEvent(context.Background(), model.Event{
			ModuleID: m.ID,
			RemoteID: int64(i),
			Action:   model.ActionCreate,
			Target:   fmt.Sprintf("obj-%d", i),
			Payload:  []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
		require.NoError(t, err)
		f.clock.Advance(time.Millisecond)
	}
}

func (f *fixture) counts(t *testing.T) map[model.EventStatus]int {
	t.Helper()
	counts, err := f.store.CountByStatus(context.Background())
	require.NoError(t, err)
	return counts
}

func fakeEvents(from, to int64) []testutil.FakeEvent {
	var events []testutil.FakeEvent
	for id := from; id <= to; id++ {
		events = append(events, testutil.FakeEvent{
			ID:       id,
			Action:   "update",
			ObjectID: fmt.Sprintf("obj-%d", id),
			Payload:  map[string]any{"id": id},
		})
	}
	return events
}

// failingTargets fails events whose target is in the set.
func failingTargets(next Applier, targets ...string) Applier {
	set := map[string]bool{}
	for _, t := range targets {
		set[t] = true
	}
	return mapping.MapperFunc(func(ctx context.Context, m model.Module, ev model.Event) error {
		if set[ev.Target] {
			return errors.New("mapping rejected " + ev.Target)
		}
		return next.Apply(ctx, m, ev)
	})
}

// mockLocker records Lock/Refresh/Unlock calls.
type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context) bool {
	return m.Called().Bool(0)
}

func (m *mockLocker) Unlock(ctx context.Context) bool {
	return m.Called().Bool(0)
}

func (m *mockLocker) Refresh(ctx context.Context) bool {
	return m.Called().Bool(0)
}

// stuckRemote answers every page request with the same events, whatever
// position was asked for.
type stuckRemote struct {
	page     []pim.RemoteEvent
	requests int
}

func (r *stuckRemote) Login(context.Context) error { return nil }

func (r *stuckRemote) Events(_ context.Context, _ string, _ int64, _ int) ([]pim.RemoteEvent, error) {
	r.requests++
	return r.page, nil
}

// brokenIngest makes IngestEvent fail as if the database went away.
type brokenIngest struct {
	*store.Store
}

func (b brokenIngest) IngestEvent(context.Context, model.Event) (bool, error) {
	return false, fmt.Errorf("ingest event: begin tx: %w", errors.New("sql: database is closed"))
}
