package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/crossmedia/fourallportal/internal/metrics"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/pim"
	"github.com/crossmedia/fourallportal/internal/response"
)

// Remote is the part of the PIM client the sync driver uses.
type Remote interface {
	Login(ctx context.Context) error
	Events(ctx context.Context, connector string, after int64, limit int) ([]pim.RemoteEvent, error)
}

// RemoteFactory returns a client for srv.
type RemoteFactory func(srv model.Server) (Remote, error)

// SyncStore is the part of the event store the sync driver uses.
type SyncStore interface {
	ListServers(ctx context.Context, activeOnly bool) ([]model.Server, error)
	IngestEvent(ctx context.Context, ev model.Event) (bool, error)
}

// SyncReport summarizes one sync phase.
type SyncReport struct {
	Servers    int
	Modules    int
	Fetched    int
	Ingested   int
	Duplicates int
	Malformed  int

	// ServerErrors holds connectivity or login failures by server domain.
	ServerErrors map[string]error

	// ModuleErrors holds fetch failures by "domain/module".
	ModuleErrors map[string]error

	Duration time.Duration
}

// FailedServers returns the domains in ServerErrors, sorted.
func (r SyncReport) FailedServers() []string {
	return sortedKeys(r.ServerErrors)
}

// FailedModules returns the keys of ModuleErrors, sorted.
func (r SyncReport) FailedModules() []string {
	return sortedKeys(r.ModuleErrors)
}

// SyncDriver pulls new remote events into the local queue.
type SyncDriver struct {
	store    SyncStore
	remotes  RemoteFactory
	logger   *slog.Logger
	sink     response.Sink
	metrics  *metrics.Recorder
	clock    Clock
	pageSize int
	maxPages int
}

// NewSyncDriver creates a sync driver.
func NewSyncDriver(s SyncStore, remotes RemoteFactory, opts ...Option) *SyncDriver {
	o := newOptions(opts)
	return &SyncDriver{
		store:    s,
		remotes:  remotes,
		logger:   o.logger.With("component", "sync"),
		sink:     o.sink,
		metrics:  o.metrics,
		clock:    o.clock,
		pageSize: o.pageSize,
		maxPages: o.maxPages,
	}
}

// Run ingests events for every active server and every module matching the
// parameters' module filter.
//
// Server and module failures are recorded in the report and do not stop the
// run. The returned error is non-nil only for failures that must stop the
// whole invocation: the store failing or ctx being cancelled.
func (d *SyncDriver) Run(ctx context.Context, params model.SyncParameters) (SyncReport, error) {
	return d.RunLocked(ctx, params, nil)
}

// RunLocked is Run for a caller holding a lock that expires. refresh is
// called before every page fetch; once it returns false the phase stops with
// ErrLockLost so a second run that took the lock over is never overlapped.
// A nil refresh is the same as Run.
func (d *SyncDriver) RunLocked(ctx context.Context, params model.SyncParameters, refresh func(context.Context) bool) (report SyncReport, err error) {
	start := d.clock.Now()
	report = SyncReport{
		ServerErrors: map[string]error{},
		ModuleErrors: map[string]error{},
	}
	defer func() {
		report.Duration = d.clock.Now().Sub(start)
		d.metrics.PhaseDuration("sync", report.Duration)
	}()

	servers, err := d.store.ListServers(ctx, true)
	if err != nil {
		return report, model.Fatal(fmt.Errorf("list servers: %w", err))
	}

	filter := params.Filter()
	for _, srv := range servers {
		modules := filter.Apply(srv.Modules)
		if len(modules) == 0 {
			continue
		}
		report.Servers++

		if err := d.syncServer(ctx, srv, modules, params.FullSync, refresh, &report); err != nil {
			return report, err
		}
	}

	d.logger.Info("sync finished",
		"servers", report.Servers,
		"modules", report.Modules,
		"ingested", report.Ingested,
		"duplicates", report.Duplicates,
		"failed_servers", report.FailedServers(),
		"failed_modules", report.FailedModules(),
	)
	return report, nil
}

func (d *SyncDriver) syncServer(ctx context.Context, srv model.Server, modules []model.Module, full bool, refresh func(context.Context) bool, report *SyncReport) error {
	logger := d.logger.With("server", srv.Domain)

	client, err := d.remotes(srv)
	if err == nil {
		err = client.Login(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.ServerErrors[srv.Domain] = err
		d.metrics.SyncError("server")
		d.sink.Error(fmt.Sprintf("Server %s: %v", srv.Domain, err))
		logger.Warn("server skipped", "error", err)
		return nil
	}

	for _, m := range modules {
		report.Modules++
		err := d.syncModule(ctx, client, m, full, refresh, report)
		if err == nil {
			continue
		}
		if model.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		key := srv.Domain + "/" + m.ModuleName
		report.ModuleErrors[key] = err
		d.metrics.SyncError("module")
		d.sink.Error(fmt.Sprintf("Module %s: %v", key, err))
		logger.Warn("module skipped", "module", m.ModuleName, "error", err)
	}
	return nil
}

// syncModule pages through the module's events after its cursor. A full
// sync starts from zero; the stored cursor still only moves forward.
//
// A full page whose ids are all at or below the requested position would be
// requested again forever, so it ends the module with an error.
func (d *SyncDriver) syncModule(ctx context.Context, client Remote, m model.Module, full bool, refresh func(context.Context) bool, report *SyncReport) error {
	connector := m.ConnectorName
	if connector == "" {
		connector = m.ModuleName
	}

	after := m.LastEventID
	if full {
		after = 0
	}

	d.sink.Info(fmt.Sprintf("Receiving events for module %s after %d", m.ModuleName, after))

	for page := 0; d.maxPages == 0 || page < d.maxPages; page++ {
		if refresh != nil && !refresh(ctx) {
			return model.Fatal(ErrLockLost)
		}

		requested := after
		events, err := client.Events(ctx, connector, after, d.pageSize)
		if err != nil {
			return err
		}
		report.Fetched += len(events)

		for _, re := range events {
			if re.ID > after {
				after = re.ID
			}

			ev, err := re.ToEvent(m.ID)
			if err != nil {
				report.Malformed++
				d.sink.Warning(fmt.Sprintf("Module %s: skipping %v", m.ModuleName, err))
				continue
			}

			inserted, err := d.store.IngestEvent(ctx, ev)
			if err != nil {
				return model.Fatal(fmt.Errorf("module %s: %w", m.ModuleName, err))
			}
			if inserted {
				report.Ingested++
				d.metrics.Ingested(m.ModuleName)
			} else {
				report.Duplicates++
				d.metrics.Duplicate(m.ModuleName)
			}
		}

		if len(events) < d.pageSize {
			return nil
		}
		if after == requested {
			return fmt.Errorf("connector %s: full page after event %d did not advance", connector, requested)
		}
	}

	d.sink.Debug(fmt.Sprintf("Module %s: page limit %d reached", m.ModuleName, d.maxPages))
	return nil
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
