// Package bootstrap reconciles the declared servers and modules into the
// event store and tests connectivity to each of them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crossmedia/fourallportal/internal/config"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/pim"
	"github.com/crossmedia/fourallportal/internal/response"
	"github.com/crossmedia/fourallportal/internal/store"
)

// ErrConnectivity is returned by Run in fail-fast mode when a login or
// module configuration test failed.
var ErrConnectivity = errors.New("connectivity test failed")

var errNoClient = errors.New("no client for server")

// Store is the part of the event store the reconciler writes.
type Store interface {
	FindServer(ctx context.Context, domain string) (*model.Server, error)
	UpsertServer(ctx context.Context, srv *model.Server) (bool, error)
	UpsertModule(ctx context.Context, m *model.Module) (bool, error)
}

// Remote is the part of the PIM client used for connectivity tests.
type Remote interface {
	Login(ctx context.Context) error
	ModuleConfig(ctx context.Context, module string) (*pim.ModuleConfig, error)
}

// RemoteFactory creates a client for a server.
type RemoteFactory func(srv model.Server) (Remote, error)

// Failure is one failed connectivity test. Module is empty for a failed
// server login.
type Failure struct {
	Domain string
	Module string
	Err    error
}

// Report summarizes a reconciliation.
type Report struct {
	ServersCreated int
	ServersUpdated int
	ModulesCreated int
	ModulesUpdated int
	Failures       []Failure
}

// Reconciler writes a bootstrap into the store.
type Reconciler struct {
	store   Store
	remotes RemoteFactory
	sink    response.Sink
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSink sets where progress is reported.
func WithSink(s response.Sink) Option {
	return func(r *Reconciler) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(s Store, remotes RemoteFactory, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   s,
		remotes: remotes,
		sink:    response.Discard,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "bootstrap")
	return r
}

// Run upserts every server and module of b, in file order, and tests login
// and module configuration against the remote.
//
// Connectivity failures are reported and collected. With failFast the run
// stops at the first one and returns an error wrapping ErrConnectivity;
// everything written before that point stays written. Store errors always
// stop the run.
func (r *Reconciler) Run(ctx context.Context, b *config.Bootstrap, failFast bool) (Report, error) {
	var report Report
	for _, spec := range b.Servers {
		srv, err := r.upsertServer(ctx, spec, &report)
		if err != nil {
			return report, err
		}

		client, err := r.remotes(srv)
		if err == nil {
			err = client.Login(ctx)
		}
		if !r.check(&report, srv.Domain, "", err) && failFast {
			return report, fmt.Errorf("server %s: %w: %v", srv.Domain, ErrConnectivity, err)
		}

		for _, ms := range spec.Modules {
			m := ms.Module(srv.ID)
			created, err := r.store.UpsertModule(ctx, &m)
			if err != nil {
				return report, fmt.Errorf("module %s/%s: %w", srv.Domain, m.ModuleName, err)
			}
			r.describeModule(m, created, &report)

			if client == nil {
				err = errNoClient
			} else {
				_, err = client.ModuleConfig(ctx, m.ModuleName)
			}
			if !r.check(&report, srv.Domain, m.ModuleName, err) && failFast {
				return report, fmt.Errorf("module %s/%s: %w: %v", srv.Domain, m.ModuleName, ErrConnectivity, err)
			}
		}
	}
	return report, nil
}

// upsertServer writes one server. An empty password in the bootstrap keeps
// the stored one.
func (r *Reconciler) upsertServer(ctx context.Context, spec config.ServerSpec, report *Report) (model.Server, error) {
	srv := spec.Server()
	if srv.Password == "" {
		existing, err := r.store.FindServer(ctx, srv.Domain)
		switch {
		case err == nil:
			srv.Password = existing.Password
		case !errors.Is(err, store.ErrNotFound):
			return srv, fmt.Errorf("server %s: %w", srv.Domain, err)
		}
	}

	created, err := r.store.UpsertServer(ctx, &srv)
	if err != nil {
		return srv, fmt.Errorf("server %s: %w", srv.Domain, err)
	}

	if created {
		report.ServersCreated++
		r.sink.Info("Creating new server for " + srv.Domain)
	} else {
		report.ServersUpdated++
		r.sink.Info("Updating configuration for " + srv.Domain)
	}
	r.sink.Info("* Username: " + srv.Username)
	r.sink.Info("* Password: " + maskPassword(srv.Password))
	r.sink.Info(fmt.Sprintf("* Active: %t", srv.Active))
	if srv.CustomerName != "" {
		r.sink.Info("* Customer name: " + srv.CustomerName)
	}
	return srv, nil
}

func (r *Reconciler) describeModule(m model.Module, created bool, report *Report) {
	if created {
		report.ModulesCreated++
		r.sink.Info("Adding new module for " + m.ModuleName)
	} else {
		report.ModulesUpdated++
		r.sink.Info("Updating existing module configuration for " + m.ModuleName)
	}
	r.sink.Info("* Connector name: " + m.ConnectorName)
	r.sink.Info("* Mapping class: " + m.MappingClass)
	r.sink.Info(fmt.Sprintf("* Dynamic: %t", m.EnableDynamicModel))
	if m.ShellPath != "" {
		r.sink.Info("* Shell path: " + m.ShellPath)
	}
	if m.StorageTarget != 0 {
		r.sink.Info(fmt.Sprintf("* FAL storage: %d", m.StorageTarget))
	}
	if m.StoragePID != 0 {
		r.sink.Info(fmt.Sprintf("* Storage PID: %d", m.StoragePID))
	}
}

// check reports a connectivity test result and records a failure.
func (r *Reconciler) check(report *Report, domain, module string, err error) bool {
	if err == nil {
		r.sink.Info("* Testing connectivity... OKAY!")
		return true
	}
	report.Failures = append(report.Failures, Failure{Domain: domain, Module: module, Err: err})
	r.sink.Error("* Testing connectivity... ERROR! " + err.Error())
	r.logger.Warn("connectivity test failed", "server", domain, "module", module, "error", err)
	return false
}

func maskPassword(p string) string {
	switch {
	case p == "":
		return "(empty)"
	case strings.HasPrefix(p, pim.KeyringPrefix):
		return p
	default:
		return "********"
	}
}
