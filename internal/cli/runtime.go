package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/config"
	"github.com/crossmedia/fourallportal/internal/lock"
	"github.com/crossmedia/fourallportal/internal/mapping"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/pim"
	"github.com/crossmedia/fourallportal/internal/response"
	"github.com/crossmedia/fourallportal/internal/store"
)

// EntityMappingClass is the mapping class served by the generic entity
// mapper. Modules with a dynamic model use the same mapper whatever their
// class.
const EntityMappingClass = "entity"

// RemoteClient is what the commands need from a PIM client.
type RemoteClient interface {
	Login(ctx context.Context) error
	Events(ctx context.Context, connector string, after int64, limit int) ([]pim.RemoteEvent, error)
	ModuleConfig(ctx context.Context, module string) (*pim.ModuleConfig, error)
}

// RemoteFactory creates a PIM client for a server.
type RemoteFactory func(srv model.Server) (RemoteClient, error)

// runtime is the state shared by commands that touch the event store.
type runtime struct {
	settings *config.Settings
	store    *store.Store
	logger   *slog.Logger
	sink     response.Sink
	console  io.Writer
	remotes  RemoteFactory
}

// openRuntime loads settings, applies flag overrides and opens the store.
func openRuntime(cmd *cobra.Command, opts *RootOptions) (*runtime, error) {
	settings, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitInvalid, "invalid settings", err)
	}
	if opts.Database != "" {
		settings.Database.Path = opts.Database
	}
	if opts.LogFormat != "" {
		settings.Log.Format = opts.LogFormat
	}

	logger, err := newLogger(cmd.ErrOrStderr(), settings.Log, opts.Verbosity())
	if err != nil {
		return nil, WrapExitError(ExitInvalid, "invalid settings", err)
	}

	logger.Debug("opening database", "path", settings.Database.Path)
	st, err := store.Open(settings.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}

	// Keep stdout parseable when the result is printed as JSON.
	console := cmd.OutOrStdout()
	if opts.Format == "json" {
		console = cmd.ErrOrStderr()
	}

	var sink response.Sink = response.NewConsoleResponse(console, opts.Verbosity())
	if opts.Collect != "" {
		level, err := response.ParseLevel(opts.Collect)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitInvalid, "invalid --collect", err)
		}
		sink = response.NewCollectingResponse(level)
	}

	rt := &runtime{
		settings: settings,
		store:    st,
		logger:   logger,
		sink:     sink,
		console:  console,
		remotes:  opts.Remotes,
	}
	if rt.remotes == nil {
		rt.remotes = rt.pimClient
	}
	return rt, nil
}

// Close prints what a collecting sink held back and closes the store.
func (r *runtime) Close() {
	if out := r.sink.Collected(); out != "" {
		fmt.Fprint(r.console, out)
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
}

// pimClient builds a rate limited client for srv. A "keyring:" password is
// resolved here, so secrets never reach the database.
func (r *runtime) pimClient(srv model.Server) (RemoteClient, error) {
	password, err := pim.ResolvePassword(r.settings.Remote.KeyringService, srv.Password)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", srv.Domain, err)
	}
	c, err := pim.NewClient(pim.Config{
		Domain:    srv.Domain,
		Username:  srv.Username,
		Password:  password,
		Customer:  srv.CustomerName,
		Timeout:   r.settings.Remote.Timeout,
		RateLimit: r.settings.Remote.RateLimit,
		Burst:     r.settings.Remote.Burst,
		Logger:    r.logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newLocker builds the sync lock on the configured backend. The returned
// func releases backend resources.
func (r *runtime) newLocker() (*lock.Coordinator, func()) {
	ls := r.settings.Lock
	if ls.Backend == config.LockBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     ls.Redis.Addr,
			Password: ls.Redis.Password,
			DB:       ls.Redis.DB,
		})
		closeFn := func() {
			if err := client.Close(); err != nil {
				r.logger.Warn("error closing redis client", "error", err)
			}
		}
		return lock.NewCoordinator(lock.NewRedisFactory(client, ls.TTL), r.logger), closeFn
	}
	return lock.NewCoordinator(lock.NewStoreFactory(r.store, ls.TTL), r.logger), func() {}
}

// newRegistry wires the mapping classes this binary knows.
func (r *runtime) newRegistry() (*mapping.Registry, error) {
	reg := mapping.NewRegistry()
	entity := mapping.NewEntityMapper(r.store, r.logger)
	if err := reg.Register(EntityMappingClass, entity); err != nil {
		return nil, err
	}
	reg.SetDynamicMapper(entity)
	for _, class := range r.settings.Mapping.DynamicClasses {
		reg.RegisterDynamic(class)
	}
	r.logger.Debug("mapping classes", "classes", reg.Classes())
	return reg, nil
}

// newLogger creates the diagnostics logger. -vvv forces debug level and -q
// keeps only errors.
func newLogger(w io.Writer, s config.LogSettings, v response.Verbosity) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(s.Level)
	if err != nil {
		return nil, err
	}
	switch {
	case v >= response.VerbosityDebug:
		level = slog.LevelDebug
	case v == response.VerbosityQuiet:
		level = slog.LevelError
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if s.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
