package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/engine"
	"github.com/crossmedia/fourallportal/internal/metrics"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/pim"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Sync        bool
	FullSync    bool
	Force       bool
	Execute     bool
	MetricsFile string // overrides metrics.textfile
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [module] [exclude] [maxEvents] [maxTime] [maxThreads]",
		Short: "Receive and/or execute PIM events",
		Long: `Receive new events from the configured PIM servers and/or apply queued
events to local state.

Arguments:
  module      only this module, by module or connector name
  exclude     comma separated module names to skip
  maxEvents   stop executing after this many events (0 = unlimited)
  maxTime     stop executing after this many seconds (0 = unlimited)
  maxThreads  concurrently processing events tolerated by an execute-only
              run before it exits without doing anything (default 4)

Exit codes: 0 success, 1 lock not acquired or fatal error, 2 no mode given.

Example:
  fourallportal sync --sync --execute
  fourallportal sync products --execute 500 300
  fourallportal sync "" assets,media --full-sync -f`,
		Args: cobra.MaximumNArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseSyncArgs(opts, args)
			if err != nil {
				return WrapExitError(ExitInvalid, "invalid arguments", err)
			}
			return runSync(cmd, opts, params)
		},
	}

	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "receive new events")
	cmd.Flags().BoolVar(&opts.FullSync, "full-sync", false, "receive all events from the start (implies --sync)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "run regardless of the lock and neither lock nor unlock")
	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "apply queued events")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write run metrics to this node-exporter textfile")

	return cmd
}

// parseSyncArgs builds run parameters from flags and positional arguments.
// Empty positional arguments keep their defaults.
func parseSyncArgs(opts *SyncOptions, args []string) (model.SyncParameters, error) {
	params := model.SyncParameters{
		Sync:     opts.Sync,
		FullSync: opts.FullSync,
		Force:    opts.Force,
		Execute:  opts.Execute,
	}

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	number := func(i int, name string) (int, error) {
		s := arg(i)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, s)
		}
		return n, nil
	}

	params.Module = arg(0)
	params.Exclude = arg(1)

	var err error
	if params.EventLimit, err = number(2, "maxEvents"); err != nil {
		return params, err
	}
	seconds, err := number(3, "maxTime")
	if err != nil {
		return params, err
	}
	params.TimeLimit = time.Duration(seconds) * time.Second
	if params.ThreadLimit, err = number(4, "maxThreads"); err != nil {
		return params, err
	}
	return params, nil
}

func runSync(cmd *cobra.Command, opts *SyncOptions, params model.SyncParameters) error {
	rt, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	if params.ThreadLimit == 0 {
		params.ThreadLimit = rt.settings.Execute.MaxThreads
	}

	registry, err := rt.newRegistry()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to set up mappings", err)
	}
	locker, closeLocker := rt.newLocker()
	defer closeLocker()

	rec := metrics.NewRecorder()
	engineOpts := []engine.Option{
		engine.WithLogger(rt.logger),
		engine.WithSink(rt.sink),
		engine.WithMetrics(rec),
		engine.WithPageSize(rt.settings.Sync.PageSize),
		engine.WithMaxPages(rt.settings.Sync.MaxPages),
		engine.WithBatchSize(rt.settings.Execute.BatchSize),
		engine.WithStaleAfter(rt.settings.Execute.StaleAfter),
	}
	remotes := func(srv model.Server) (engine.Remote, error) {
		c, err := rt.remotes(srv)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	orchestrator := engine.NewOrchestrator(
		rt.store,
		locker,
		engine.NewSyncDriver(rt.store, remotes, engineOpts...),
		engine.NewExecutionDriver(rt.store, registry, engineOpts...),
		engineOpts...,
	)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report := orchestrator.Run(ctx, params)
	recordQueue(context.WithoutCancel(ctx), rt, rec)

	metricsFile := opts.MetricsFile
	if metricsFile == "" {
		metricsFile = rt.settings.Metrics.Textfile
	}
	if metricsFile != "" {
		if err := rec.WriteTextfile(metricsFile); err != nil {
			rt.logger.Error("metrics export failed", "path", metricsFile, "error", err)
		}
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := formatter.Success(newSyncSummary(report)); err != nil {
			return err
		}
	}

	switch report.Result {
	case engine.ResultInvalid:
		return WrapExitError(ExitInvalid, "no mode selected", report.Err)
	case engine.ResultFailure:
		return WrapExitError(ExitFailure, "sync failed", report.Err)
	default:
		return nil
	}
}

// recordQueue stores the queue size per status after the run. Failure only
// costs the gauge.
func recordQueue(ctx context.Context, rt *runtime, rec *metrics.Recorder) {
	counts, err := rt.store.CountByStatus(ctx)
	if err != nil {
		rt.logger.Warn("queue size not recorded", "error", err)
		return
	}
	for status, n := range counts {
		rec.QueueSize(string(status), n)
	}
}

// syncSummary is the JSON form of a run report.
type syncSummary struct {
	Result      string            `json:"result"`
	Throttled   bool              `json:"throttled,omitempty"`
	Requeued    int64             `json:"requeued,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Sync        *syncPhase        `json:"sync,omitempty"`
	Execution   *executionPhase   `json:"execution,omitempty"`
	Unreachable map[string]string `json:"unreachable,omitempty"`
}

type syncPhase struct {
	Servers    int     `json:"servers"`
	Modules    int     `json:"modules"`
	Fetched    int     `json:"fetched"`
	Ingested   int     `json:"ingested"`
	Duplicates int     `json:"duplicates"`
	Malformed  int     `json:"malformed"`
	Seconds    float64 `json:"seconds"`
}

type executionPhase struct {
	Processed int     `json:"processed"`
	Done      int     `json:"done"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Stopped   string  `json:"stopped,omitempty"`
	Seconds   float64 `json:"seconds"`
}

func newSyncSummary(r engine.Report) syncSummary {
	s := syncSummary{
		Result:    r.Result.String(),
		Throttled: r.Throttled,
		Requeued:  r.Requeued,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
		var re *engine.RunError
		if errors.As(r.Err, &re) {
			s.ErrorCode = string(re.Code)
		}
	}
	if r.Sync != nil {
		s.Sync = &syncPhase{
			Servers:    r.Sync.Servers,
			Modules:    r.Sync.Modules,
			Fetched:    r.Sync.Fetched,
			Ingested:   r.Sync.Ingested,
			Duplicates: r.Sync.Duplicates,
			Malformed:  r.Sync.Malformed,
			Seconds:    r.Sync.Duration.Seconds(),
		}
		for _, key := range r.Sync.FailedServers() {
			s.addUnreachable(key, r.Sync.ServerErrors[key])
		}
		for _, key := range r.Sync.FailedModules() {
			s.addUnreachable(key, r.Sync.ModuleErrors[key])
		}
	}
	if r.Execution != nil {
		s.Execution = &executionPhase{
			Processed: r.Execution.Processed,
			Done:      r.Execution.Done,
			Failed:    r.Execution.Failed,
			Skipped:   r.Execution.Skipped,
			Stopped:   string(r.Execution.Stopped),
			Seconds:   r.Execution.Duration.Seconds(),
		}
	}
	return s
}

func (s *syncSummary) addUnreachable(key string, err error) {
	if s.Unreachable == nil {
		s.Unreachable = map[string]string{}
	}
	msg := err.Error()
	if pim.IsUnauthorized(err) {
		msg = "unauthorized: " + msg
	}
	s.Unreachable[key] = msg
}
