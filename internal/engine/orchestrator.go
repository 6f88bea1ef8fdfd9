package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossmedia/fourallportal/internal/metrics"
	"github.com/crossmedia/fourallportal/internal/model"
	"github.com/crossmedia/fourallportal/internal/response"
)

// Result is the outcome of a run. Its value is the process exit code.
type Result int

const (
	ResultSuccess Result = 0
	ResultFailure Result = 1
	ResultInvalid Result = 2
)

// Results lists every result name.
var Results = []string{ResultSuccess.String(), ResultFailure.String(), ResultInvalid.String()}

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Operator-facing messages.
const (
	MsgNoMode         = "Either option --sync, --full-sync or --execute has to be used"
	MsgLockFailed     = "Cannot acquire lock - exiting without error"
	MsgLockLost       = "Lock expired during sync - stopping"
	MsgThreadsReached = "Maximum number of processing threads reached"
)

// Locker is the sync lock. *lock.Coordinator implements it.
type Locker interface {
	Lock(ctx context.Context) bool
	Unlock(ctx context.Context) bool

	// Refresh extends the held lock. False means it was lost.
	Refresh(ctx context.Context) bool
}

// OrchestratorStore is the part of the event store the orchestrator reads
// directly.
type OrchestratorStore interface {
	ListServers(ctx context.Context, activeOnly bool) ([]model.Server, error)
	CountProcessing(ctx context.Context) (int, error)
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report is the outcome of Orchestrator.Run.
type Report struct {
	Result Result

	// Throttled is set when an execute-only run backed off because the
	// thread limit was reached.
	Throttled bool

	// Requeued is the number of stale processing events put back in the queue.
	Requeued int64

	Sync      *SyncReport
	Execution *ExecutionReport

	// Err is the error that made the run fail or invalid.
	Err error
}

// Orchestrator runs the sync and execute phases of one invocation.
type Orchestrator struct {
	store      OrchestratorStore
	lock       Locker
	sync       *SyncDriver
	exec       *ExecutionDriver
	logger     *slog.Logger
	sink       response.Sink
	metrics    *metrics.Recorder
	clock      Clock
	staleAfter time.Duration
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(s OrchestratorStore, lock Locker, sync *SyncDriver, exec *ExecutionDriver, opts ...Option) *Orchestrator {
	o := newOptions(opts)
	return &Orchestrator{
		store:      s,
		lock:       lock,
		sync:       sync,
		exec:       exec,
		logger:     o.logger.With("component", "orchestrator"),
		sink:       o.sink,
		metrics:    o.metrics,
		clock:      o.clock,
		staleAfter: o.staleAfter,
	}
}

// Run executes one invocation.
//
// The sink's Send is called exactly once before Run returns, whatever the
// result.
func (o *Orchestrator) Run(ctx context.Context, params model.SyncParameters) (report Report) {
	defer func() {
		o.sink.Send()
		o.metrics.Finished(report.Result.String(), Results, o.clock.Now())
		o.logger.Info("run finished", "result", report.Result.String(), "error", report.Err)
	}()

	params = params.Normalize()
	if err := params.Validate(); err != nil {
		o.sink.Error(MsgNoMode)
		return Report{
			Result: ResultInvalid,
			Err:    &RunError{Code: ErrCodeInvalidParameters, Message: "no mode selected", Err: err},
		}
	}

	if params.ExecuteOnly() {
		requeued, err := o.recoverStale(ctx)
		report.Requeued = requeued
		if err != nil {
			return o.fail(report, err)
		}

		processing, err := o.store.CountProcessing(ctx)
		if err != nil {
			return o.fail(report, storeError("count processing events", err))
		}
		if processing >= params.ThreadLimit {
			o.sink.Info(fmt.Sprintf("%s (%d/%d)", MsgThreadsReached, processing, params.ThreadLimit))
			report.Result = ResultSuccess
			report.Throttled = true
			return report
		}
	}

	if params.Sync {
		syncReport, err := o.runSync(ctx, params)
		report.Sync = syncReport
		if err != nil {
			return o.fail(report, err)
		}
	}

	if params.Execute {
		if !params.ExecuteOnly() {
			requeued, err := o.recoverStale(ctx)
			report.Requeued += requeued
			if err != nil {
				return o.fail(report, err)
			}
		}

		moduleIDs, err := o.scope(ctx, params.Filter())
		if err != nil {
			return o.fail(report, err)
		}

		execReport, err := o.exec.Run(ctx, moduleIDs, Limits{
			EventLimit: params.EventLimit,
			TimeLimit:  params.TimeLimit,
		})
		report.Execution = &execReport
		if err != nil {
			return o.fail(report, err)
		}
		o.sink.Info(fmt.Sprintf("Processed %d events (%d done, %d failed)", execReport.Processed, execReport.Done, execReport.Failed))
	}

	report.Result = ResultSuccess
	return report
}

// runSync runs the sync phase inside the lock. A forced run skips the lock
// entirely. The lock is refreshed before every page so a sync longer than the
// lock ttl stays exclusive, and the phase stops if a refresh fails.
func (o *Orchestrator) runSync(ctx context.Context, params model.SyncParameters) (*SyncReport, error) {
	var refresh func(context.Context) bool
	if !params.Force {
		refresh = o.lock.Refresh
		if !o.lock.Lock(ctx) {
			o.sink.Error(MsgLockFailed)
			return nil, &RunError{Code: ErrCodeLockUnavailable, Message: "sync lock not acquired", Phase: "sync"}
		}
		defer func() {
			if !o.lock.Unlock(context.WithoutCancel(ctx)) {
				o.logger.Warn("sync lock was not released")
			}
		}()
	}

	syncReport, err := o.sync.RunLocked(ctx, params, refresh)
	if errors.Is(err, ErrLockLost) {
		o.sink.Error(MsgLockLost)
		return &syncReport, &RunError{Code: ErrCodeLockUnavailable, Message: "sync lock lost", Phase: "sync", Err: err}
	}
	if err != nil {
		code := ErrCodeStoreUnavailable
		if ctx.Err() != nil {
			code = ErrCodeCancelled
		}
		return &syncReport, &RunError{Code: code, Message: "sync stopped", Phase: "sync", Err: err}
	}
	o.sink.Info(fmt.Sprintf("Received %d new events from %d modules", syncReport.Ingested, syncReport.Modules))
	return &syncReport, nil
}

// recoverStale puts events stuck in processing back in the queue.
func (o *Orchestrator) recoverStale(ctx context.Context) (int64, error) {
	if o.staleAfter <= 0 {
		return 0, nil
	}
	n, err := o.store.RequeueStale(ctx, o.clock.Now().Add(-o.staleAfter))
	if err != nil {
		return 0, storeError("requeue stale events", err)
	}
	if n > 0 {
		o.sink.Warning(fmt.Sprintf("Requeued %d events stuck in processing for more than %s", n, o.staleAfter))
	}
	return n, nil
}

// scope returns the module ids the execute phase works on, nil for all.
func (o *Orchestrator) scope(ctx context.Context, filter model.ModuleFilter) ([]int64, error) {
	if filter.IsZero() {
		return nil, nil
	}
	servers, err := o.store.ListServers(ctx, false)
	if err != nil {
		return nil, storeError("list servers", err)
	}
	ids := []int64{}
	for _, srv := range servers {
		for _, m := range filter.Apply(srv.Modules) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (o *Orchestrator) fail(report Report, err error) Report {
	report.Result = ResultFailure
	report.Err = err

	var re *RunError
	if !errors.As(err, &re) || re.Code != ErrCodeLockUnavailable {
		o.sink.Error(err.Error())
	}
	return report
}

func storeError(op string, err error) error {
	return &RunError{Code: ErrCodeStoreUnavailable, Message: op, Err: err}
}
