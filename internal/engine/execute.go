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
	"github.com/crossmedia/fourallportal/internal/store"
)

// Applier applies one event to local state. *mapping.Registry implements it.
type Applier interface {
	Apply(ctx context.Context, module model.Module, ev model.Event) error
}

// ExecStore is the part of the event store the execution driver uses.
type ExecStore interface {
	ListQueued(ctx context.Context, moduleIDs []int64, limit int) ([]model.Event, error)
	GetModule(ctx context.Context, id int64) (*model.Module, error)
	ClaimEvent(ctx context.Context, id int64, token string) (bool, error)
	CompleteEvent(ctx context.Context, id int64, token string) error
	FailEvent(ctx context.Context, id int64, token, message string) error
	ReleaseClaim(ctx context.Context, id int64, token string) error
}

// Limits bounds one execute phase. Zero values mean unlimited.
type Limits struct {
	EventLimit int
	TimeLimit  time.Duration
}

// ExecutionReport summarizes one execute phase.
type ExecutionReport struct {
	Processed int // done + failed
	Done      int
	Failed    int
	Skipped   int // claimed by another worker first
	Lost      int // finished after stale recovery took the claim away

	Stopped  StopReason
	Duration time.Duration
}

// ExecutionDriver applies queued events.
type ExecutionDriver struct {
	store     ExecStore
	applier   Applier
	logger    *slog.Logger
	sink      response.Sink
	metrics   *metrics.Recorder
	clock     Clock
	tokens    TokenGenerator
	batchSize int
}

// NewExecutionDriver creates an execution driver.
func NewExecutionDriver(s ExecStore, applier Applier, opts ...Option) *ExecutionDriver {
	o := newOptions(opts)
	return &ExecutionDriver{
		store:     s,
		applier:   applier,
		logger:    o.logger.With("component", "execute"),
		sink:      o.sink,
		metrics:   o.metrics,
		clock:     o.clock,
		tokens:    o.tokens,
		batchSize: o.batchSize,
	}
}

// Run applies queued events of moduleIDs (nil = all modules), oldest first,
// until the queue is empty or a limit is reached. Limits are checked between
// events.
//
// Per-event failures are recorded on the event. The returned error is
// non-nil only when the run had to stop early: the store failed, ctx was
// cancelled, or a mapper returned a fatal error. The event being applied at
// that moment is put back in the queue.
func (d *ExecutionDriver) Run(ctx context.Context, moduleIDs []int64, limits Limits) (report ExecutionReport, err error) {
	budget := NewBudget(limits.EventLimit, limits.TimeLimit, d.clock)
	defer func() {
		report.Duration = budget.Elapsed()
		d.metrics.PhaseDuration("execute", report.Duration)
	}()

	modules := map[int64]model.Module{}

	for {
		if reason := budget.Exhausted(); reason != StopNone {
			report.Stopped = reason
			break
		}

		batch, err := d.store.ListQueued(ctx, moduleIDs, d.batchSize)
		if err != nil {
			return report, d.abort(ctx, fmt.Errorf("list queued events: %w", err))
		}
		if len(batch) == 0 {
			break
		}

		claimed := 0
		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return report, d.abort(ctx, err)
			}

			ok, err := d.processEvent(ctx, ev, modules, &report)
			if err != nil {
				return report, err
			}
			if !ok {
				continue
			}
			claimed++

			budget.Consume()
			if reason := budget.Exhausted(); reason != StopNone {
				report.Stopped = reason
				d.logStop(reason, report, budget)
				return report, nil
			}
		}

		if claimed == 0 {
			// Everything in this batch was taken by other workers.
			break
		}
	}

	d.logStop(report.Stopped, report, budget)
	return report, nil
}

// processEvent claims, applies and finishes one event. Returns false if the
// event was claimed by someone else.
func (d *ExecutionDriver) processEvent(ctx context.Context, ev model.Event, modules map[int64]model.Module, report *ExecutionReport) (bool, error) {
	token := d.tokens.Generate()
	ok, err := d.store.ClaimEvent(ctx, ev.ID, token)
	if err != nil {
		return false, d.abort(ctx, fmt.Errorf("claim event %d: %w", ev.ID, err))
	}
	if !ok {
		report.Skipped++
		return false, nil
	}

	module, ok := modules[ev.ModuleID]
	if !ok {
		m, err := d.store.GetModule(ctx, ev.ModuleID)
		if err != nil {
			d.release(ctx, ev.ID, token)
			return false, d.abort(ctx, fmt.Errorf("load module %d: %w", ev.ModuleID, err))
		}
		module = *m
		modules[ev.ModuleID] = module
	}

	applyErr := d.applier.Apply(ctx, module, ev)
	if applyErr != nil && isFatal(ctx, applyErr) {
		d.release(ctx, ev.ID, token)
		return false, d.abort(ctx, fmt.Errorf("event %d: %w", ev.RemoteID, applyErr))
	}

	// The apply already happened, so its outcome is recorded even if ctx
	// was cancelled meanwhile.
	finishCtx := context.WithoutCancel(ctx)
	status := model.StatusDone
	if applyErr == nil {
		err = d.store.CompleteEvent(finishCtx, ev.ID, token)
	} else {
		status = model.StatusError
		err = d.store.FailEvent(finishCtx, ev.ID, token, applyErr.Error())
	}
	switch {
	case errors.Is(err, store.ErrClaimLost):
		report.Lost++
		d.logger.Warn("claim lost before finish", "event", ev.ID, "module", module.ModuleName)
	case err != nil:
		return false, d.abort(ctx, fmt.Errorf("finish event %d: %w", ev.ID, err))
	}

	report.Processed++
	if status == model.StatusDone {
		report.Done++
		d.sink.Debug(fmt.Sprintf("Event %d (%s %s %s) done", ev.RemoteID, module.ModuleName, ev.Action, ev.Target))
	} else {
		report.Failed++
		d.sink.Error(fmt.Sprintf("Event %d (%s %s %s) failed: %v", ev.RemoteID, module.ModuleName, ev.Action, ev.Target, applyErr))
	}
	d.metrics.Processed(module.ModuleName, string(status))
	return true, nil
}

// release puts a claimed event back in the queue. It runs even if ctx was
// cancelled; failure is only logged.
func (d *ExecutionDriver) release(ctx context.Context, id int64, token string) {
	if err := d.store.ReleaseClaim(context.WithoutCancel(ctx), id, token); err != nil {
		d.logger.Error("release claim failed", "event", id, "error", err)
	}
}

// abort turns a run-stopping failure into a RunError.
func (d *ExecutionDriver) abort(ctx context.Context, err error) error {
	code := ErrCodeStoreUnavailable
	switch {
	case ctx.Err() != nil:
		code = ErrCodeCancelled
	case model.IsFatal(err) && !store.IsUnavailable(err):
		code = ErrCodeFatalMapping
	}
	return &RunError{Code: code, Message: "execution stopped", Phase: "execute", Err: err}
}

func (d *ExecutionDriver) logStop(reason StopReason, report ExecutionReport, budget *Budget) {
	d.logger.Info("execution finished",
		"claimed", budget.Used(),
		"elapsed", budget.Elapsed(),
		"processed", report.Processed,
		"done", report.Done,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"stopped", string(reason),
	)
}

// isFatal reports whether an apply error must stop the run rather than be
// recorded on the event.
func isFatal(ctx context.Context, err error) bool {
	return model.IsFatal(err) || store.IsUnavailable(err) || ctx.Err() != nil
}
