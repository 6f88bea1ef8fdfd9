package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/model"
)

// RequeueOptions holds flags for the requeue command.
type RequeueOptions struct {
	*RootOptions
	Stale  time.Duration
	Errors bool
}

// NewRequeueCommand creates the requeue command.
func NewRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequeueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "requeue [module]",
		Short: "Put stuck or failed events back in the queue",
		Long: `Put events back in the queue so the next execute run picks them up.

--stale requeues events that have been processing for longer than the given
duration, for example after a worker crashed. --errors requeues failed events
for another attempt, optionally only those of one module.

Example:
  fourallportal requeue --stale 2h
  fourallportal requeue products --errors`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Stale <= 0 && !opts.Errors {
				return NewExitError(ExitInvalid, "either option --stale or --errors has to be used")
			}
			module := ""
			if len(args) == 1 {
				module = args[0]
			}
			return runRequeue(cmd, opts, module)
		},
	}

	cmd.Flags().DurationVar(&opts.Stale, "stale", 0, "requeue events processing for longer than this")
	cmd.Flags().BoolVar(&opts.Errors, "errors", false, "requeue failed events")

	return cmd
}

type requeueSummary struct {
	Stale  int64 `json:"stale"`
	Errors int64 `json:"errors"`
}

func (s requeueSummary) String() string {
	return fmt.Sprintf("Requeued %d stale and %d failed events", s.Stale, s.Errors)
}

func runRequeue(cmd *cobra.Command, opts *RequeueOptions, module string) error {
	rt, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	var summary requeueSummary

	if opts.Stale > 0 {
		summary.Stale, err = rt.store.RequeueStale(ctx, time.Now().Add(-opts.Stale))
		if err != nil {
			return WrapExitError(ExitFailure, "failed to requeue stale events", err)
		}
	}

	if opts.Errors {
		var moduleIDs []int64
		if module != "" {
			moduleIDs, err = moduleIDsFor(cmd, rt, module)
			if err != nil {
				return err
			}
		}
		summary.Errors, err = rt.store.RequeueErrors(ctx, moduleIDs)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to requeue failed events", err)
		}
	}

	rt.logger.Info("events requeued", "stale", summary.Stale, "errors", summary.Errors)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(summary)
}

var errUnknownModule = errors.New("no module matches")

// moduleIDsFor resolves a module or connector name to module ids.
func moduleIDsFor(cmd *cobra.Command, rt *runtime, name string) ([]int64, error) {
	servers, err := rt.store.ListServers(cmd.Context(), false)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to list servers", err)
	}
	filter := model.NewModuleFilter(name, "")
	ids := []int64{}
	for _, srv := range servers {
		for _, m := range filter.Apply(srv.Modules) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, WrapExitError(ExitInvalid, fmt.Sprintf("unknown module %q", name), errUnknownModule)
	}
	return ids, nil
}
