package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/bootstrap"
	"github.com/crossmedia/fourallportal/internal/config"
	"github.com/crossmedia/fourallportal/internal/model"
)

// InitializeOptions holds flags for the initialize command.
type InitializeOptions struct {
	*RootOptions
	File string // overrides bootstrap.file
}

// NewInitializeCommand creates the initialize command.
func NewInitializeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitializeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "initialize [fail]",
		Short: "Create or update servers and modules from the bootstrap file",
		Long: `Create or update the server and module configuration declared in the
bootstrap file, then test login to every server and the configuration of
every module.

Connectivity failures are reported but do not change the exit code unless
fail is true, in which case the command stops at the first failure and
exits with 1.

Example:
  fourallportal initialize
  fourallportal initialize true --file /etc/fourallportal/servers.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fail := false
			if len(args) == 1 {
				var err error
				if fail, err = parseTruthy(args[0]); err != nil {
					return WrapExitError(ExitInvalid, "invalid arguments", err)
				}
			}
			return runInitialize(cmd, opts, fail)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "bootstrap file (overrides bootstrap.file)")

	return cmd
}

// parseTruthy accepts the usual boolean spellings plus yes/no.
func parseTruthy(s string) (bool, error) {
	switch s {
	case "", "no", "n", "off":
		return false, nil
	case "yes", "y", "on":
		return true, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("fail must be true or false, got %q", s)
	}
	return b, nil
}

func runInitialize(cmd *cobra.Command, opts *InitializeOptions, fail bool) error {
	rt, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	file := opts.File
	if file == "" {
		file = rt.settings.Bootstrap.File
	}
	b, err := config.LoadBootstrap(file)
	if err != nil {
		return WrapExitError(ExitInvalid, "invalid bootstrap file", err)
	}

	remotes := func(srv model.Server) (bootstrap.Remote, error) {
		c, err := rt.remotes(srv)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	reconciler := bootstrap.NewReconciler(rt.store, remotes,
		bootstrap.WithSink(rt.sink),
		bootstrap.WithLogger(rt.logger),
	)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	report, err := reconciler.Run(ctx, b, fail)
	rt.sink.Send()

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if ferr := formatter.Success(newInitializeSummary(report)); ferr != nil {
			return ferr
		}
	}

	switch {
	case errors.Is(err, bootstrap.ErrConnectivity):
		return WrapExitError(ExitFailure, "connectivity test failed", err)
	case err != nil:
		return WrapExitError(ExitFailure, "initialize failed", err)
	}
	return nil
}

type initializeSummary struct {
	ServersCreated int                 `json:"servers_created"`
	ServersUpdated int                 `json:"servers_updated"`
	ModulesCreated int                 `json:"modules_created"`
	ModulesUpdated int                 `json:"modules_updated"`
	Failures       []initializeFailure `json:"failures,omitempty"`
}

type initializeFailure struct {
	Server string `json:"server"`
	Module string `json:"module,omitempty"`
	Error  string `json:"error"`
}

func newInitializeSummary(r bootstrap.Report) initializeSummary {
	s := initializeSummary{
		ServersCreated: r.ServersCreated,
		ServersUpdated: r.ServersUpdated,
		ModulesCreated: r.ModulesCreated,
		ModulesUpdated: r.ModulesUpdated,
	}
	for _, f := range r.Failures {
		s.Failures = append(s.Failures, initializeFailure{Server: f.Domain, Module: f.Module, Error: f.Err.Error()})
	}
	return s
}
