package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/response"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Database   string // overrides database.path
	Verbose    int    // -v, -vv, -vvv
	Quiet      bool
	Format     string // "json" | "text"
	LogFormat  string // overrides log.format
	Collect    string // buffer console messages up to this level, print at exit

	// Remotes overrides the PIM client factory (for testing).
	Remotes RemoteFactory
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Verbosity maps -q and -v flags to the console sink verbosity.
func (o *RootOptions) Verbosity() response.Verbosity {
	if o.Quiet {
		return response.VerbosityQuiet
	}
	return response.Verbosity(min(o.Verbose, int(response.VerbosityDebug)))
}

// NewRootCommand creates the root command for the fourallportal CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fourallportal",
		Short: "4AllPortal PIM event synchronization",
		Long: `Pull change events from 4AllPortal PIM servers into a local queue and
apply them to local state.

Runs are short-lived and meant to be started by a scheduler. Overlapping
syncs are prevented by a lock; execute-only runs may overlap up to a
configurable number of concurrently processing events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitInvalid, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.LogFormat != "" && !slices.Contains(ValidFormats, opts.LogFormat) {
				return NewExitError(ExitInvalid, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			if opts.Collect != "" {
				if _, err := response.ParseLevel(opts.Collect); err != nil {
					return WrapExitError(ExitInvalid, "invalid --collect", err)
				}
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "settings file (default ./fourallportal.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides database.path)")
	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "increase verbosity (-v warnings, -vv info, -vvv debug)")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress all console output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "diagnostics log format (json|text, overrides log.format)")
	cmd.PersistentFlags().StringVar(&opts.Collect, "collect", "", "hold console messages up to LEVEL (error|warning|info|debug) and print them once, errors last")

	// Add subcommands
	cmd.AddCommand(NewInitializeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRequeueCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors from flag or argument parsing count as invalid invocations.
func Execute(args []string, stdout, stderr io.Writer) int {
	return execute(&RootOptions{}, args, stdout, stderr)
}

func execute(opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = WrapExitError(ExitInvalid, "invalid invocation", err)
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	quiet, _ := cmd.PersistentFlags().GetBool("quiet")
	if format == "json" || !quiet {
		formatter := &OutputFormatter{Format: format, Writer: stderr}
		_ = formatter.Error(ErrorCode(exitErr), exitErr.Error(), nil)
	}
	return exitErr.Code
}
