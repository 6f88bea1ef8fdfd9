package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/crossmedia/fourallportal/internal/model"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and module cursors",
		Long: `Show the number of events per status and, for every module, the id and
time of the last received event.

Example:
  fourallportal status
  fourallportal status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	rt, err := openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	counts, err := rt.store.CountByStatus(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count events", err)
	}
	servers, err := rt.store.ListServers(ctx, false)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list servers", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(newStatusReport(counts, servers))
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Queue   map[string]int `json:"queue"`
	Modules []ModuleStatus `json:"modules"`
}

// ModuleStatus is the cursor of one module.
type ModuleStatus struct {
	Server         string     `json:"server"`
	Module         string     `json:"module"`
	Connector      string     `json:"connector"`
	Active         bool       `json:"active"`
	LastEventID    int64      `json:"last_event_id"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
}

func newStatusReport(counts map[model.EventStatus]int, servers []model.Server) StatusReport {
	r := StatusReport{Queue: map[string]int{}, Modules: []ModuleStatus{}}
	for _, st := range model.Statuses {
		r.Queue[string(st)] = counts[st]
	}
	for _, srv := range servers {
		for _, m := range srv.Modules {
			ms := ModuleStatus{
				Server:      srv.Domain,
				Module:      m.ModuleName,
				Connector:   m.ConnectorName,
				Active:      srv.Active,
				LastEventID: m.LastEventID,
			}
			if !m.LastReceivedAt.IsZero() {
				at := m.LastReceivedAt.UTC()
				ms.LastReceivedAt = &at
			}
			r.Modules = append(r.Modules, ms)
		}
	}
	return r
}

// String renders the report as text.
func (r StatusReport) String() string {
	var b strings.Builder
	for _, st := range model.Statuses {
		fmt.Fprintf(&b, "%-11s %d\n", st+":", r.Queue[string(st)])
	}
	if len(r.Modules) == 0 {
		b.WriteString("\nNo modules configured.")
		return b.String()
	}

	b.WriteString("\n")
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tMODULE\tCONNECTOR\tLAST EVENT\tRECEIVED")
	for _, m := range r.Modules {
		server := m.Server
		if !m.Active {
			server += " (inactive)"
		}
		received := "never"
		if m.LastReceivedAt != nil {
			received = m.LastReceivedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", server, m.Module, m.Connector, m.LastEventID, received)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
