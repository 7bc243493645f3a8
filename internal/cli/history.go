package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/kestrel/internal/state"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [loop-id]",
		Short: "Inspect persisted convergence loops",
		Long: `List persisted loops, or show the full pass history of one loop.

Exit codes:
  0 - Success
  2 - Database missing or loop ID not found

Examples:
  kestrel history --db kestrel.db
  kestrel history --db kestrel.db 0190cafe-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loopID := ""
			if len(args) == 1 {
				loopID = args[0]
			}
			return runHistory(opts, loopID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite state database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, loopID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	store, err := state.Open(opts.Database)
	if err != nil {
		_ = formatter.Error("E_DATABASE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "open state database", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if loopID == "" {
		infos, err := store.Loops(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list loops", err)
		}
		if opts.Format == "json" {
			return formatter.Success(infos)
		}
		w := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(w, "No loops recorded.")
			return nil
		}
		for _, info := range infos {
			fmt.Fprintf(w, "%s  iter=%d streak=%d  %s  (%s)\n",
				info.LoopID, info.Iteration, info.CleanStreak, info.Subject, info.UpdatedAt)
		}
		return nil
	}

	st, err := store.Load(ctx, loopID)
	if err != nil {
		_ = formatter.Error("E_NOT_FOUND", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load loop", err)
	}

	if opts.Format == "json" {
		return formatter.Success(st)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Loop %s (%s): iteration %d, clean streak %d, pivots %d\n",
		st.LoopID, st.Subject, st.Iteration, st.CleanStreak, st.Pivots)
	for _, pass := range st.Passes {
		status := fmt.Sprintf("%d found / %d fixed", pass.IssuesFound, pass.IssuesFixed)
		if pass.Clean {
			status = "clean"
		}
		fmt.Fprintf(w, "  pass %d [%s] run=%s %s\n",
			pass.Iteration, pass.Methodology, pass.RunID, status)
	}
	if len(st.OpenIssues) > 0 {
		fmt.Fprintf(w, "Open issues:\n")
		for _, issue := range st.OpenIssues {
			fmt.Fprintf(w, "  ! %s: %s\n", issue.Location, issue.Description)
		}
	}
	return nil
}
