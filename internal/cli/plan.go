package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/kestrel/internal/graph"
	"github.com/kestrelworks/kestrel/internal/manifest"
	"github.com/kestrelworks/kestrel/internal/schedule"
)

// Plan is the payload emitted by the plan command.
type Plan struct {
	Checks       []string   `json:"checks"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Levels       [][]string `json:"levels"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <manifest-dir> [check...]",
		Short: "Show the execution schedule for a set of checks",
		Long: `Build the dependency graph for the requested checks (all declared
checks when none are named) and print the level-by-level schedule.
Checks in the same level have no dependencies between them and run in
parallel.

Exit codes:
  0 - Plan computed
  2 - Manifest invalid, unknown check, or dependency cycle

Examples:
  kestrel plan ./audit
  kestrel plan ./audit security lint --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], args[1:], cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, dir string, requested []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(dir)
	if err != nil {
		_ = formatter.Error("E_MANIFEST", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load manifest", err)
	}

	if len(requested) == 0 {
		requested = m.CheckNames()
	} else if unknown := unknownChecks(m, requested); len(unknown) > 0 {
		msg := fmt.Sprintf("unknown checks: %s", strings.Join(unknown, ", "))
		_ = formatter.Error("E_UNKNOWN_CHECK", msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	g, err := graph.Build(requested, m.DependencyTable())
	if err != nil {
		_ = formatter.Error("E_GRAPH", err.Error(), nil)
		return WrapExitError(ExitCommandError, "build dependency graph", err)
	}

	levels, err := schedule.Levels(g)
	if err != nil {
		_ = formatter.Error("E_CYCLE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "schedule checks", err)
	}

	plan := Plan{
		Checks:       g.Checks,
		Dependencies: g.DependencyPairs(),
		Levels:       levels,
	}

	if opts.Format == "json" {
		return formatter.Success(plan)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Plan: %d checks in %d levels\n", len(plan.Checks), len(plan.Levels))
	for _, dep := range plan.Dependencies {
		fmt.Fprintf(w, "  %s\n", dep)
	}
	for i, level := range plan.Levels {
		fmt.Fprintf(w, "Level %d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}

func unknownChecks(m *manifest.Manifest, requested []string) []string {
	known := make(map[string]bool)
	for _, name := range m.CheckNames() {
		known[name] = true
	}
	var unknown []string
	for _, name := range requested {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
