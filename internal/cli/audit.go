package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/checks"
	"github.com/kestrelworks/kestrel/internal/manifest"
	"github.com/kestrelworks/kestrel/internal/run"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Dir           string
	MaxConcurrent int
	Sequential    bool
	Timeout       time.Duration
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit <manifest-dir> [check...]",
		Short: "Run one audit pass",
		Long: `Run the requested checks (all declared checks when none are named)
once, in dependency order with bounded parallelism, and report every
issue found.

Exit codes:
  0 - All checks ran, no issues
  1 - Issues found, or a critical check failed
  2 - Manifest invalid, unknown check, or dependency cycle

Examples:
  kestrel audit ./audit
  kestrel audit ./audit security lint --max-concurrent 2
  kestrel audit ./audit --sequential --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "working directory for check commands")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", run.DefaultMaxConcurrent,
		"maximum checks running at once within a level")
	cmd.Flags().BoolVar(&opts.Sequential, "sequential", false,
		"run checks one at a time in input order, skipping the dependency graph")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", checks.DefaultTimeout,
		"per-check subprocess timeout")

	return cmd
}

// AuditReport is the payload emitted by the audit command.
type AuditReport struct {
	RunID    string         `json:"run_id"`
	Levels   [][]string     `json:"levels"`
	Results  []audit.Result `json:"results"`
	Issues   []audit.Issue  `json:"issues,omitempty"`
	Failed   []string       `json:"failed_checks,omitempty"`
	Duration time.Duration  `json:"total_duration"`
	Speedup  float64        `json:"speedup"`
}

func runAudit(opts *AuditOptions, dir string, requested []string, cmd *cobra.Command) error {
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

	defs, err := selectChecks(m, requested)
	if err != nil {
		_ = formatter.Error("E_UNKNOWN_CHECK", err.Error(), nil)
		return WrapExitError(ExitCommandError, "select checks", err)
	}

	runner := run.New(m.DependencyTable(),
		run.WithMaxConcurrent(opts.MaxConcurrent),
		run.WithSequential(opts.Sequential),
		run.WithCritical(m.Critical),
		run.WithLogger(slog.Default()),
		run.WithObserver(run.SlogObserver{Logger: slog.Default()}),
	)

	checkRunner := checks.NewRunner(
		checks.WithDir(opts.Dir),
		checks.WithTimeout(opts.Timeout),
	)

	summary, err := runner.Run(cmd.Context(), checkRunner.Checks(defs))
	if err != nil {
		if summary == nil {
			// Structural failure: nothing ran.
			_ = formatter.Error("E_SCHEDULE", err.Error(), nil)
			return WrapExitError(ExitCommandError, "audit run", err)
		}
		// Critical-check escalation: sibling results are still reported.
		if reportErr := writeAuditReport(opts, formatter, cmd, summary); reportErr != nil {
			return reportErr
		}
		return WrapExitError(ExitFailure, "critical check failed", err)
	}

	if err := writeAuditReport(opts, formatter, cmd, summary); err != nil {
		return err
	}
	if issues := summary.Issues(); len(issues) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d issue(s) found", len(issues)))
	}
	return nil
}

func writeAuditReport(opts *AuditOptions, formatter *OutputFormatter, cmd *cobra.Command, summary *run.Summary) error {
	report := AuditReport{
		RunID:    summary.RunID,
		Levels:   summary.Levels,
		Results:  summary.Results,
		Issues:   summary.Issues(),
		Failed:   summary.FailedChecks(),
		Duration: summary.TotalDuration,
		Speedup:  summary.Speedup,
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s: %d checks in %d levels (%.2fx speedup)\n",
		report.RunID, len(report.Results), len(report.Levels), report.Speedup)
	for _, res := range report.Results {
		status := "ok"
		if !res.OK {
			status = "FAILED: " + res.Err
		} else if len(res.Issues) > 0 {
			status = fmt.Sprintf("%d issue(s)", len(res.Issues))
		}
		fmt.Fprintf(w, "  %-20s %s\n", res.Check, status)
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  ! %s\n", checks.FormatIssue(issue))
	}
	return nil
}

// selectChecks resolves the requested names against the manifest,
// defaulting to every declared check.
func selectChecks(m *manifest.Manifest, requested []string) ([]manifest.CheckDef, error) {
	if len(requested) == 0 {
		return m.Checks, nil
	}

	byName := make(map[string]manifest.CheckDef, len(m.Checks))
	for _, def := range m.Checks {
		byName[def.Name] = def
	}

	defs := make([]manifest.CheckDef, 0, len(requested))
	var unknown []string
	for _, name := range requested {
		def, ok := byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		defs = append(defs, def)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown checks: %s", strings.Join(unknown, ", "))
	}
	return defs, nil
}
