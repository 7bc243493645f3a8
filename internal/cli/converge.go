package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/kestrel/internal/checks"
	"github.com/kestrelworks/kestrel/internal/converge"
	"github.com/kestrelworks/kestrel/internal/manifest"
	"github.com/kestrelworks/kestrel/internal/pool"
	"github.com/kestrelworks/kestrel/internal/run"
	"github.com/kestrelworks/kestrel/internal/state"
)

// ConvergeOptions holds flags for the converge command.
type ConvergeOptions struct {
	*RootOptions
	Dir          string
	Database     string
	Resume       string
	Subject      string
	FixCommand   string
	ClearCommand string
	Seed         int64

	CleanPasses   int
	MaxIterations int
	MaxFixAttempt int
	MaxPivots     int
	MaxConcurrent int
	Timeout       time.Duration
}

// NewConvergeCommand creates the converge command.
func NewConvergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "converge <manifest-dir>",
		Short: "Run audit passes until convergence",
		Long: `Drive the convergence loop: sample a methodology from the manifest's
pool, run its checks in dependency order, fix what was found, and repeat
until the required number of consecutive clean passes (or the iteration
ceiling).

With --db, state is checkpointed after every pass and an interrupted
loop can be resumed with --resume <loop-id>.

Exit codes:
  0 - Converged
  1 - Did not converge (ceiling, stuck issues, critical failure)
  2 - Command error (bad manifest, unknown loop ID, bad flags)

Examples:
  kestrel converge ./audit --subject "payments service"
  kestrel converge ./audit --db kestrel.db --fix-command "scripts/fix.sh"
  kestrel converge ./audit --db kestrel.db --resume 0190cafe-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "working directory for check and fix commands")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite state database (enables resume)")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "loop ID to resume (requires --db)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "what is being audited (informational)")
	cmd.Flags().StringVar(&opts.FixCommand, "fix-command", "", "command to remediate issues between passes")
	cmd.Flags().StringVar(&opts.ClearCommand, "clear-command", "", "command that clears cross-pass context")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "seed for methodology sampling (0 = nondeterministic)")
	cmd.Flags().IntVar(&opts.CleanPasses, "clean-passes", 0, "consecutive clean passes required (0 = manifest default)")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "iteration ceiling (0 = manifest default)")
	cmd.Flags().IntVar(&opts.MaxFixAttempt, "max-fix-attempts", 0, "failed fix attempts per issue before pivoting (0 = default)")
	cmd.Flags().IntVar(&opts.MaxPivots, "max-pivots", 0, "strategy pivots before escalating (0 = default)")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", 0, "maximum parallel checks per level (0 = manifest default)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", checks.DefaultTimeout, "per-check subprocess timeout")

	return cmd
}

// ConvergeReport is the payload emitted by the converge command.
type ConvergeReport struct {
	LoopID           string          `json:"loop_id"`
	Converged        bool            `json:"converged"`
	Iterations       int             `json:"iterations"`
	FinalCleanStreak int             `json:"final_clean_streak"`
	TotalIssuesFound int             `json:"total_issues_found"`
	TotalIssuesFixed int             `json:"total_issues_fixed"`
	Passes           []converge.Pass `json:"passes"`
	Error            string          `json:"error,omitempty"`
}

func runConverge(opts *ConvergeOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Resume != "" && opts.Database == "" {
		return NewExitError(ExitCommandError, "--resume requires --db")
	}

	m, err := manifest.Load(dir)
	if err != nil {
		_ = formatter.Error("E_MANIFEST", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load manifest", err)
	}

	loop, store, err := assembleLoop(opts, m)
	if err != nil {
		_ = formatter.Error("E_SETUP", err.Error(), nil)
		return WrapExitError(ExitCommandError, "assemble loop", err)
	}
	if store != nil {
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				slog.Error("error closing state database", "error", closeErr)
			}
		}()
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("convergence loop starting",
		"loop_id", loop.State().LoopID, "subject", opts.Subject, "manifest", dir)

	outcome, loopErr := loop.Run(ctx)

	report := ConvergeReport{LoopID: loop.State().LoopID}
	if outcome != nil {
		report.Converged = outcome.Converged
		report.Iterations = outcome.Iterations
		report.FinalCleanStreak = outcome.FinalCleanStreak
		report.TotalIssuesFound = outcome.TotalIssuesFound
		report.TotalIssuesFixed = outcome.TotalIssuesFixed
		report.Passes = outcome.Passes
	}
	if loopErr != nil {
		report.Error = loopErr.Error()
	}

	if err := writeConvergeReport(opts, formatter, cmd, report); err != nil {
		return err
	}

	switch {
	case loopErr != nil:
		return WrapExitError(ExitFailure, "loop escalated", loopErr)
	case !report.Converged:
		return NewExitError(ExitFailure,
			fmt.Sprintf("did not converge after %d iterations", report.Iterations))
	default:
		return nil
	}
}

// assembleLoop builds the pool, runner, check source, and optional
// collaborators from the manifest plus flags. Flag values of zero defer to
// the manifest's defaults, which defer to the loop's built-in defaults.
func assembleLoop(opts *ConvergeOptions, m *manifest.Manifest) (*converge.Loop, *state.Store, error) {
	var poolOpts []pool.Option
	if opts.Seed != 0 {
		poolOpts = append(poolOpts, pool.WithRand(rand.NewSource(opts.Seed)))
	}
	p, err := pool.New(m.Methodologies, poolOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build methodology pool: %w", err)
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = m.Defaults.MaxConcurrent
	}
	if maxConcurrent == 0 {
		maxConcurrent = run.DefaultMaxConcurrent
	}
	runner := run.New(m.DependencyTable(),
		run.WithMaxConcurrent(maxConcurrent),
		run.WithCritical(m.Critical),
		run.WithLogger(slog.Default()),
		run.WithObserver(run.SlogObserver{Logger: slog.Default()}),
	)

	source := checks.NewSource(m, checks.NewRunner(
		checks.WithDir(opts.Dir),
		checks.WithTimeout(opts.Timeout),
	))

	cfg := converge.Config{
		Subject:             opts.Subject,
		RequiredCleanPasses: firstNonZero(opts.CleanPasses, m.Defaults.RequiredCleanPasses),
		MaxIterations:       firstNonZero(opts.MaxIterations, m.Defaults.MaxIterations),
		MaxFixAttempts:      opts.MaxFixAttempt,
		MaxPivots:           opts.MaxPivots,
		ClearContext:        m.Defaults.ClearContext || opts.ClearCommand != "",
	}

	loopOpts := []converge.LoopOption{
		converge.WithLogger(slog.Default()),
		converge.WithObserver(converge.SlogObserver{Logger: slog.Default()}),
		converge.WithRecorder(slogRecorder{}),
	}
	if opts.FixCommand != "" {
		loopOpts = append(loopOpts, converge.WithFixer(&checks.CommandFixer{
			Command: strings.Fields(opts.FixCommand),
			Dir:     opts.Dir,
		}))
	}
	if opts.ClearCommand != "" {
		loopOpts = append(loopOpts, converge.WithContextClearer(&checks.CommandClearer{
			Command: strings.Fields(opts.ClearCommand),
			Dir:     opts.Dir,
		}))
	}

	var store *state.Store
	if opts.Database != "" {
		store, err = state.Open(opts.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open state database: %w", err)
		}
		loopOpts = append(loopOpts, converge.WithCheckpointer(store))

		if opts.Resume != "" {
			resumed, err := store.Load(context.Background(), opts.Resume)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("resume loop %s: %w", opts.Resume, err)
			}
			loopOpts = append(loopOpts, converge.WithState(resumed))
		}
	}

	loop, err := converge.New(cfg, p, runner, source, loopOpts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return loop, store, nil
}

func writeConvergeReport(opts *ConvergeOptions, formatter *OutputFormatter, cmd *cobra.Command, report ConvergeReport) error {
	if opts.Format == "json" {
		if report.Error != "" || !report.Converged {
			return formatter.Error("E_NOT_CONVERGED", "loop did not converge", report)
		}
		return formatter.Success(report)
	}

	w := cmd.OutOrStdout()
	verdict := "did NOT converge"
	if report.Converged {
		verdict = "converged"
	}
	fmt.Fprintf(w, "Loop %s %s after %d iteration(s)\n", report.LoopID, verdict, report.Iterations)
	fmt.Fprintf(w, "Issues: %d found, %d fixed\n", report.TotalIssuesFound, report.TotalIssuesFixed)
	for _, pass := range report.Passes {
		status := fmt.Sprintf("%d found / %d fixed", pass.IssuesFound, pass.IssuesFixed)
		if pass.Clean {
			status = "clean"
		}
		fmt.Fprintf(w, "  pass %d [%s] %s\n", pass.Iteration, pass.Methodology, status)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "Escalated: %s\n", report.Error)
	}
	return nil
}

// signalContext derives a context cancelled by SIGINT/SIGTERM so an
// interrupted loop still checkpoints cleanly between passes.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping after current pass", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// slogRecorder logs the terminal loop report.
type slogRecorder struct{}

func (slogRecorder) Record(report converge.LoopReport) {
	slog.Info("loop report",
		"loop_id", report.LoopID,
		"converged", report.Converged,
		"issues_found", report.TotalIssuesFound,
		"issues_fixed", report.TotalIssuesFixed,
		"open_issues", len(report.OpenIssues),
		"repeatedly_failing", len(report.RepeatedlyFailing))
}
