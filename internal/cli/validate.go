package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/kestrel/internal/manifest"
)

// ValidationSummary is the payload emitted by the validate command.
type ValidationSummary struct {
	Checks        []string `json:"checks"`
	Methodologies []string `json:"methodologies"`
	Critical      []string `json:"critical,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"` // "check <- prerequisite"
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate an audit manifest",
		Long: `Load and validate the CUE audit manifest in a directory.

Checks that every dependency, methodology, and critical-set entry refers
to a declared check and that the manifest is structurally complete.

Exit codes:
  0 - Manifest is valid
  2 - Manifest is invalid or cannot be loaded

Examples:
  kestrel validate ./audit
  kestrel validate ./audit --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(dir)
	if err != nil {
		_ = formatter.Error("E_MANIFEST", err.Error(), nil)
		return WrapExitError(ExitCommandError, "manifest validation failed", err)
	}

	summary := ValidationSummary{
		Checks:   m.CheckNames(),
		Critical: m.Critical,
	}
	for _, method := range m.Methodologies {
		summary.Methodologies = append(summary.Methodologies, method.Name)
	}
	for check, prereqs := range m.DependencyTable() {
		for _, p := range prereqs {
			summary.Dependencies = append(summary.Dependencies, check+" <- "+p)
		}
	}
	sort.Strings(summary.Dependencies)

	if opts.Format == "json" {
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Manifest OK: %d checks, %d methodologies\n",
		len(summary.Checks), len(summary.Methodologies))
	fmt.Fprintf(w, "Checks:        %s\n", strings.Join(summary.Checks, ", "))
	fmt.Fprintf(w, "Methodologies: %s\n", strings.Join(summary.Methodologies, ", "))
	if len(summary.Critical) > 0 {
		fmt.Fprintf(w, "Critical:      %s\n", strings.Join(summary.Critical, ", "))
	}
	for _, dep := range summary.Dependencies {
		fmt.Fprintf(w, "  %s\n", dep)
	}
	return nil
}
