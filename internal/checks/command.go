// Package checks turns manifest check declarations into executable audit
// checks backed by subprocesses, and provides a subprocess-backed fixer.
//
// Exit code protocol for check commands:
//
//	0       clean, no issues
//	1       issues found; stdout carries one issue per line
//	other   the check itself failed (tool crash, misconfiguration)
//
// Issue lines use the form "location: description". Lines without a colon
// are treated as a description with no location. A leading "severity|"
// prefix tags the issue severity.
package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/manifest"
)

// DefaultTimeout bounds a single check subprocess.
const DefaultTimeout = 5 * time.Minute

// Runner builds audit.Check values from manifest declarations.
type Runner struct {
	dir     string
	timeout time.Duration
	env     []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithDir sets the working directory for check subprocesses.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithTimeout overrides the per-check subprocess timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithEnv appends environment variables (KEY=VALUE) for subprocesses.
func WithEnv(env ...string) Option {
	return func(r *Runner) { r.env = append(r.env, env...) }
}

// NewRunner returns a Runner with the given options applied.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check adapts one manifest declaration into an executable check.
func (r *Runner) Check(def manifest.CheckDef) audit.Check {
	return audit.Check{
		Name: def.Name,
		Run: func(ctx context.Context) (*audit.Report, error) {
			return r.run(ctx, def)
		},
	}
}

// Checks adapts a set of declarations, preserving order.
func (r *Runner) Checks(defs []manifest.CheckDef) []audit.Check {
	out := make([]audit.Check, len(defs))
	for i, def := range defs {
		out[i] = r.Check(def)
	}
	return out
}

func (r *Runner) run(ctx context.Context, def manifest.CheckDef) (*audit.Report, error) {
	if len(def.Command) == 0 {
		return nil, fmt.Errorf("check %s: empty command", def.Name)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, def.Command[0], def.Command[1:]...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("check %s: timed out after %s", def.Name, r.timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		return &audit.Report{}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// Exit 1 is the "issues found" channel, not a failure.
		return &audit.Report{Issues: ParseIssues(stdout.String())}, nil
	}
	return nil, fmt.Errorf("check %s: %w: %s", def.Name, err, strings.TrimSpace(stderr.String()))
}

// ParseIssues decodes the one-issue-per-line subprocess output format.
func ParseIssues(output string) []audit.Issue {
	var issues []audit.Issue
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		issues = append(issues, parseIssueLine(line))
	}
	return issues
}

func parseIssueLine(line string) audit.Issue {
	var issue audit.Issue
	if sev, rest, ok := strings.Cut(line, "|"); ok && !strings.Contains(sev, ":") {
		issue.Severity = strings.TrimSpace(sev)
		line = rest
	}
	if loc, desc, ok := strings.Cut(line, ": "); ok {
		issue.Location = strings.TrimSpace(loc)
		issue.Description = strings.TrimSpace(desc)
		return issue
	}
	issue.Description = strings.TrimSpace(line)
	return issue
}

// FormatIssue renders an issue back into the line format, severity prefix
// included when present. Inverse of parseIssueLine for located issues.
func FormatIssue(issue audit.Issue) string {
	var b strings.Builder
	if issue.Severity != "" {
		b.WriteString(issue.Severity)
		b.WriteString("|")
	}
	if issue.Location != "" {
		b.WriteString(issue.Location)
		b.WriteString(": ")
	}
	b.WriteString(issue.Description)
	return b.String()
}
