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
	"github.com/kestrelworks/kestrel/internal/converge"
)

// DefaultFixTimeout bounds one fixer subprocess invocation.
const DefaultFixTimeout = 15 * time.Minute

// CommandFixer shells out to a remediation command.
//
// Protocol: the command receives the issue list on stdin, one issue per
// line in the same format checks emit, and the active strategy in the
// KESTREL_STRATEGY environment variable. Issues it could not fix come back
// on stdout, one per line. Exit 0 means the protocol ran; any other exit
// code is a fixer failure.
type CommandFixer struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

// Fix runs the remediation command against the issue set.
func (f *CommandFixer) Fix(ctx context.Context, issues []audit.Issue, strategy converge.Strategy) (*converge.FixOutcome, error) {
	if len(f.Command) == 0 {
		return nil, errors.New("fixer: empty command")
	}

	timeout := f.Timeout
	if timeout == 0 {
		timeout = DefaultFixTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.Command[0], f.Command[1:]...)
	cmd.Dir = f.Dir
	cmd.Env = append(cmd.Environ(), "KESTREL_STRATEGY="+strategy.String())

	var in strings.Builder
	for _, issue := range issues {
		in.WriteString(FormatIssue(issue))
		in.WriteString("\n")
	}
	cmd.Stdin = strings.NewReader(in.String())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("fixer: timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fixer: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	still := ParseIssues(stdout.String())
	fixed := len(issues) - len(still)
	if fixed < 0 {
		fixed = 0
	}
	return &converge.FixOutcome{Fixed: fixed, StillFailing: still}, nil
}

// CommandClearer shells out to a command that discards cross-pass context
// (phase-review mode). Implements converge.ContextClearer.
type CommandClearer struct {
	Command []string
	Dir     string
}

// ClearContext runs the clear command; any non-zero exit is an error.
func (c *CommandClearer) ClearContext(ctx context.Context) error {
	if len(c.Command) == 0 {
		return errors.New("context clearer: empty command")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clear context: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
