package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/converge"
)

// ErrNotFound is returned when no loop with the requested ID exists.
var ErrNotFound = errors.New("loop not found")

// Load reconstructs a loop state snapshot exactly as it was saved.
func (s *Store) Load(ctx context.Context, loopID string) (*converge.State, error) {
	st := &converge.State{LoopID: loopID}

	err := s.db.QueryRowContext(ctx, `
		SELECT subject, iteration, clean_streak, pivots
		FROM loops WHERE loop_id = ?
	`, loopID).Scan(&st.Subject, &st.Iteration, &st.CleanStreak, &st.Pivots)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loopID)
	}
	if err != nil {
		return nil, fmt.Errorf("load state: loops: %w", err)
	}

	passes, err := s.Passes(ctx, loopID)
	if err != nil {
		return nil, err
	}
	st.Passes = passes

	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM used_methodologies WHERE loop_id = ? ORDER BY name
	`, loopID)
	if err != nil {
		return nil, fmt.Errorf("load state: used methodologies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("load state: used methodologies: %w", err)
		}
		st.Used = append(st.Used, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load state: used methodologies: %w", err)
	}

	issueRows, err := s.db.QueryContext(ctx, `
		SELECT description, location, severity
		FROM open_issues WHERE loop_id = ? ORDER BY issue_key
	`, loopID)
	if err != nil {
		return nil, fmt.Errorf("load state: open issues: %w", err)
	}
	defer issueRows.Close()
	for issueRows.Next() {
		var issue audit.Issue
		if err := issueRows.Scan(&issue.Description, &issue.Location, &issue.Severity); err != nil {
			return nil, fmt.Errorf("load state: open issues: %w", err)
		}
		st.OpenIssues = append(st.OpenIssues, issue)
	}
	if err := issueRows.Err(); err != nil {
		return nil, fmt.Errorf("load state: open issues: %w", err)
	}

	attemptRows, err := s.db.QueryContext(ctx, `
		SELECT issue_key, attempts FROM fix_attempts WHERE loop_id = ?
	`, loopID)
	if err != nil {
		return nil, fmt.Errorf("load state: fix attempts: %w", err)
	}
	defer attemptRows.Close()
	for attemptRows.Next() {
		var key string
		var attempts int
		if err := attemptRows.Scan(&key, &attempts); err != nil {
			return nil, fmt.Errorf("load state: fix attempts: %w", err)
		}
		if st.Attempts == nil {
			st.Attempts = make(map[string]int)
		}
		st.Attempts[key] = attempts
	}
	if err := attemptRows.Err(); err != nil {
		return nil, fmt.Errorf("load state: fix attempts: %w", err)
	}

	return st, nil
}

// Passes returns the full pass history of a loop in iteration order.
func (s *Store) Passes(ctx context.Context, loopID string) ([]converge.Pass, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, methodology, run_id, clean, issues_found, issues_fixed, duration_ns
		FROM passes WHERE loop_id = ? ORDER BY iteration
	`, loopID)
	if err != nil {
		return nil, fmt.Errorf("load passes: %w", err)
	}
	defer rows.Close()

	var passes []converge.Pass
	for rows.Next() {
		var p converge.Pass
		var clean int
		var durationNS int64
		if err := rows.Scan(&p.Iteration, &p.Methodology, &p.RunID,
			&clean, &p.IssuesFound, &p.IssuesFixed, &durationNS); err != nil {
			return nil, fmt.Errorf("load passes: %w", err)
		}
		p.Clean = clean != 0
		p.Duration = time.Duration(durationNS)
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load passes: %w", err)
	}
	return passes, nil
}

// LoopInfo is one row of the loop listing.
type LoopInfo struct {
	LoopID      string
	Subject     string
	Iteration   int
	CleanStreak int
	UpdatedAt   string
}

// Loops lists all persisted loops, most recently updated first.
func (s *Store) Loops(ctx context.Context) ([]LoopInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loop_id, subject, iteration, clean_streak, updated_at
		FROM loops ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list loops: %w", err)
	}
	defer rows.Close()

	var infos []LoopInfo
	for rows.Next() {
		var info LoopInfo
		if err := rows.Scan(&info.LoopID, &info.Subject, &info.Iteration,
			&info.CleanStreak, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list loops: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list loops: %w", err)
	}
	return infos, nil
}
