package state

import (
	"context"
	"fmt"

	"github.com/kestrelworks/kestrel/internal/converge"
)

// Save upserts a complete loop state snapshot in one transaction.
//
// Child tables (passes, used set, open issues, attempt counters) are
// rewritten wholesale from the snapshot: a crash mid-save leaves either
// the previous snapshot or the new one, never a blend.
func (s *Store) Save(ctx context.Context, st *converge.State) error {
	if st.LoopID == "" {
		return fmt.Errorf("save state: empty loop ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save state: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loops (loop_id, subject, iteration, clean_streak, pivots, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(loop_id) DO UPDATE SET
			subject      = excluded.subject,
			iteration    = excluded.iteration,
			clean_streak = excluded.clean_streak,
			pivots       = excluded.pivots,
			updated_at   = excluded.updated_at
	`, st.LoopID, st.Subject, st.Iteration, st.CleanStreak, st.Pivots)
	if err != nil {
		return fmt.Errorf("save state: loops: %w", err)
	}

	for _, table := range []string{"passes", "used_methodologies", "open_issues", "fix_attempts"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE loop_id = ?", table), st.LoopID); err != nil {
			return fmt.Errorf("save state: clear %s: %w", table, err)
		}
	}

	for _, pass := range st.Passes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO passes
			(loop_id, iteration, methodology, run_id, clean, issues_found, issues_fixed, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, st.LoopID, pass.Iteration, pass.Methodology, pass.RunID,
			boolToInt(pass.Clean), pass.IssuesFound, pass.IssuesFixed, int64(pass.Duration))
		if err != nil {
			return fmt.Errorf("save state: pass %d: %w", pass.Iteration, err)
		}
	}

	for _, name := range st.Used {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO used_methodologies (loop_id, name) VALUES (?, ?)
		`, st.LoopID, name); err != nil {
			return fmt.Errorf("save state: used methodology %q: %w", name, err)
		}
	}

	for _, issue := range st.OpenIssues {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO open_issues (loop_id, issue_key, description, location, severity)
			VALUES (?, ?, ?, ?, ?)
		`, st.LoopID, issue.Key(), issue.Description, issue.Location, issue.Severity); err != nil {
			return fmt.Errorf("save state: open issue: %w", err)
		}
	}

	for key, attempts := range st.Attempts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fix_attempts (loop_id, issue_key, attempts) VALUES (?, ?, ?)
		`, st.LoopID, key, attempts); err != nil {
			return fmt.Errorf("save state: fix attempts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save state: commit: %w", err)
	}
	return nil
}

// Delete removes a loop and all its child rows.
func (s *Store) Delete(ctx context.Context, loopID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM loops WHERE loop_id = ?", loopID); err != nil {
		return fmt.Errorf("delete loop %s: %w", loopID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
