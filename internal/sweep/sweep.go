// Package sweep defines the shared result type for scheduled batch passes.
//
// A sweep processes rows independently: one bad row never aborts the rest.
// Per-row failures are collected with enough context to retry individually,
// while already-committed rows stay committed.
package sweep

import "fmt"

// RowFailure records a single row that could not be processed.
type RowFailure struct {
	ID  string
	Err error
}

// Result summarizes one sweep run.
type Result struct {
	Processed int
	Skipped   int
	Failures  []RowFailure
}

// Fail records a per-row failure.
func (r *Result) Fail(id string, err error) {
	r.Failures = append(r.Failures, RowFailure{ID: id, Err: err})
}

// Partial reports whether the sweep completed with per-row failures.
func (r *Result) Partial() bool {
	return len(r.Failures) > 0
}

// Err returns a summary error when the sweep was partial, nil otherwise.
func (r *Result) Err() error {
	if !r.Partial() {
		return nil
	}
	return fmt.Errorf("sweep: %d of %d rows failed (first: %s: %v)",
		len(r.Failures), r.Processed+len(r.Failures), r.Failures[0].ID, r.Failures[0].Err)
}
