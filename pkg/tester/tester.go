// Package tester runs a branch's verification pipeline (install, lint, test,
// build) in a local checkout. The orchestrator treats the tester as optional:
// a nil Tester skips the TEST decision's local verification.
package tester

import (
	"context"
)

// Result is the outcome of one verification run.
type Result struct {
	Success     bool     `json:"success"`
	Output      string   `json:"output"`
	Errors      []string `json:"errors,omitempty"`
	TestsPassed int      `json:"tests_passed"`
	TestsTotal  int      `json:"tests_total"`
	Coverage    *int     `json:"coverage,omitempty"`
	CodeQuality *int     `json:"code_quality,omitempty"`
}

// Tester verifies a branch.
type Tester interface {
	// RunTests checks out the branch and runs install, lint, test, and build
	// with per-step timeouts. A clone failure returns ErrRepoClone.
	RunTests(ctx context.Context, repository, branch string) (*Result, error)
}
