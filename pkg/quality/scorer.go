// Package quality implements the deterministic completion gate: a 0-100
// score over iteration efficiency, test results, error handling, and code
// quality signals. Equal inputs always produce equal scores.
package quality

import (
	"fmt"
	"math"
)

// Input captures the measurable state of an orchestration at the point a
// completion decision is requested.
type Input struct {
	Iterations    int
	MaxIterations int
	TestsPassed   int
	TestsTotal    int
	ErrorsFixed   int
	ErrorsTotal   int
	CodeQuality   *int // 0-100, optional
	TestCoverage  *int // 0-100, optional
}

// Breakdown is the per-component score.
type Breakdown struct {
	Iterations int `json:"iterations"` // 0-25
	Tests      int `json:"tests"`      // 0-30
	Errors     int `json:"errors"`     // 0-25
	Quality    int `json:"quality"`    // 0-20
}

// Result is the scored outcome with grade and improvement hints.
type Result struct {
	Score           int       `json:"score"`
	Grade           string    `json:"grade"`
	Breakdown       Breakdown `json:"breakdown"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// recommendationThreshold: components scoring below this contribute a hint.
const recommendationThreshold = 15

// Score computes the deterministic quality result.
func Score(in Input) Result {
	b := Breakdown{
		Iterations: iterationsScore(in.Iterations, in.MaxIterations),
		Tests:      testsScore(in.TestsPassed, in.TestsTotal),
		Errors:     errorsScore(in.ErrorsFixed, in.ErrorsTotal),
		Quality:    qualityScore(in.CodeQuality, in.TestCoverage),
	}
	total := b.Iterations + b.Tests + b.Errors + b.Quality

	return Result{
		Score:           total,
		Grade:           grade(total),
		Breakdown:       b,
		Recommendations: recommendations(b),
	}
}

// MeetsThreshold reports whether the score passes the completion gate.
func (r Result) MeetsThreshold(threshold int) bool {
	return r.Score >= threshold
}

// Summary renders the breakdown for embedding in a refinement follow-up.
func (r Result) Summary() string {
	s := fmt.Sprintf("Quality score %d/100 (grade %s): iterations %d/25, tests %d/30, errors %d/25, quality %d/20.",
		r.Score, r.Grade, r.Breakdown.Iterations, r.Breakdown.Tests, r.Breakdown.Errors, r.Breakdown.Quality)
	for _, rec := range r.Recommendations {
		s += "\n- " + rec
	}
	return s
}

func iterationsScore(iterations, maxIterations int) int {
	if iterations <= 0 || maxIterations <= 0 {
		return 0
	}
	r := float64(iterations) / float64(maxIterations)
	switch {
	case r <= 0.2:
		return 25
	case r <= 0.4:
		return 20
	case r <= 0.6:
		return 15
	case r <= 0.8:
		return 10
	default:
		return 5
	}
}

func testsScore(passed, total int) int {
	if total == 0 {
		return 15 // neutral: nothing to measure
	}
	return int(math.Round(30 * float64(passed) / float64(total)))
}

func errorsScore(fixed, total int) int {
	if total == 0 {
		return 25
	}
	return int(math.Round(25 * float64(fixed) / float64(total)))
}

func qualityScore(codeQuality, testCoverage *int) int {
	score := 10.0
	if codeQuality != nil {
		score += 10 * float64(*codeQuality) / 100
	}
	if testCoverage != nil {
		score += 10 * float64(*testCoverage) / 100
	}
	if score > 20 {
		score = 20
	}
	return int(math.Round(score))
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func recommendations(b Breakdown) []string {
	var recs []string
	if b.Iterations < recommendationThreshold {
		recs = append(recs, "Reduce iteration count: break work into smaller, more focused follow-ups.")
	}
	if b.Tests < recommendationThreshold {
		recs = append(recs, "Improve test results: fix failing tests and add coverage for changed code.")
	}
	if b.Errors < recommendationThreshold {
		recs = append(recs, "Resolve remaining errors before completion.")
	}
	if b.Quality < recommendationThreshold {
		recs = append(recs, "Address code quality findings and raise test coverage.")
	}
	return recs
}
