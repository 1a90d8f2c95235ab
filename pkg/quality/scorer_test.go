package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreHappyPathSingleAgent(t *testing.T) {
	// One iteration, no tests, no errors, no optional signals.
	result := Score(Input{
		Iterations:    1,
		MaxIterations: 20,
	})

	assert.Equal(t, 25, result.Breakdown.Iterations)
	assert.Equal(t, 15, result.Breakdown.Tests)
	assert.Equal(t, 25, result.Breakdown.Errors)
	assert.Equal(t, 10, result.Breakdown.Quality)
	assert.Equal(t, 75, result.Score)
	assert.Equal(t, "C", result.Grade)
	assert.True(t, result.MeetsThreshold(70))
}

func TestScoreRefinementCase(t *testing.T) {
	// 18 of 20 iterations, 6/10 tests, 3/4 errors fixed.
	result := Score(Input{
		Iterations:    18,
		MaxIterations: 20,
		TestsPassed:   6,
		TestsTotal:    10,
		ErrorsFixed:   3,
		ErrorsTotal:   4,
	})

	assert.Equal(t, 5, result.Breakdown.Iterations)
	assert.Equal(t, 18, result.Breakdown.Tests)
	assert.Equal(t, 19, result.Breakdown.Errors)
	assert.Equal(t, 10, result.Breakdown.Quality)
	assert.Equal(t, 52, result.Score)
	assert.Equal(t, "F", result.Grade)
	assert.False(t, result.MeetsThreshold(70))
}

func TestIterationsScore(t *testing.T) {
	tests := []struct {
		name       string
		iterations int
		max        int
		want       int
	}{
		{"zero iterations", 0, 20, 0},
		{"zero max", 5, 0, 0},
		{"ratio at 0.2", 4, 20, 25},
		{"ratio at 0.4", 8, 20, 20},
		{"ratio at 0.6", 12, 20, 15},
		{"ratio at 0.8", 16, 20, 10},
		{"ratio above 0.8", 19, 20, 5},
		{"at ceiling", 20, 20, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, iterationsScore(tt.iterations, tt.max))
		})
	}
}

func TestTestsScore(t *testing.T) {
	assert.Equal(t, 15, testsScore(0, 0), "no tests is neutral")
	assert.Equal(t, 30, testsScore(10, 10))
	assert.Equal(t, 0, testsScore(0, 10))
	assert.Equal(t, 18, testsScore(6, 10))
}

func TestErrorsScore(t *testing.T) {
	assert.Equal(t, 25, errorsScore(0, 0), "no errors scores full")
	assert.Equal(t, 25, errorsScore(4, 4))
	assert.Equal(t, 19, errorsScore(3, 4))
	assert.Equal(t, 0, errorsScore(0, 4))
}

func TestQualityScoreOptionalSignals(t *testing.T) {
	cq := 100
	tc := 100
	assert.Equal(t, 10, qualityScore(nil, nil))
	assert.Equal(t, 20, qualityScore(&cq, nil))
	assert.Equal(t, 20, qualityScore(&cq, &tc), "capped at 20")

	half := 50
	assert.Equal(t, 15, qualityScore(&half, nil))
}

func TestGradeBoundaries(t *testing.T) {
	assert.Equal(t, "A", grade(90))
	assert.Equal(t, "B", grade(89))
	assert.Equal(t, "B", grade(80))
	assert.Equal(t, "C", grade(70))
	assert.Equal(t, "D", grade(60))
	assert.Equal(t, "F", grade(59))
}

func TestScoreIsDeterministic(t *testing.T) {
	in := Input{Iterations: 7, MaxIterations: 20, TestsPassed: 3, TestsTotal: 5, ErrorsFixed: 1, ErrorsTotal: 2}
	first := Score(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(in))
	}
}

func TestRecommendationsBelowThreshold(t *testing.T) {
	result := Score(Input{
		Iterations:    19,
		MaxIterations: 20,
		TestsPassed:   0,
		TestsTotal:    10,
	})
	// Iterations 5 and tests 0 are below 15; errors 25 and quality 10 are
	// mixed (quality 10 < 15 also contributes).
	assert.Len(t, result.Recommendations, 3)
}

func TestSummaryEmbedsBreakdown(t *testing.T) {
	result := Score(Input{Iterations: 1, MaxIterations: 20})
	s := result.Summary()
	assert.Contains(t, s, "75/100")
	assert.Contains(t, s, "grade C")
	assert.Contains(t, s, "iterations 25/25")
}
