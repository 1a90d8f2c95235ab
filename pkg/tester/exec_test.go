package tester

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

func TestParseTestCounts(t *testing.T) {
	tests := []struct {
		name       string
		out        string
		wantPassed int
		wantTotal  int
	}{
		{
			name:       "jest summary",
			out:        "Tests:       6 passed, 10 total\nSnapshots:   0 total",
			wantPassed: 6,
			wantTotal:  10,
		},
		{
			name:       "x of y form",
			out:        "8 passed of 8 specs",
			wantPassed: 8,
			wantTotal:  8,
		},
		{
			name:       "mocha passing",
			out:        "  12 passing (340ms)",
			wantPassed: 12,
			wantTotal:  12,
		},
		{
			name: "no recognizable summary",
			out:  "compilation finished",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, total := parseTestCounts(tt.out)
			assert.Equal(t, tt.wantPassed, passed)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestNewExecTesterDefaults(t *testing.T) {
	e := NewExecTester()
	assert.Equal(t, []string{"npm", "install"}, e.InstallCmd)
	assert.NotEmpty(t, e.TestCmd)
}

func TestNewFromConfig(t *testing.T) {
	assert.Nil(t, NewFromConfig(nil))
	assert.Nil(t, NewFromConfig(&config.TesterConfig{}), "disabled by default")

	ts := NewFromConfig(&config.TesterConfig{Enabled: true})
	require.NotNil(t, ts)
	e, ok := ts.(*ExecTester)
	require.True(t, ok)
	assert.Equal(t, []string{"npm", "install"}, e.InstallCmd, "defaults when no overrides set")

	ts = NewFromConfig(&config.TesterConfig{
		Enabled: true,
		TestCmd: "go test ./...",
	})
	e = ts.(*ExecTester)
	assert.Equal(t, []string{"go", "test", "./..."}, e.TestCmd)
	assert.Equal(t, []string{"npm", "install"}, e.InstallCmd, "untouched steps keep their defaults")
}
