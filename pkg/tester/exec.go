package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

// ErrRepoClone marks a failure to obtain the repository at all, before any
// verification step ran.
var ErrRepoClone = errors.New("repository clone failed")

// Per-step timeouts.
const (
	cloneTimeout   = 2 * time.Minute
	installTimeout = 5 * time.Minute
	lintTimeout    = 2 * time.Minute
	testTimeout    = 5 * time.Minute
	buildTimeout   = 5 * time.Minute
)

// ExecTester runs the verification pipeline with local subprocesses. Step
// commands are configurable so the pipeline matches the target repository's
// toolchain; empty commands skip the step.
type ExecTester struct {
	InstallCmd []string
	LintCmd    []string
	TestCmd    []string
	BuildCmd   []string

	logger *slog.Logger
}

// NewExecTester creates a tester with npm-style defaults.
func NewExecTester() *ExecTester {
	return &ExecTester{
		InstallCmd: []string{"npm", "install"},
		LintCmd:    []string{"npm", "run", "lint", "--if-present"},
		TestCmd:    []string{"npm", "test", "--if-present"},
		BuildCmd:   []string{"npm", "run", "build", "--if-present"},
		logger:     slog.Default().With("component", "tester"),
	}
}

// NewFromConfig builds the tester from configuration, or nil when the local
// pipeline is disabled. Configured command lines override the per-step
// defaults.
func NewFromConfig(cfg *config.TesterConfig) Tester {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	t := NewExecTester()
	if cmd := strings.Fields(cfg.InstallCmd); len(cmd) > 0 {
		t.InstallCmd = cmd
	}
	if cmd := strings.Fields(cfg.LintCmd); len(cmd) > 0 {
		t.LintCmd = cmd
	}
	if cmd := strings.Fields(cfg.TestCmd); len(cmd) > 0 {
		t.TestCmd = cmd
	}
	if cmd := strings.Fields(cfg.BuildCmd); len(cmd) > 0 {
		t.BuildCmd = cmd
	}
	return t
}

// RunTests clones the branch into a temp dir and runs the pipeline.
func (t *ExecTester) RunTests(ctx context.Context, repository, branch string) (*Result, error) {
	dir, err := os.MkdirTemp("", "conductor-test-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if out, err := t.step(ctx, dir, cloneTimeout,
		"git", "clone", "--depth", "1", "--branch", branch, repository, "."); err != nil {
		t.logger.Warn("Clone failed", "repository", repository, "branch", branch, "error", err)
		return &Result{
			Success: false,
			Output:  out,
			Errors:  []string{err.Error()},
		}, fmt.Errorf("%w: %v", ErrRepoClone, err)
	}

	result := &Result{Success: true}
	var output strings.Builder

	steps := []struct {
		name    string
		cmd     []string
		timeout time.Duration
	}{
		{"install", t.InstallCmd, installTimeout},
		{"lint", t.LintCmd, lintTimeout},
		{"test", t.TestCmd, testTimeout},
		{"build", t.BuildCmd, buildTimeout},
	}
	for _, s := range steps {
		if len(s.cmd) == 0 {
			continue
		}
		out, err := t.step(ctx, dir, s.timeout, s.cmd[0], s.cmd[1:]...)
		fmt.Fprintf(&output, "=== %s ===\n%s\n", s.name, out)
		if s.name == "test" {
			result.TestsPassed, result.TestsTotal = parseTestCounts(out)
		}
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.name, err))
			t.logger.Warn("Verification step failed", "step", s.name, "error", err)
			break
		}
	}

	result.Output = output.String()
	return result, nil
}

// step runs one command with its own timeout, returning combined output.
func (t *ExecTester) step(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("timed out after %s", timeout)
	}
	return string(out), err
}

// testCountPatterns match the summary lines of common test runners.
var testCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+) passed(?:, | of )(\d+)`),
	regexp.MustCompile(`Tests:\s+(\d+) passed, (\d+) total`),
	regexp.MustCompile(`(\d+) passing`),
}

// parseTestCounts extracts (passed, total) from runner output; best effort.
func parseTestCounts(out string) (int, int) {
	for _, re := range testCountPatterns {
		m := re.FindStringSubmatch(out)
		if m == nil {
			continue
		}
		passed, _ := strconv.Atoi(m[1])
		total := passed
		if len(m) > 2 && m[2] != "" {
			total, _ = strconv.Atoi(m[2])
		}
		return passed, total
	}
	return 0, 0
}
