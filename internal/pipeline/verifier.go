package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
)

// TestCase is one entry of the TEST_CASES_JSON document handed to the
// verifier command. The command runs every case and exits non-zero as
// soon as one fails, so regressions in earlier stages fail the push.
type TestCase struct {
	Slug      string `json:"slug"`
	LogPrefix string `json:"log_prefix"`
	Title     string `json:"title"`
}

// BuildTestCases converts the ordered stage list (first stage through
// the attempted one) into the verifier's test case document.
func BuildTestCases(stages []*types.Stage) []TestCase {
	cases := make([]TestCase, 0, len(stages))
	for i, stage := range stages {
		cases = append(cases, TestCase{
			Slug:      stage.Slug,
			LogPrefix: fmt.Sprintf("test-%d", i+1),
			Title:     fmt.Sprintf("Stage #%d: %s", i+1, stage.Name),
		})
	}
	return cases
}

// VerifyRequest describes one verification run against the commit a
// learner pushed.
type VerifyRequest struct {
	RepoDir    string
	CourseSlug string
	StageSlug  string
	CommitSHA  string
	TestCases  []TestCase
}

// Verifier runs a solution against the test suite of its stage. A nil
// error with a failed result is the normal "tests did not pass"
// outcome; an error means the verdict could not be produced at all and
// the attempt is recorded as failed.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (types.TestResult, error)
}

// commandVerifier shells out to an operator-supplied command. The
// command receives the run parameters through the environment and
// reports its verdict through the exit code: zero means every test
// case passed.
type commandVerifier struct {
	command string
	log     *logger.Logger

	run func(ctx context.Context, command string, dir string, env []string) ([]byte, error)
}

func NewCommandVerifier(command string, log *logger.Logger) Verifier {
	return &commandVerifier{
		command: command,
		log:     log.With("component", "CommandVerifier"),
		run:     runCommand,
	}
}

func (v *commandVerifier) Verify(ctx context.Context, req VerifyRequest) (types.TestResult, error) {
	casesJSON, err := json.Marshal(req.TestCases)
	if err != nil {
		return types.TestResultFailed, &VerifierError{StageSlug: req.StageSlug, Err: err}
	}

	env := []string{
		"REPO_DIR=" + req.RepoDir,
		"COURSE=" + req.CourseSlug,
		"STAGE=" + req.StageSlug,
		"COMMIT=" + req.CommitSHA,
		"TEST_CASES_JSON=" + string(casesJSON),
	}

	output, err := v.run(ctx, v.command, req.RepoDir, env)
	if err == nil {
		return types.TestResultPassed, nil
	}

	if ctx.Err() != nil {
		return types.TestResultFailed, &VerifierError{StageSlug: req.StageSlug, Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		v.log.Debug("verifier reported failing tests",
			"stage_slug", req.StageSlug,
			"commit", req.CommitSHA,
			"exit_code", exitErr.ExitCode(),
			"output", truncate(string(output), 2048))
		return types.TestResultFailed, nil
	}

	return types.TestResultFailed, &VerifierError{StageSlug: req.StageSlug, Err: err}
}

func runCommand(ctx context.Context, command string, dir string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}

// staticVerifier returns a fixed verdict. Deployments without a
// verifier command run with a passing one so the progress flow stays
// usable in development.
type staticVerifier struct {
	result types.TestResult
}

func NewStaticVerifier(result types.TestResult) Verifier {
	return &staticVerifier{result: result}
}

func (v *staticVerifier) Verify(ctx context.Context, req VerifyRequest) (types.TestResult, error) {
	if err := ctx.Err(); err != nil {
		return types.TestResultFailed, &VerifierError{StageSlug: req.StageSlug, Err: err}
	}
	return v.result, nil
}
