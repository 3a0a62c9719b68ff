package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackclass/backend/internal/types"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verifier.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestBuildTestCases(t *testing.T) {
	stages := []*types.Stage{
		{Slug: "bind-port", Name: "Bind to a port", Weight: 1},
		{Slug: "ping", Name: "Respond to PING", Weight: 2},
	}

	cases := BuildTestCases(stages)
	if len(cases) != 2 {
		t.Fatalf("got %d cases, want 2", len(cases))
	}
	want := TestCase{Slug: "ping", LogPrefix: "test-2", Title: "Stage #2: Respond to PING"}
	if cases[1] != want {
		t.Fatalf("case 1 = %+v, want %+v", cases[1], want)
	}
}

func TestCommandVerifierPassesEnvironment(t *testing.T) {
	repoDir := t.TempDir()
	script := writeScript(t, `printf '%s\n%s\n%s\n' "$COURSE" "$STAGE" "$COMMIT" > captured
printf '%s' "$TEST_CASES_JSON" > cases.json
`)

	verifier := NewCommandVerifier(script, mustTestLogger(t))
	result, err := verifier.Verify(context.Background(), VerifyRequest{
		RepoDir:    repoDir,
		CourseSlug: "redis",
		StageSlug:  "ping",
		CommitSHA:  "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		TestCases:  []TestCase{{Slug: "ping", LogPrefix: "test-1", Title: "Stage #1: ping"}},
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result != types.TestResultPassed {
		t.Fatalf("result = %q, want passed", result)
	}

	captured, err := os.ReadFile(filepath.Join(repoDir, "captured"))
	if err != nil {
		t.Fatalf("read captured env: %v", err)
	}
	want := "redis\nping\naaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n"
	if string(captured) != want {
		t.Fatalf("captured env = %q, want %q", captured, want)
	}

	raw, err := os.ReadFile(filepath.Join(repoDir, "cases.json"))
	if err != nil {
		t.Fatalf("read cases.json: %v", err)
	}
	var cases []TestCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		t.Fatalf("TEST_CASES_JSON not valid JSON: %v", err)
	}
	if len(cases) != 1 || cases[0].LogPrefix != "test-1" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
}

func TestCommandVerifierFailingExitIsAVerdict(t *testing.T) {
	script := writeScript(t, "exit 3\n")

	verifier := NewCommandVerifier(script, mustTestLogger(t))
	result, err := verifier.Verify(context.Background(), VerifyRequest{
		RepoDir:   t.TempDir(),
		StageSlug: "ping",
	})
	if err != nil {
		t.Fatalf("a failing exit is a verdict, not an error: %v", err)
	}
	if result != types.TestResultFailed {
		t.Fatalf("result = %q, want failed", result)
	}
}

func TestCommandVerifierTimeout(t *testing.T) {
	script := writeScript(t, "sleep 5\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	verifier := NewCommandVerifier(script, mustTestLogger(t))
	result, err := verifier.Verify(ctx, VerifyRequest{
		RepoDir:   t.TempDir(),
		StageSlug: "ping",
	})
	var verr *VerifierError
	if !errors.As(err, &verr) {
		t.Fatalf("want VerifierError on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded in chain, got %v", err)
	}
	if result != types.TestResultFailed {
		t.Fatalf("result = %q, want failed", result)
	}
}

func TestCommandVerifierRunFailure(t *testing.T) {
	verifier := NewCommandVerifier("verifier", mustTestLogger(t)).(*commandVerifier)
	verifier.run = func(ctx context.Context, command string, dir string, env []string) ([]byte, error) {
		return nil, fmt.Errorf("executable not found")
	}

	result, err := verifier.Verify(context.Background(), VerifyRequest{StageSlug: "ping"})
	var verr *VerifierError
	if !errors.As(err, &verr) {
		t.Fatalf("want VerifierError, got %v", err)
	}
	if result != types.TestResultFailed {
		t.Fatalf("result = %q, want failed", result)
	}
}

func TestStaticVerifier(t *testing.T) {
	verifier := NewStaticVerifier(types.TestResultPassed)
	result, err := verifier.Verify(context.Background(), VerifyRequest{StageSlug: "ping"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result != types.TestResultPassed {
		t.Fatalf("result = %q, want passed", result)
	}
}
