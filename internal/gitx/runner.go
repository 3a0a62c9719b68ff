package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes a git subcommand and returns its stdout. The gateway
// shells out for the smart-protocol services (upload-pack, receive-pack)
// because go-git does not expose a stateless-rpc server side; everything
// else in this package stays on go-git plumbing.
type Runner interface {
	Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

type execRunner struct{}

// NewExecRunner returns a Runner backed by the git binary on PATH.
func NewExecRunner() Runner {
	return &execRunner{}
}

func (execRunner) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)

	var stdout, stderr bytes.Buffer
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}
