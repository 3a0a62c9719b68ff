package gitserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"

	"github.com/stackclass/backend/internal/gitx"
	"github.com/stackclass/backend/internal/platform/logger"
)

const (
	// UploadPackService and ReceivePackService are the two smart
	// protocol services a git client may request.
	UploadPackService  = "git-upload-pack"
	ReceivePackService = "git-receive-pack"
)

var ErrInvalidService = errors.New("invalid git service")

// RefUpdate is one confirmed reference transition from a push. After is
// the zero hash for deletions.
type RefUpdate struct {
	Ref    string
	Before string
	After  string
}

// Service serves the git smart HTTP protocol for learner repositories.
// Pack negotiation is delegated to the git binary in stateless-rpc mode;
// go-git is used to parse push commands and confirm what receive-pack
// actually applied.
type Service interface {
	Exists(repo string) bool
	AdvertiseRefs(ctx context.Context, repo, service string) ([]byte, error)
	UploadPack(ctx context.Context, repo string, body []byte) ([]byte, error)
	ReceivePack(ctx context.Context, repo string, body []byte) ([]byte, []RefUpdate, error)
	ReadFile(repo, path string) ([]byte, error)
}

type service struct {
	root   string
	runner gitx.Runner
	log    *logger.Logger
}

func NewService(root string, runner gitx.Runner, log *logger.Logger) Service {
	return &service{
		root:   root,
		runner: runner,
		log:    log.With("service", "gitserver"),
	}
}

func (s *service) Exists(repo string) bool {
	path, err := s.repoPath(repo)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// AdvertiseRefs returns the smart protocol reference advertisement,
// prefixed with the service announcement pkt-line the protocol requires.
func (s *service) AdvertiseRefs(ctx context.Context, repo, svc string) ([]byte, error) {
	sub, err := subcommand(svc)
	if err != nil {
		return nil, err
	}
	path, err := s.repoPath(repo)
	if err != nil {
		return nil, err
	}

	refs, err := s.runner.Run(ctx, nil, sub, "--stateless-rpc", "--advertise-refs", path)
	if err != nil {
		return nil, err
	}

	header := fmt.Sprintf("# service=%s\n", svc)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%04x%s0000", len(header)+4, header)
	buf.Write(refs)
	return buf.Bytes(), nil
}

func (s *service) UploadPack(ctx context.Context, repo string, body []byte) ([]byte, error) {
	path, err := s.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, body, "upload-pack", "--stateless-rpc", path)
}

// ReceivePack runs the push and reports which commanded ref transitions
// receive-pack actually applied. A rejected or failed command simply
// does not show up in the returned updates.
func (s *service) ReceivePack(ctx context.Context, repo string, body []byte) ([]byte, []RefUpdate, error) {
	path, err := s.repoPath(repo)
	if err != nil {
		return nil, nil, err
	}

	commands := parseCommands(body)

	out, err := s.runner.Run(ctx, body, "receive-pack", "--stateless-rpc", path)
	if err != nil {
		return nil, nil, err
	}

	updates := s.confirm(path, commands)
	return out, updates, nil
}

// parseCommands extracts the commanded ref updates from a receive-pack
// request body. A body that carries no command section (for example a
// bare flush from a no-op push) yields no commands.
func parseCommands(body []byte) []*packp.Command {
	req := packp.NewReferenceUpdateRequest()
	if err := req.Decode(bytes.NewReader(body)); err != nil {
		return nil
	}
	return req.Commands
}

// confirm checks each command's post-state against the repository.
func (s *service) confirm(path string, commands []*packp.Command) []RefUpdate {
	if len(commands) == 0 {
		return nil
	}

	repo, err := gitx.Open(path)
	if err != nil {
		s.log.Error("reopening repository after push failed", "path", path, "error", err)
		return nil
	}

	var updates []RefUpdate
	for _, cmd := range commands {
		ref, err := repo.Reference(cmd.Name, false)

		applied := false
		if cmd.New.IsZero() {
			applied = errors.Is(err, plumbing.ErrReferenceNotFound)
		} else {
			applied = err == nil && ref.Hash() == cmd.New
		}
		if !applied {
			s.log.Warn("push command not applied", "ref", cmd.Name.String(),
				"old", cmd.Old.String(), "new", cmd.New.String())
			continue
		}

		updates = append(updates, RefUpdate{
			Ref:    cmd.Name.String(),
			Before: cmd.Old.String(),
			After:  cmd.New.String(),
		})
	}
	return updates
}

// ReadFile serves dumb protocol reads (HEAD, pack lists, loose objects,
// pack files) straight from the repository directory.
func (s *service) ReadFile(repo, file string) ([]byte, error) {
	path, err := s.repoPath(repo)
	if err != nil {
		return nil, err
	}
	clean, err := sanitize(file)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(path, clean))
}

func (s *service) repoPath(repo string) (string, error) {
	if repo == "" || strings.ContainsAny(repo, "/\\") || repo == "." || repo == ".." {
		return "", fmt.Errorf("invalid repository name %q", repo)
	}
	return filepath.Join(s.root, repo), nil
}

func sanitize(file string) (string, error) {
	if strings.Contains(file, "\\") {
		return "", fmt.Errorf("invalid path %q", file)
	}
	clean := filepath.Clean("/" + file)
	if clean == "/" {
		return "", fmt.Errorf("invalid path %q", file)
	}
	return strings.TrimPrefix(clean, "/"), nil
}

func subcommand(svc string) (string, error) {
	switch svc {
	case UploadPackService:
		return "upload-pack", nil
	case ReceivePackService:
		return "receive-pack", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidService, svc)
	}
}
