package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ResolutionError reports a push event that cannot be mapped to a stage.
// Resolution failures are not transient: the event is dropped with a
// diagnostic and never retried.
type ResolutionError struct {
	Ref    string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Ref, e.Reason)
}

// VerifierError reports a verifier invocation that did not produce a
// verdict: a timeout, a crash, or a panic. The pipeline records the
// attempt as failed and moves on.
type VerifierError struct {
	StageSlug string
	Err       error
}

func (e *VerifierError) Error() string {
	return fmt.Sprintf("verify stage %q: %v", e.StageSlug, e.Err)
}

func (e *VerifierError) Unwrap() error {
	return e.Err
}

// Transient persistence failures are retried with backoff before the
// event is dead-lettered. The SQLSTATE classes below cover lost
// connections (08), insufficient resources (53), lock timeouts (55P03)
// and serialization/deadlock aborts (40001, 40P01).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		case pgErr.Code == "55P03":
			return true
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53"):
			return true
		}
		return false
	}

	// pgx wraps dial/read failures outside the SQLSTATE taxonomy.
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
