package mirror

import "fmt"

// SyncError reports a failed sync against an upstream course repository.
// The previously installed generation, if any, stays in force.
type SyncError struct {
	Slug string
	URL  string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Slug != "" {
		return fmt.Sprintf("sync course %q from %s: %v", e.Slug, e.URL, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.URL, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ProvisionError reports a failed learner repository build. Nothing is
// left at the destination path when it is returned.
type ProvisionError struct {
	Dest   string
	Reason string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision %s: %s: %v", e.Dest, e.Reason, e.Err)
	}
	return fmt.Sprintf("provision %s: %s", e.Dest, e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
