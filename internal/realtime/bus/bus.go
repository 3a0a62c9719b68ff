package bus

import (
	"context"

	"github.com/stackclass/backend/internal/realtime"
)

// Bus carries progress messages across backend instances so every
// instance's subscribers see every commit, whichever instance served
// the push.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
