package transport

import (
	"context"

	"github.com/simrigs/rig-commander/pkg/model"
)

// Transport delivers pending remote commands and carries status transitions
// back to the backend. Two realizations exist: the REST facade and direct
// table access; the queue is agnostic to which one is active.
type Transport interface {
	// FetchPending returns the commands currently pending for this device,
	// ordered by creation time. An endpoint that does not exist yet (the
	// feature is not rolled out) yields an empty slice, not an error.
	FetchPending(ctx context.Context) ([]*model.Command, error)
	// MarkProcessing flags the command as claimed. Best-effort UX signal,
	// not a lock; the queue proceeds even when this fails.
	MarkProcessing(ctx context.Context, id string) error
	// MarkComplete writes the terminal status plus the structured result.
	MarkComplete(
		ctx context.Context,
		id string,
		status model.CommandStatus,
		res *model.Result,
	) error
}

// PushTransport is the optional realtime delivery channel. Subscribe
// registers the handler for newly created commands and returns an
// unsubscribe function. The fallback decision on subscribe failure is made
// once at startup, not per message.
type PushTransport interface {
	Subscribe(
		ctx context.Context,
		handler func(cmd *model.Command),
	) (unsubscribe func(), err error)
}
