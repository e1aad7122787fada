package events

import (
	"context"
	"encoding/json"
)

type (
	// Frame is one wire unit yielded to a subscriber. Data frames carry an
	// identifier, a type tag, and a serialized payload; heartbeat frames carry
	// nothing and exist only to keep intermediaries from timing the stream out.
	Frame struct {
		// ID is the strictly monotonic per-channel event identifier.
		// Lexicographic order of identifiers matches publish order. Empty for
		// heartbeats.
		ID string `json:"id,omitempty"`
		// Type is the event type tag. Empty for heartbeats.
		Type EventType `json:"type,omitempty"`
		// Data is the JSON-serialized event payload.
		Data json.RawMessage `json:"data,omitempty"`
		// PublishedAt is the publish time in Unix milliseconds. Used by the
		// replay store to trim entries outside the retention window.
		PublishedAt int64 `json:"ts,omitempty"`
		// Heartbeat marks an idle keep-alive frame. Heartbeats are never
		// persisted in the replay window.
		Heartbeat bool `json:"-"`
	}

	// Hub is the event fabric: publish with persistent replay, subscribe with
	// gap-free reconnection. Implementations namespace all state by channel
	// key, which embeds the tenant.
	Hub interface {
		// Publish appends the event to the channel's replay window, fans it
		// out to live subscribers, and returns the assigned identifier.
		// Identifiers are strictly monotonic per channel; concurrent
		// publishers receive distinct identifiers. Publish failures are
		// retryable; callers must not treat publish as a correctness barrier.
		Publish(ctx context.Context, ch Channel, ev Event) (string, error)

		// Subscribe yields frames for the channel: first every replay-window
		// event with identifier strictly greater than lastEventID (in order),
		// then live events, with heartbeat frames on every idle interval. An
		// empty lastEventID skips replay. The stream is infinite; the caller
		// terminates it with the returned cancel function. Slow subscribers
		// are disconnected with a final error frame rather than applying
		// backpressure to publishers. Errors on the error channel terminate
		// the stream; the client reconnects with its last seen identifier.
		Subscribe(ctx context.Context, ch Channel, lastEventID string) (<-chan Frame, <-chan error, context.CancelFunc, error)
	}
)
