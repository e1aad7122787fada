// Package redis implements the events.Hub contract on Redis: the replay
// window is a per-channel sorted set scored by a per-channel sequence, and
// live fan-out rides Redis pub/sub on the channel key. It mirrors the
// layering used by the stream transports this service grew out of: callers
// build a Redis client, hand it to the hub, and pass the hub to producers
// and the HTTP streamers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/telemetry"
)

const (
	// trimProbe bounds how many head entries a single publish inspects when
	// lazily evicting expired replay entries.
	trimProbe = 16
)

type (
	// Options configures the hub.
	Options struct {
		// Client is the Redis client used for both the replay store and the
		// broadcast bus. Required.
		Client goredis.UniversalClient
		// Window is the replay retention window. Entries older than the
		// window may be evicted lazily on access. Defaults to 5 minutes.
		Window time.Duration
		// Heartbeat is the idle interval after which subscribers receive a
		// keep-alive frame. Defaults to 15 seconds.
		Heartbeat time.Duration
		// Buffer is the per-subscriber frame buffer capacity. A subscriber
		// whose buffer overflows is disconnected. Defaults to 64.
		Buffer int
		// Now supplies the clock. Defaults to time.Now. Overridable in tests.
		Now func() time.Time
	}

	// Hub is the Redis-backed event fabric.
	Hub struct {
		client    goredis.UniversalClient
		window    time.Duration
		heartbeat time.Duration
		buffer    int
		now       func() time.Time
	}
)

// NewHub constructs a Redis-backed hub.
func NewHub(opts Options) (*Hub, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	h := &Hub{
		client:    opts.Client,
		window:    opts.Window,
		heartbeat: opts.Heartbeat,
		buffer:    opts.Buffer,
		now:       opts.Now,
	}
	if h.window <= 0 {
		h.window = 5 * time.Minute
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}
	if h.buffer <= 0 {
		h.buffer = 64
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// Publish assigns the next per-channel identifier, appends the frame to the
// replay window, and fans it out to live subscribers. Failures are reported
// as retryable: the database transaction, not the fabric, is the record of
// truth.
func (h *Hub) Publish(ctx context.Context, ch events.Channel, ev events.Event) (string, error) {
	if err := ch.Validate(); err != nil {
		return "", err
	}
	payload, err := events.MarshalPayload(ev)
	if err != nil {
		return "", err
	}
	key := ch.Key()
	seq, err := h.client.Incr(ctx, key+":seq").Result()
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, "event publish: sequence", err)
	}
	frame := events.Frame{
		ID:          FormatID(seq),
		Type:        ev.Type(),
		Data:        payload,
		PublishedAt: h.now().UnixMilli(),
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("event publish: marshal frame: %w", err)
	}
	if err := h.client.ZAdd(ctx, key+":log", goredis.Z{Score: float64(seq), Member: string(raw)}).Err(); err != nil {
		return "", errs.Wrap(errs.KindTransient, "event publish: append replay", err)
	}
	if err := h.client.Publish(ctx, key, string(raw)).Err(); err != nil {
		return "", errs.Wrap(errs.KindTransient, "event publish: broadcast", err)
	}
	h.trim(ctx, key)
	telemetry.CountEvent(ctx, string(ev.Type()))
	return frame.ID, nil
}

// Subscribe implements events.Hub. The pub/sub subscription is established
// before the replay read so no event published in between is lost; overlap is
// removed by sequence comparison.
func (h *Hub) Subscribe(ctx context.Context, ch events.Channel, lastEventID string) (<-chan events.Frame, <-chan error, context.CancelFunc, error) {
	if err := ch.Validate(); err != nil {
		return nil, nil, nil, err
	}
	key := ch.Key()
	pubsub := h.client.Subscribe(ctx, key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, nil, errs.Wrap(errs.KindTransient, "event subscribe", err)
	}

	frames := make(chan events.Frame, h.buffer)
	errc := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go h.consume(runCtx, key, lastEventID, pubsub, frames, errc)
	cancelFunc := func() {
		cancel()
		_ = pubsub.Close()
	}
	return frames, errc, cancelFunc, nil
}

// consume replays the window after lastEventID, then forwards live events
// with heartbeats on idle intervals. It owns both output channels.
func (h *Hub) consume(ctx context.Context, key, lastEventID string, pubsub *goredis.PubSub, out chan<- events.Frame, errc chan<- error) {
	defer close(out)
	defer close(errc)

	lastSeq := int64(0)
	if lastEventID != "" {
		replayed, err := h.replay(ctx, key, lastEventID, out)
		if err != nil {
			errc <- err
			return
		}
		lastSeq = replayed
	}

	live := pubsub.Channel()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	lastActivity := h.now()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-live:
			if !ok {
				errc <- errs.New(errs.KindTransient, "event subscribe: broadcast disconnected")
				return
			}
			var frame events.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				errc <- fmt.Errorf("event subscribe: decode frame: %w", err)
				return
			}
			seq, err := ParseID(frame.ID)
			if err != nil {
				errc <- err
				return
			}
			if seq <= lastSeq {
				continue
			}
			if !h.deliver(out, frame) {
				h.overflow(out, errc)
				return
			}
			lastSeq = seq
			lastActivity = h.now()
			ticker.Reset(h.heartbeat)
		case <-ticker.C:
			if h.now().Sub(lastActivity) < h.heartbeat {
				continue
			}
			// Heartbeats are droppable: a full buffer means the client is
			// already behind on data frames.
			h.deliver(out, events.Frame{Heartbeat: true})
		}
	}
}

// replay sends every replay-window frame with sequence strictly greater than
// lastEventID, in order, and returns the last delivered sequence. An
// identifier older than the window simply yields a truncated replay; the
// first delivered identifier then exceeds lastEventID+1 and the consumer
// treats that as "possibly missed events".
func (h *Hub) replay(ctx context.Context, key, lastEventID string, out chan<- events.Frame) (int64, error) {
	after, err := ParseID(lastEventID)
	if err != nil {
		return 0, err
	}
	raws, err := h.client.ZRangeByScore(ctx, key+":log", &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "event subscribe: replay window", err)
	}
	last := after
	for _, raw := range raws {
		var frame events.Frame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			return 0, fmt.Errorf("event subscribe: decode replay frame: %w", err)
		}
		seq, err := ParseID(frame.ID)
		if err != nil {
			return 0, err
		}
		if !h.deliver(out, frame) {
			return 0, errs.New(errs.KindTransient, "event subscribe: subscriber buffer overflow during replay")
		}
		last = seq
	}
	return last, nil
}

// deliver performs a non-blocking send. It reports false when the subscriber
// buffer is full, which disconnects the subscriber rather than blocking the
// publisher path.
func (h *Hub) deliver(out chan<- events.Frame, frame events.Frame) bool {
	select {
	case out <- frame:
		return true
	default:
		return frame.Heartbeat
	}
}

// overflow tells the slow subscriber why its stream ended. The error frame is
// best effort: the buffer is already full.
func (h *Hub) overflow(out chan<- events.Frame, errc chan<- error) {
	ev := events.NewError("SUBSCRIBER_OVERFLOW", "subscriber too slow; reconnect with last event id", true)
	if data, err := events.MarshalPayload(ev); err == nil {
		h.deliver(out, events.Frame{Type: ev.Type(), Data: data})
	}
	errc <- errs.New(errs.KindTransient, "event subscribe: subscriber buffer overflow")
}

// trim lazily evicts head entries that fell out of the retention window. It
// inspects at most trimProbe entries per publish so eviction cost stays
// bounded; remaining stale entries are picked up by subsequent publishes.
func (h *Hub) trim(ctx context.Context, key string) {
	head, err := h.client.ZRangeWithScores(ctx, key+":log", 0, trimProbe-1).Result()
	if err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "replay trim probe failed"}, log.KV{K: "err", V: err.Error()})
		return
	}
	cutoff := h.now().Add(-h.window).UnixMilli()
	var lastExpired float64
	found := false
	for _, z := range head {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var frame events.Frame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			continue
		}
		if frame.PublishedAt >= cutoff {
			break
		}
		lastExpired = z.Score
		found = true
	}
	if !found {
		return
	}
	if err := h.client.ZRemRangeByScore(ctx, key+":log", "-inf", strconv.FormatInt(int64(lastExpired), 10)).Err(); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "replay trim failed"}, log.KV{K: "err", V: err.Error()})
	}
}

// FormatID renders a sequence number as a channel event identifier. The fixed
// width keeps lexicographic order identical to numeric order.
func FormatID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// ParseID recovers the sequence number from an event identifier.
func ParseID(id string) (int64, error) {
	seq, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("events: malformed event id %q: %w", id, err)
	}
	return seq, nil
}
