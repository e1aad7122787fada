package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts.Client = client
	hub, err := NewHub(opts)
	require.NoError(t, err)
	return hub, mr
}

func conversationChannel(t *testing.T, tenant string) events.Channel {
	t.Helper()
	ch, err := events.NewChannel(tenant, events.ScopeConversation, "conv-1")
	require.NoError(t, err)
	return ch
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub, _ := newTestHub(t, Options{})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	var prev string
	for i := 0; i < 5; i++ {
		id, err := hub.Publish(ctx, ch, events.NewContentDelta("chunk"))
		require.NoError(t, err)
		require.Greater(t, id, prev, "identifiers must be strictly increasing")
		prev = id
	}
}

func TestReplayAfterLastEventID(t *testing.T) {
	hub, _ := newTestHub(t, Options{})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	id1, err := hub.Publish(ctx, ch, events.NewContentDelta("one"))
	require.NoError(t, err)
	id2, err := hub.Publish(ctx, ch, events.NewContentDelta("two"))
	require.NoError(t, err)
	id3, err := hub.Publish(ctx, ch, events.NewContentDelta("three"))
	require.NoError(t, err)

	frames, errc, cancel, err := hub.Subscribe(ctx, ch, id1)
	require.NoError(t, err)
	defer cancel()

	got := collectFrames(t, frames, 2, time.Second)
	require.Equal(t, id2, got[0].ID)
	require.Equal(t, id3, got[1].ID)
	var payload events.ContentDeltaPayload
	require.NoError(t, json.Unmarshal(got[1].Data, &payload))
	require.Equal(t, "three", payload.Text)
	requireNoError(t, errc)
}

func TestReplayThenLive(t *testing.T) {
	hub, _ := newTestHub(t, Options{})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	id1, err := hub.Publish(ctx, ch, events.NewContentDelta("replayed"))
	require.NoError(t, err)

	frames, _, cancel, err := hub.Subscribe(ctx, ch, FormatID(0))
	require.NoError(t, err)
	defer cancel()

	// Replay of everything after sequence 0 yields the first event.
	got := collectFrames(t, frames, 1, time.Second)
	require.Equal(t, id1, got[0].ID)

	id2, err := hub.Publish(ctx, ch, events.NewContentDelta("live"))
	require.NoError(t, err)
	got = collectFrames(t, frames, 1, time.Second)
	require.Equal(t, id2, got[0].ID)
}

func TestCrossTenantIsolation(t *testing.T) {
	hub, _ := newTestHub(t, Options{})
	ctx := context.Background()
	chA := conversationChannel(t, "tenant-a")
	chB := conversationChannel(t, "tenant-b")

	frames, _, cancel, err := hub.Subscribe(ctx, chB, "")
	require.NoError(t, err)
	defer cancel()

	_, err = hub.Publish(ctx, chA, events.NewContentDelta("secret"))
	require.NoError(t, err)

	select {
	case f := <-frames:
		t.Fatalf("tenant B observed tenant A's event: %+v", f)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestHeartbeatOnIdle(t *testing.T) {
	hub, _ := newTestHub(t, Options{Heartbeat: 50 * time.Millisecond})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	frames, _, cancel, err := hub.Subscribe(ctx, ch, "")
	require.NoError(t, err)
	defer cancel()

	select {
	case f := <-frames:
		require.True(t, f.Heartbeat)
		require.Empty(t, f.ID, "heartbeats carry no identifier")
	case <-time.After(time.Second):
		t.Fatal("expected a heartbeat frame on idle")
	}
}

func TestExpiredEntriesTrimmedOnPublish(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	hub, _ := newTestHub(t, Options{Window: time.Minute, Now: func() time.Time { return clock() }})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	_, err := hub.Publish(ctx, ch, events.NewContentDelta("old"))
	require.NoError(t, err)

	// Advance well past the window; the next publish evicts the stale entry.
	later := now.Add(2 * time.Minute)
	clock = func() time.Time { return later }
	id2, err := hub.Publish(ctx, ch, events.NewContentDelta("fresh"))
	require.NoError(t, err)

	frames, _, cancel, err := hub.Subscribe(ctx, ch, FormatID(0))
	require.NoError(t, err)
	defer cancel()
	got := collectFrames(t, frames, 1, time.Second)
	require.Equal(t, id2, got[0].ID, "replay must start past the evicted entry")
}

func TestSlowSubscriberDisconnectedOnOverflow(t *testing.T) {
	hub, _ := newTestHub(t, Options{Buffer: 1})
	ctx := context.Background()
	ch := conversationChannel(t, "tenant-a")

	frames, errc, cancel, err := hub.Subscribe(ctx, ch, "")
	require.NoError(t, err)
	defer cancel()

	// The subscriber never reads: the first frame fills the buffer and the
	// next delivery overflows it. The publisher is never blocked.
	for i := 0; i < 5; i++ {
		_, err := hub.Publish(ctx, ch, events.NewContentDelta("chunk"))
		require.NoError(t, err)
	}

	select {
	case err := <-errc:
		require.Error(t, err)
		require.True(t, errs.IsTransient(err))
	case <-time.After(time.Second):
		t.Fatal("expected the slow subscriber to be disconnected")
	}

	// The frame channel closes after the disconnect.
	for {
		if _, ok := <-frames; !ok {
			break
		}
	}
}

func TestSubscribeRejectsInvalidChannel(t *testing.T) {
	hub, _ := newTestHub(t, Options{})
	_, _, _, err := hub.Subscribe(context.Background(), events.Channel{}, "")
	require.Error(t, err)
}

func TestParseIDRoundTrip(t *testing.T) {
	id := FormatID(42)
	require.Len(t, id, 20)
	seq, err := ParseID(id)
	require.NoError(t, err)
	require.Equal(t, int64(42), seq)

	_, err = ParseID("not-an-id")
	require.Error(t, err)
}

func collectFrames(t *testing.T, frames <-chan events.Frame, n int, timeout time.Duration) []events.Frame {
	t.Helper()
	var got []events.Frame
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case f, ok := <-frames:
			require.True(t, ok, "frame channel closed early")
			if f.Heartbeat {
				continue
			}
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(got))
		}
	}
	return got
}

func requireNoError(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		require.NoError(t, err)
	default:
	}
}
