package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelKeyEmbedsTenant(t *testing.T) {
	ch, err := NewChannel("tenant-a", ScopeConversation, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "events:tenant-a:conversation:conv-1", ch.Key())

	other, err := NewChannel("tenant-b", ScopeConversation, "conv-1")
	require.NoError(t, err)
	require.NotEqual(t, ch.Key(), other.Key())
}

func TestChannelValidation(t *testing.T) {
	cases := []struct {
		name     string
		tenant   string
		scope    Scope
		resource string
		wantErr  string
	}{
		{"missing tenant", "", ScopeUser, "u1", "tenant is required"},
		{"missing resource", "t1", ScopeUser, "", "resource is required"},
		{"unknown scope", "t1", Scope("topic"), "r1", "unknown channel scope"},
		{"separator in tenant", "t:1", ScopeUser, "r1", "must not contain"},
		{"separator in resource", "t1", ScopeUser, "r:1", "must not contain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChannel(tc.tenant, tc.scope, tc.resource)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEncodeFrameDataLines(t *testing.T) {
	var b strings.Builder
	err := EncodeFrame(&b, Frame{
		ID:   "00000000000000000042",
		Type: EventContentDelta,
		Data: []byte(`{"text":"hello"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "id: 00000000000000000042\nevent: content-delta\ndata: {\"text\":\"hello\"}\n\n", b.String())
}

func TestEncodeFrameHeartbeatIsComment(t *testing.T) {
	var b strings.Builder
	require.NoError(t, EncodeFrame(&b, Frame{Heartbeat: true}))
	require.True(t, strings.HasPrefix(b.String(), ":"))
	require.NotContains(t, b.String(), "id:")
}

func TestIngestionUpdateRejectsForeignType(t *testing.T) {
	_, err := NewIngestionUpdate(EventContentDelta, "doc-1", "chunking", 10, "")
	require.Error(t, err)
	ev, err := NewIngestionUpdate(EventIngestionProgress, "doc-1", "chunking", 10, "")
	require.NoError(t, err)
	require.Equal(t, EventIngestionProgress, ev.Type())
}
