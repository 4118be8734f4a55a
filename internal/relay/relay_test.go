package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/protocol"
)

func testEnvelope(id string) protocol.Envelope {
	return protocol.Envelope{Version: protocol.Version, ID: id, From: "alice@acme.aimaestro.local", To: "bob@acme.aimaestro.local", Subject: "hi", Priority: protocol.PriorityNormal, Timestamp: time.Now()}
}

func TestQueueThenGetPending(t *testing.T) {
	q := New(t.TempDir())
	_, err := q.QueueMessage("agent-1", testEnvelope("msg_1"), protocol.Payload{Type: protocol.PayloadNotification, Message: "yo"}, "")
	require.NoError(t, err)

	pending, err := q.GetPendingMessages("agent-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "msg_1", pending[0].ID)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	q := New(t.TempDir())
	_, err := q.QueueMessage("agent-1", testEnvelope("msg_1"), protocol.Payload{}, "")
	require.NoError(t, err)

	require.NoError(t, q.AcknowledgeMessage("agent-1", "msg_1"))
	require.NoError(t, q.AcknowledgeMessage("agent-1", "msg_1"))

	pending, err := q.GetPendingMessages("agent-1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetPendingMessagesCapsAtOneHundred(t *testing.T) {
	q := New(t.TempDir())
	for i := 0; i < 150; i++ {
		_, err := q.QueueMessage("agent-1", testEnvelope("msg_"+string(rune('a'+i%26))+string(rune('0'+i%10))), protocol.Payload{}, "")
		require.NoError(t, err)
	}
	pending, err := q.GetPendingMessages("agent-1", 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(pending), 100)
}

func TestPendingOrderedOldestFirst(t *testing.T) {
	q := New(t.TempDir())
	first := testEnvelope("msg_first")
	first.Timestamp = time.Now().Add(-time.Minute)
	second := testEnvelope("msg_second")

	_, err := q.QueueMessage("agent-1", second, protocol.Payload{}, "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.QueueMessage("agent-1", first, protocol.Payload{}, "")
	require.NoError(t, err)

	pending, err := q.GetPendingMessages("agent-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].QueuedAt.Before(pending[1].QueuedAt) || pending[0].QueuedAt.Equal(pending[1].QueuedAt))
}
