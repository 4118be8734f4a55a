package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/protocol"
)

func testMessage(id, from, to, subject, text string) Message {
	return Message{
		ID: id, From: from, To: to, Subject: subject,
		Content:   protocol.Payload{Type: protocol.PayloadNotification, Message: text},
		Priority:  protocol.PriorityNormal,
		Timestamp: time.Now(),
		Status:    StatusUnread,
	}
}

func TestDeliverThenListInbox(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Deliver("bob", "alice", testMessage("m1", "alice@h", "bob@h", "hi", "yo")))

	summaries, err := s.List(BoxInbox, "bob", ListOptions{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "yo", summaries[0].Preview)
	assert.Equal(t, StatusUnread, summaries[0].Status)
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Deliver("bob", "alice", testMessage("m1", "alice@h", "bob@h", "hi", "yo")))

	require.NoError(t, s.MarkAsRead("bob", "m1"))
	require.NoError(t, s.MarkAsRead("bob", "m1"))

	summaries, err := s.List(BoxInbox, "bob", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusRead, summaries[0].Status)
}

func TestArchiveMovesMessageOutOfInbox(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Deliver("bob", "alice", testMessage("m1", "alice@h", "bob@h", "hi", "yo")))
	require.NoError(t, s.Archive("bob", "m1"))

	inbox, err := s.List(BoxInbox, "bob", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, inbox)

	archived, err := s.List(BoxArchived, "bob", ListOptions{})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, StatusArchived, archived[0].Status)
}

func TestUnreadCount(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Deliver("bob", "alice", testMessage("m1", "alice@h", "bob@h", "hi", "a")))
	require.NoError(t, s.Deliver("bob", "alice", testMessage("m2", "alice@h", "bob@h", "hi", "b")))
	require.NoError(t, s.MarkAsRead("bob", "m1"))

	n, err := s.UnreadCount("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMeetingMessagesDeduplicatesBroadcastCopies(t *testing.T) {
	s := New(t.TempDir())
	now := time.Now()
	m := Message{
		ID: "m1", From: "maestro", To: "alice@h", Subject: "[MEETING:mtg-1] kickoff",
		Content: protocol.Payload{Type: protocol.PayloadNotification, Message: "let's start"},
		Priority: protocol.PriorityNormal, Timestamp: now, Status: StatusUnread,
	}
	// Same broadcast delivered into two participants' inboxes.
	require.NoError(t, s.Deliver("alice", "", m))
	m2 := m
	require.NoError(t, s.Deliver("bob", "", m2))

	out, err := s.MeetingMessages("mtg-1", []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestMeetingMessagesSortedAscending(t *testing.T) {
	s := New(t.TempDir())
	early := Message{ID: "m1", From: "alice", To: "bob", Subject: "[MEETING:mtg-1] a", Content: protocol.Payload{Message: "first"}, Timestamp: time.Now().Add(-time.Minute), Status: StatusUnread}
	late := Message{ID: "m2", From: "bob", To: "alice", Subject: "[MEETING:mtg-1] b", Content: protocol.Payload{Message: "second"}, Timestamp: time.Now(), Status: StatusUnread}
	require.NoError(t, s.Deliver("bob", "alice", early))
	require.NoError(t, s.Deliver("alice", "bob", late))

	out, err := s.MeetingMessages("mtg-1", []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Preview)
	assert.Equal(t, "second", out[1].Preview)
}
