package meeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenGet(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	created, err := store.Create(Meeting{Name: "standup", AgentIDs: []string{"a1", "a2"}})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, created.Status)

	got, ok := store.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "standup", got.Name)
}

func TestCreateRejectsMissingName(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Create(Meeting{})
	require.Error(t, err)
}

func TestEndSetsEndedAt(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	created, err := store.Create(Meeting{Name: "retro"})
	require.NoError(t, err)

	ended, err := store.End(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
}

func TestDeleteRemovesMeeting(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	created, err := store.Create(Meeting{Name: "1:1"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(created.ID))
	_, ok := store.Get(created.ID)
	assert.False(t, ok)
}

func TestUpdateUnknownMeetingErrors(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Update("missing", func(m Meeting) (Meeting, error) { return m, nil })
	require.Error(t, err)
}
