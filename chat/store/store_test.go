package store

import (
	"testing"
	"time"

	"actionit/backend/conversation/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, content string) models.Message {
	return models.Message{ID: id, Content: content, Sender: models.SenderUser, Status: models.StatusSending, IsOptimistic: true}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestAddLocalPreservesOrder(t *testing.T) {
	s := New()
	got := s.AddLocal(msg("a", "first"))
	assert.Equal(t, "a", got.ID)
	s.AddLocal(msg("b", "second"))
	s.AddLocal(msg("c", "third"))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Snapshot()))
	assert.Equal(t, 3, s.Len())
}

func TestAddLocalDuplicateIDSwapsInPlace(t *testing.T) {
	s := New()
	s.AddLocal(msg("a", "first"))
	s.AddLocal(msg("b", "second"))
	s.AddLocal(msg("a", "edited"))

	assert.Equal(t, []string{"a", "b"}, ids(s.Snapshot()))
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "edited", got.Content)

	require.True(t, s.Remove("a"))
	assert.Equal(t, []string{"b"}, ids(s.Snapshot()))
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestReplaceKeepsPositionAndRekeys(t *testing.T) {
	s := New()
	s.AddLocal(msg("a", "1"))
	s.AddLocal(msg("client-b", "2"))
	s.AddLocal(msg("c", "3"))

	canonical := models.Message{ID: "srv-b", ClientID: "client-b", Content: "2", Status: models.StatusSent}
	require.True(t, s.Replace("client-b", canonical))

	assert.Equal(t, []string{"a", "srv-b", "c"}, ids(s.Snapshot()))
	_, ok := s.Get("client-b")
	assert.False(t, ok)

	found, ok := s.FindByClientID("client-b")
	require.True(t, ok)
	assert.Equal(t, "srv-b", found.ID)

	assert.False(t, s.Replace("missing", canonical))
}

func TestRemoveAndClear(t *testing.T) {
	s := New()
	s.AddLocal(msg("a", "1"))
	s.AddLocal(msg("b", "2"))
	s.AddLocal(msg("c", "3"))

	require.True(t, s.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, ids(s.Snapshot()))
	got, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", got.Content)

	s.Clear()
	assert.Zero(t, s.Len())
	assert.False(t, s.Remove("a"))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.AddLocal(msg("a", "1"))

	snap := s.Snapshot()
	snap[0].Content = "mutated"

	got, _ := s.Get("a")
	assert.Equal(t, "1", got.Content)
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	s := New()
	ch, unsubscribe := s.Subscribe()

	initial := <-ch
	assert.Empty(t, initial)

	s.AddLocal(msg("a", "1"))
	s.AddLocal(msg("b", "2"))

	select {
	case snap := <-ch:
		assert.Equal(t, []string{"a", "b"}, ids(snap), "undelivered snapshots are replaced by the latest")
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	s.AddLocal(msg("c", "3"))
}
