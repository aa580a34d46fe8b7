package queue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

func item(t *testing.T, id string, m types.Mutation) Item {
	t.Helper()
	it, err := NewItem(types.Envelope{ID: id, Mutation: m}, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return it
}

func ids(items []Item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.MutationID)
	}
	return out
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	_, ok := q.Front()
	assert.False(t, ok)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, q.PushBack(item(t, id, types.CreateAlbum{Name: id})))
	}
	assert.Equal(t, 3, q.Len())

	head, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, "m1", head.MutationID)

	popped, err := q.PopFront()
	require.NoError(t, err)
	assert.Equal(t, "m1", popped.MutationID)
	assert.Equal(t, []string{"m2", "m3"}, ids(q.Items()))

	_, err = New().PopFront()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_MarkFailedKeepsHead(t *testing.T) {
	q := New()
	require.NoError(t, q.PushBack(item(t, "m1", types.Delete{Path: "a.jpg"})))
	require.NoError(t, q.PushBack(item(t, "m2", types.Delete{Path: "b.jpg"})))

	require.NoError(t, q.MarkFailed(errors.New("backup unplugged")))
	require.NoError(t, q.MarkFailed(errors.New("still unplugged")))

	head, _ := q.Front()
	assert.Equal(t, "m1", head.MutationID)
	assert.Equal(t, 2, head.Attempts)
	assert.Equal(t, "still unplugged", head.LastError)

	assert.ErrorIs(t, New().MarkFailed(nil), ErrEmpty)
}

func TestQueue_RemoveAndContains(t *testing.T) {
	q := New()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, q.PushBack(item(t, id, types.CreateAlbum{Name: id})))
	}
	assert.True(t, q.Contains("m2"))

	removed, err := q.Remove("m2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, q.Contains("m2"))
	assert.Equal(t, []string{"m1", "m3"}, ids(q.Items()))

	removed, err = q.Remove("nope")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestQueue_ItemEnvelope(t *testing.T) {
	m := types.Move{From: "a.jpg", To: "2024/a.jpg"}
	it := item(t, "m1", m)
	assert.Equal(t, types.KindMove, it.Kind)

	env, err := it.Envelope()
	require.NoError(t, err)
	assert.Equal(t, "m1", env.ID)
	assert.Equal(t, m, env.Mutation)
}

func TestQueue_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "retry_queue.jsonl")

	q, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, path, q.Path())

	require.NoError(t, q.PushBack(item(t, "m1", types.CreateAlbum{Name: "A"})))
	require.NoError(t, q.PushBack(item(t, "m2", types.Rename{Path: "a.jpg", NewName: "b.jpg"})))
	require.NoError(t, q.MarkFailed(errors.New("timeout")))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, ids(reopened.Items()))
	head, _ := reopened.Front()
	assert.Equal(t, 1, head.Attempts)
	assert.Equal(t, "timeout", head.LastError)

	_, err = reopened.PopFront()
	require.NoError(t, err)
	require.NoError(t, reopened.Clear())

	again, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Len())
}

func TestQueue_OpenSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry_queue.jsonl")
	good := `{"mutation_id":"m1","kind":"create_album","mutation":{"kind":"create_album","data":{"name":"A"}},"enqueued_at":"2025-01-02T03:04:05Z","attempts":0}`
	content := good + "\n" + `{"mutation_id":"m2","kind":` + "\n\n" + `{"kind":"delete"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	q, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(q.Items()))
}
