package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/photovault/internal/queue"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

func TestNew_RequiresPrimary(t *testing.T) {
	_, err := New(nil, nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, types.ErrNoPrimary)
}

// With the backup up, a mutation lands on both stores and
// nothing is queued.
func TestSubmit_MirrorsToBothStores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "Summer 2024"}))

	assert.Equal(t, 0, h.c.QueueDepth())
	assert.Equal(t, types.StateIdle, h.c.State())
	assert.False(t, h.c.IsBusy())

	for _, s := range []*faultyStore{h.primary, h.backup} {
		a, err := s.real.AlbumByName(ctx, "Summer 2024")
		require.NoError(t, err, s.Name())
		assert.Equal(t, int64(1), a.ID)
		assert.Equal(t, []types.MutationKind{types.KindCreateAlbum}, completedKinds(t, s))
	}
	assert.Equal(t, logStatuses(t, h.primary), logStatuses(t, h.backup), "both logs carry the same mutation id")
}

// A mutation the primary rejects is never queued or mirrored.
func TestSubmit_PrimaryRejectsMutation(t *testing.T) {
	tests := []struct {
		name string
		kind error
		m    types.Mutation
		prep func(h *harness)
	}{
		{
			name: "filesystem conflict",
			kind: types.ErrFilesystemConflict,
			m:    types.Move{From: "missing.jpg", To: "b.jpg"},
		},
		{
			name: "logical conflict",
			kind: types.ErrLogicalConflict,
			m:    types.AttachToAlbum{PhotoID: 7, AlbumID: 7},
		},
		{
			name: "primary unreachable",
			kind: types.ErrStoreUnreachable,
			m:    types.CreateAlbum{Name: "A"},
			prep: func(h *harness) { h.primary.down.Store(true) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.prep != nil {
				tt.prep(h)
			}

			err := h.c.Submit(context.Background(), tt.m)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, 0, h.c.QueueDepth())
			assert.Empty(t, logStatuses(t, h.backup), "backup never attempted")
			assert.Equal(t, types.StateIdle, h.c.State())
		})
	}
}

func TestSubmit_PrimaryFailureIsLogged(t *testing.T) {
	h := newHarness(t)

	err := h.c.Submit(context.Background(), types.Rename{Path: "ghost.jpg", NewName: "x.jpg"})
	require.Error(t, err)

	entries, err := h.primary.real.Entries(context.Background(), types.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OpFailed, entries[0].Status)
	assert.Contains(t, entries[0].Error, "filesystem conflict")
}

func TestSubmit_InvalidMutation(t *testing.T) {
	h := newHarness(t)

	err := h.c.Submit(context.Background(), types.Delete{Path: "../etc/passwd"})
	assert.ErrorIs(t, err, types.ErrInvalidMutation)
	err = h.c.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrInvalidMutation)
	assert.Empty(t, logStatuses(t, h.primary))
}

// A delete made while the backup is unplugged reaches it on
// the next flush.
func TestSubmit_BackupDownThenFlush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPhoto(t, "2024/IMG_1.jpg")

	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(ctx, types.Delete{Path: "2024/IMG_1.jpg"}))

	assert.False(t, fileOn(h.primary, "2024/IMG_1.jpg"))
	assert.True(t, fileOn(h.backup, "2024/IMG_1.jpg"))
	require.Equal(t, 1, h.c.QueueDepth())
	head, _ := h.c.Queue().Front()
	assert.Equal(t, types.KindDelete, head.Kind)
	assert.Equal(t, 1, head.Attempts)
	assert.Contains(t, head.LastError, "drive unplugged")

	// Still down: the flush reports the failure and keeps the entry.
	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Mirrored)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, head.MutationID, report.FailedID)
	assert.ErrorIs(t, report.LastError, types.ErrStoreUnreachable)

	h.backup.down.Store(false)
	report, err = h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mirrored)
	assert.Equal(t, 0, report.Pending)
	assert.NoError(t, report.LastError)

	assert.False(t, fileOn(h.backup, "2024/IMG_1.jpg"))
	assert.Equal(t, snapshot(t, h.primary), snapshot(t, h.backup))
}

// Chained renames made while the backup is down are replayed
// in order.
func TestFlush_ChainedRenames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPhoto(t, "a.jpg")

	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(ctx, types.Rename{Path: "a.jpg", NewName: "b.jpg"}))
	require.NoError(t, h.c.Submit(ctx, types.Rename{Path: "b.jpg", NewName: "c.jpg"}))
	assert.Equal(t, 2, h.c.QueueDepth())

	h.backup.down.Store(false)
	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Mirrored)

	assert.True(t, fileOn(h.backup, "c.jpg"))
	assert.False(t, fileOn(h.backup, "a.jpg"))
	assert.False(t, fileOn(h.backup, "b.jpg"))
	p, err := h.backup.real.PhotoByPath(ctx, "c.jpg")
	require.NoError(t, err)
	assert.Equal(t, "c.jpg", p.Filename)
	assert.Equal(t, snapshot(t, h.primary), snapshot(t, h.backup))
}

// Once anything is queued, new mutations queue behind it even if the
// backup is back, so the backup applies them in primary order.
func TestSubmit_QueuesBehindPendingEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "first"}))
	h.backup.down.Store(false)
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "second"}))

	assert.Equal(t, 2, h.c.QueueDepth())
	assert.Empty(t, logStatuses(t, h.backup), "second mutation was not applied ahead of the first")

	_, err := h.c.Flush(ctx)
	require.NoError(t, err)

	snap := snapshot(t, h.backup)
	require.Len(t, snap.Albums, 2)
	assert.Equal(t, "first", snap.Albums[0].Name)
	assert.Equal(t, "second", snap.Albums[1].Name)
	assert.Equal(t, snapshot(t, h.primary), snap)
}

// A failure in the middle of the queue stops the sweep there and keeps
// everything after it in order.
func TestFlush_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backup.down.Store(true)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: name}))
	}
	items := h.c.Queue().Items()
	require.Len(t, items, 3)

	h.backup.down.Store(false)
	h.backup.setFailWhen(func(m types.Mutation) error {
		if ca, ok := m.(types.CreateAlbum); ok && ca.Name == "b" {
			return types.Unreachable(types.BackupStore, "create_album", errors.New("write error"))
		}
		return nil
	})

	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mirrored)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, items[1].MutationID, report.FailedID)
	require.Error(t, report.LastError)

	remaining := h.c.Queue().Items()
	require.Len(t, remaining, 2)
	assert.Equal(t, items[1].MutationID, remaining[0].MutationID)
	assert.Equal(t, items[2].MutationID, remaining[1].MutationID)
	assert.Equal(t, 2, remaining[0].Attempts)

	statuses := logStatuses(t, h.backup)
	assert.Equal(t, types.OpCompleted, statuses[items[0].MutationID])
	assert.Equal(t, types.OpFailed, statuses[items[1].MutationID])
	_, attempted := statuses[items[2].MutationID]
	assert.False(t, attempted, "entries behind the failure are not attempted")

	h.backup.setFailWhen(nil)
	report, err = h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Mirrored)
	assert.Equal(t, snapshot(t, h.primary), snapshot(t, h.backup))
}

// Replaying a filesystem mutation the backup already holds succeeds.
func TestFlush_ReplayOfAppliedMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPhoto(t, "a.jpg")
	h.seedPhoto(t, "b.jpg")

	h.backup.down.Store(true)
	muts := []types.Mutation{
		types.Move{From: "a.jpg", To: "moved/a.jpg"},
		types.Rename{Path: "b.jpg", NewName: "bee.jpg"},
		types.Delete{Path: "moved/a.jpg"},
	}
	for _, m := range muts {
		require.NoError(t, h.c.Submit(ctx, m))
	}
	h.backup.down.Store(false)

	// The backup got the first two changes but the queue was never drained,
	// as after a crash between apply and pop.
	for _, m := range muts[:2] {
		require.NoError(t, h.backup.real.Apply(ctx, m))
	}

	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Mirrored)
	assert.NoError(t, report.LastError)
	assert.Equal(t, snapshot(t, h.primary), snapshot(t, h.backup))
}

// Every mutation the primary accepts ends up on the backup however the
// backup flaps.
func TestSubmit_NoSilentLoss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedPhoto(t, "p.jpg")

	for i := 0; i < 12; i++ {
		h.backup.down.Store(i%3 != 0)
		require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: fmt.Sprintf("album-%02d", i)}))
		require.NoError(t, h.c.Submit(ctx, types.AttachTag{PhotoID: p.ID, TagName: fmt.Sprintf("tag-%02d", i)}))
		if i%4 == 0 {
			_, err := h.c.Flush(ctx)
			require.NoError(t, err)
		}
	}

	h.backup.down.Store(false)
	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending)

	primary, backup := snapshot(t, h.primary), snapshot(t, h.backup)
	assert.Len(t, primary.Albums, 12)
	assert.Len(t, primary.Tagged, 12)
	assert.Equal(t, primary, backup)
}

func TestSubmit_NoBackupQueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NotNil(t, h.c.DetachBackup())
	assert.Nil(t, h.c.DetachBackup())

	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "A"}))
	assert.Equal(t, 1, h.c.QueueDepth())
	head, _ := h.c.Queue().Front()
	assert.Equal(t, 0, head.Attempts)

	report, err := h.c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.FlushReport{Pending: 1}, report)

	prev, report, err := h.c.AttachBackup(ctx, h.backup)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, 1, report.Mirrored)
	assert.Equal(t, 0, h.c.QueueDepth())
	_, err = h.backup.real.AlbumByName(ctx, "A")
	assert.NoError(t, err)
}

func TestFlush_EmptyQueue(t *testing.T) {
	h := newHarness(t)
	report, err := h.c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FlushReport{}, report)
}

func TestFlush_CanceledContext(t *testing.T) {
	h := newHarness(t)
	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(context.Background(), types.CreateAlbum{Name: "A"}))
	h.backup.down.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.c.Flush(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Mirrored)
	assert.Equal(t, 1, report.Pending)
}

func TestSubmit_QueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxQueueDepth = 2 })
	ctx := context.Background()

	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "a"}))
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "b"}))

	err := h.c.Submit(ctx, types.CreateAlbum{Name: "c"})
	assert.ErrorIs(t, err, types.ErrQueueFull)
	_, err = h.primary.real.AlbumByName(ctx, "c")
	assert.ErrorIs(t, err, types.ErrAlbumNotFound, "a refused mutation is not applied to the primary")

	// Once the backup is back the implicit flush makes room.
	h.backup.down.Store(false)
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "c"}))
	assert.Equal(t, 0, h.c.QueueDepth())
	assert.Equal(t, snapshot(t, h.primary), snapshot(t, h.backup))
}

func TestSubmit_BackupTimeoutQueues(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BackupTimeout = 50 * time.Millisecond })
	h.backup.mu.Lock()
	h.backup.stall = make(chan struct{})
	h.backup.entered = make(chan struct{}, 1)
	h.backup.mu.Unlock()

	require.NoError(t, h.c.Submit(context.Background(), types.CreateAlbum{Name: "slow"}))
	assert.Equal(t, 1, h.c.QueueDepth())
	head, _ := h.c.Queue().Front()
	assert.Contains(t, head.LastError, "deadline exceeded")

	statuses := logStatuses(t, h.backup)
	assert.Equal(t, types.OpFailed, statuses[head.MutationID], "timed-out attempt is still logged")
}

func TestSubmit_IsBusyDuringBackupApply(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.backup.mu.Lock()
	h.backup.stall = release
	h.backup.entered = make(chan struct{}, 1)
	entered := h.backup.entered
	h.backup.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.c.Submit(context.Background(), types.CreateAlbum{Name: "A"}) }()

	<-entered
	assert.True(t, h.c.IsBusy())
	assert.Equal(t, types.StateApplyingBackup, h.c.State())
	assert.Equal(t, 0, h.c.QueueDepth(), "QueueDepth does not block")

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.c.IsBusy())
	assert.Equal(t, 0, h.c.QueueDepth())
}

func TestStatus_DuringBackupApply(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.backup.mu.Lock()
	h.backup.stall = release
	h.backup.entered = make(chan struct{}, 1)
	entered := h.backup.entered
	h.backup.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.c.Submit(context.Background(), types.CreateAlbum{Name: "A"}) }()
	<-entered

	got := make(chan types.SyncStatus, 1)
	go func() { got <- h.c.Status(context.Background()) }()
	select {
	case st := <-got:
		assert.Equal(t, types.StateApplyingBackup.String(), st.State)
		assert.True(t, st.PrimaryConnected)
		assert.True(t, st.BackupConnected)
		assert.Zero(t, st.PendingOperations)
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked behind the submission")
	}

	close(release)
	require.NoError(t, <-done)
}

func TestSubmit_BackupConflictQueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedPhoto(t, "a.jpg")

	// The photo exists on the primary only.
	require.NoError(t, h.backup.real.Apply(ctx, types.Delete{Path: "a.jpg"}))

	require.NoError(t, h.c.Submit(ctx, types.AttachTag{PhotoID: p.ID, TagName: "x"}))
	require.Equal(t, 1, h.c.QueueDepth())
	head, _ := h.c.Queue().Front()
	assert.Contains(t, head.LastError, "photo not found")
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st := h.c.Status(ctx)
	assert.True(t, st.PrimaryConnected)
	assert.True(t, st.BackupConfigured)
	assert.True(t, st.BackupConnected)
	assert.True(t, st.InSync)
	assert.Nil(t, st.LastSync)
	assert.Equal(t, "idle", st.State)

	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "A"}))
	st = h.c.Status(ctx)
	require.NotNil(t, st.LastSync)

	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(ctx, types.CreateAlbum{Name: "B"}))
	st = h.c.Status(ctx)
	assert.False(t, st.BackupConnected)
	assert.False(t, st.InSync)
	assert.Equal(t, 1, st.PendingOperations)

	h.c.DetachBackup()
	st = h.c.Status(ctx)
	assert.False(t, st.BackupConfigured)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())

	assert.ErrorIs(t, h.c.Submit(context.Background(), types.CreateAlbum{Name: "A"}), types.ErrCoordinatorClosed)
	_, err := h.c.Flush(context.Background())
	assert.ErrorIs(t, err, types.ErrCoordinatorClosed)
}

func TestSubmit_LogsQueueing(t *testing.T) {
	h := newHarness(t)
	h.backup.down.Store(true)
	require.NoError(t, h.c.Submit(context.Background(), types.CreateAlbum{Name: "A"}))

	var queued bool
	for _, e := range h.hook.AllEntries() {
		if e.Message == "mutation queued for backup" {
			queued = true
			assert.Equal(t, 1, e.Data["depth"])
			assert.Equal(t, types.KindCreateAlbum, e.Data["kind"])
		}
	}
	assert.True(t, queued)
}

func TestNew_PersistentQueueSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	path := t.TempDir() + "/retry_queue.jsonl"
	q, err := queue.Open(path)
	require.NoError(t, err)
	c, err := New(h.primary, h.backup, q, Config{Logger: h.c.log})
	require.NoError(t, err)

	h.backup.down.Store(true)
	require.NoError(t, c.Submit(context.Background(), types.CreateAlbum{Name: "A"}))

	reopened, err := queue.Open(path)
	require.NoError(t, err)
	c2, err := New(h.primary, h.backup, reopened, Config{Logger: h.c.log})
	require.NoError(t, err)
	assert.Equal(t, 1, c2.QueueDepth())

	h.backup.down.Store(false)
	report, err := c2.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mirrored)
}
