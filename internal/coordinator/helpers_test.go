// Test helpers: real SQLite stores on temp roots, wrapped so a test can
// unplug them, make them fail on chosen mutations, or stall an apply.
package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/photovault/internal/queue"
	"github.com/mesh-intelligence/photovault/internal/sqlite"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

var errUnplugged = errors.New("drive unplugged")

// faultyStore wraps a real store. While down, every call fails as if the
// drive were disconnected.
type faultyStore struct {
	types.Store
	real *sqlite.Store

	down atomic.Bool

	mu       sync.Mutex
	failWhen func(types.Mutation) error
	stall    chan struct{} // when non-nil, Apply signals entered and waits
	entered  chan struct{}
	applied  []types.MutationKind
}

func (f *faultyStore) unreachable(op string) error {
	return types.Unreachable(f.Name(), op, errUnplugged)
}

func (f *faultyStore) setFailWhen(fn func(types.Mutation) error) {
	f.mu.Lock()
	f.failWhen = fn
	f.mu.Unlock()
}

func (f *faultyStore) Apply(ctx context.Context, m types.Mutation) error {
	if f.down.Load() {
		return f.unreachable(string(m.Kind()))
	}
	f.mu.Lock()
	failWhen, stall, entered := f.failWhen, f.stall, f.entered
	f.mu.Unlock()

	if stall != nil {
		entered <- struct{}{}
		select {
		case <-stall:
		case <-ctx.Done():
			return types.Unreachable(f.Name(), string(m.Kind()), ctx.Err())
		}
	}
	if failWhen != nil {
		if err := failWhen(m); err != nil {
			return err
		}
	}
	if err := f.Store.Apply(ctx, m); err != nil {
		return err
	}
	f.mu.Lock()
	f.applied = append(f.applied, m.Kind())
	f.mu.Unlock()
	return nil
}

func (f *faultyStore) Record(ctx context.Context, env types.Envelope) (int64, error) {
	if f.down.Load() {
		return 0, f.unreachable("log record")
	}
	return f.Store.Record(ctx, env)
}

func (f *faultyStore) Resolve(ctx context.Context, id int64, status string, cause error) error {
	if f.down.Load() {
		return f.unreachable("log resolve")
	}
	return f.Store.Resolve(ctx, id, status, cause)
}

func (f *faultyStore) Entries(ctx context.Context, filter types.LogFilter) ([]types.LogEntry, error) {
	if f.down.Load() {
		return nil, f.unreachable("log entries")
	}
	return f.Store.Entries(ctx, filter)
}

func (f *faultyStore) Pending(ctx context.Context) ([]types.LogEntry, error) {
	if f.down.Load() {
		return nil, f.unreachable("log entries")
	}
	return f.Store.Pending(ctx)
}

func (f *faultyStore) Verify(ctx context.Context, m types.Mutation) (bool, error) {
	if f.down.Load() {
		return false, f.unreachable("verify")
	}
	return f.Store.Verify(ctx, m)
}

func (f *faultyStore) SweepTrash(ctx context.Context) (int, error) {
	if f.down.Load() {
		return 0, f.unreachable("sweep_trash")
	}
	return f.Store.SweepTrash(ctx)
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return f.unreachable("ping")
	}
	return f.Store.Ping(ctx)
}

func openFaulty(t *testing.T, name, root string) *faultyStore {
	t.Helper()
	s, err := sqlite.Open(types.StoreConfig{Name: name, Root: root, CreateRoot: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &faultyStore{Store: s, real: s}
}

// harness bundles a coordinator with its two wrapped stores.
type harness struct {
	c       *Coordinator
	primary *faultyStore
	backup  *faultyStore
	hook    *logtest.Hook
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	primary := openFaulty(t, types.PrimaryStore, filepath.Join(dir, "primary"))
	backup := openFaulty(t, types.BackupStore, filepath.Join(dir, "backup"))

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := Config{
		Logger:        logger,
		BackupTimeout: 2 * time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	c, err := New(primary, backup, queue.New(), cfg)
	require.NoError(t, err)
	return &harness{c: c, primary: primary, backup: backup, hook: hook}
}

// putFile creates rel on every given store root.
func putFile(t *testing.T, rel string, stores ...*faultyStore) {
	t.Helper()
	for _, s := range stores {
		p := filepath.Join(s.Root(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
	}
}

// seedPhoto puts the file on both stores and indexes it through the
// coordinator while both are up.
func (h *harness) seedPhoto(t *testing.T, rel string) types.Photo {
	t.Helper()
	putFile(t, rel, h.primary, h.backup)
	require.NoError(t, h.c.Submit(context.Background(), types.AddPhoto{Photo: types.Photo{Path: rel, Format: "jpeg"}}))
	p, err := h.primary.real.PhotoByPath(context.Background(), rel)
	require.NoError(t, err)
	return p
}

func fileOn(s *faultyStore, rel string) bool {
	_, err := os.Stat(filepath.Join(s.Root(), filepath.FromSlash(rel)))
	return err == nil
}

// snapshot reads a store's catalog with album timestamps cleared, since
// each store stamps its own rows.
func snapshot(t *testing.T, s *faultyStore) types.Snapshot {
	t.Helper()
	snap, err := s.real.Snapshot(context.Background())
	require.NoError(t, err)
	for i := range snap.Albums {
		snap.Albums[i].CreatedAt = time.Time{}
	}
	return snap
}

func logStatuses(t *testing.T, s *faultyStore) map[string]string {
	t.Helper()
	entries, err := s.real.Entries(context.Background(), types.LogFilter{})
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.MutationID] = e.Status
	}
	return out
}

func completedKinds(t *testing.T, s *faultyStore) []types.MutationKind {
	t.Helper()
	entries, err := s.real.Entries(context.Background(), types.LogFilter{Status: types.OpCompleted})
	require.NoError(t, err)
	var kinds []types.MutationKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
