package types

import "context"

// Store wraps one physical store: a relational index plus a filesystem root.
// A Store is owned by a single coordinator; callers do not share its
// transaction context.
type Store interface {
	OperationLog

	// Name identifies the store in logs and errors ("primary", "backup").
	Name() string

	// Root returns the absolute filesystem root of the store.
	Root() string

	// Apply performs m inside one local transaction. The filesystem step is
	// staged before the data transaction commits and undone if the commit
	// fails. Returned errors are *StoreError values.
	Apply(ctx context.Context, m Mutation) error

	// Verify reports whether the store's filesystem and index already
	// reflect m. Used to resolve log entries left pending by a crash.
	Verify(ctx context.Context, m Mutation) (bool, error)

	// SweepTrash removes files staged for deletion that no commit claimed,
	// returning how many were removed. Callers resolve pending log entries
	// first.
	SweepTrash(ctx context.Context) (int, error)

	// Ping returns nil when the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store. Close is idempotent.
	Close() error
}

// Standard store names.
const (
	PrimaryStore = "primary"
	BackupStore  = "backup"
)

// Catalog is the read side of a store.
type Catalog interface {
	// PhotoByPath returns the photo indexed at path, or ErrPhotoNotFound.
	PhotoByPath(ctx context.Context, path string) (Photo, error)

	// AlbumByName returns the named album, or ErrAlbumNotFound.
	AlbumByName(ctx context.Context, name string) (Album, error)

	// Snapshot returns every indexed entity.
	Snapshot(ctx context.Context) (Snapshot, error)
}
