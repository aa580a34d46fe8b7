package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Verify reports whether the store already reflects m. Recovery uses it to
// decide whether a mutation left pending by a crash took effect.
func (s *Store) Verify(ctx context.Context, m types.Mutation) (bool, error) {
	if m == nil {
		return false, types.Conflict(s.name, "verify", types.ErrUnknownMutation)
	}
	op := "verify " + string(m.Kind())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return false, types.Unreachable(s.name, op, err)
	}

	var (
		ok  bool
		err error
	)
	switch m := m.(type) {
	case types.Move:
		ok, err = s.verifyRelocated(path.Clean(m.From), path.Clean(m.To))
	case types.Rename:
		ok, err = s.verifyRelocated(path.Clean(m.Path), m.Destination())
	case types.Delete:
		// The file is staged into the trash before the index commit, so a
		// missing file is enough.
		var present bool
		present, err = exists(s.abs(path.Clean(m.Path)))
		ok = !present
	case types.CreateAlbum:
		ok, err = s.hasRow(ctx, "SELECT 1 FROM albums WHERE name = ?", m.Name)
	case types.DeleteAlbum:
		ok, err = s.noRow(ctx, "SELECT 1 FROM albums WHERE id = ?", m.AlbumID)
	case types.AttachToAlbum:
		ok, err = s.hasRow(ctx,
			"SELECT 1 FROM photo_albums WHERE photo_id = ? AND album_id = ?",
			m.PhotoID, m.AlbumID)
	case types.AttachTag:
		ok, err = s.hasRow(ctx,
			`SELECT 1 FROM photo_tags pt JOIN tags t ON t.id = pt.tag_id
			 WHERE pt.photo_id = ? AND t.name = ?`,
			m.PhotoID, m.TagName)
	case types.AddPhoto:
		ok, err = s.hasRow(ctx, "SELECT 1 FROM photos WHERE path = ?", path.Clean(m.Photo.Path))
	default:
		return false, types.Conflict(s.name, op, fmt.Errorf("%w: %T", types.ErrUnknownMutation, m))
	}
	if err != nil {
		return false, s.classify(op, err)
	}
	return ok, nil
}

// verifyRelocated is true when the file sits at to and nothing is left at
// from. The rename is the irreversible half of a relocation, so an index
// row still pointing at from only means the commit was lost; Apply
// reconciles it.
func (s *Store) verifyRelocated(from, to string) (bool, error) {
	srcExists, err := exists(s.abs(from))
	if err != nil {
		return false, err
	}
	dstExists, err := exists(s.abs(to))
	if err != nil {
		return false, err
	}
	return !srcExists && dstExists, nil
}

func (s *Store) hasRow(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Store) noRow(ctx context.Context, query string, args ...any) (bool, error) {
	ok, err := s.hasRow(ctx, query, args...)
	return !ok, err
}
