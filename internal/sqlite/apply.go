package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Apply performs m against the store. Data statements run first inside an
// uncommitted transaction so that logical conflicts surface before the disk
// is touched; the filesystem step is then staged, and the transaction is
// committed only after it has succeeded. A failed commit undoes the
// filesystem step.
func (s *Store) Apply(ctx context.Context, m types.Mutation) error {
	if m == nil {
		return types.Conflict(s.name, "apply", types.ErrUnknownMutation)
	}
	op := string(m.Kind())
	if err := m.Validate(); err != nil {
		return types.Conflict(s.name, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return types.Unreachable(s.name, op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(op, err)
	}

	step, err := s.stage(ctx, tx, m)
	if err != nil {
		tx.Rollback()
		return s.classify(op, err)
	}

	if err := ctx.Err(); err != nil {
		tx.Rollback()
		return types.Unreachable(s.name, op, err)
	}
	if err := step.do(); err != nil {
		tx.Rollback()
		return s.classifyFS(op, err)
	}

	if err := tx.Commit(); err != nil {
		if uerr := step.undo(); uerr != nil {
			return types.Unreachable(s.name, op, fmt.Errorf("commit: %w; undo filesystem step: %v", err, uerr))
		}
		return s.classify(op, err)
	}
	step.finish()
	return nil
}

// stage runs the data statements for m inside tx and returns the filesystem
// step that must succeed before tx may commit.
func (s *Store) stage(ctx context.Context, tx *sql.Tx, m types.Mutation) (fsStep, error) {
	switch m := m.(type) {
	case types.Move:
		return s.stageRelocate(ctx, tx, m.Kind(), path.Clean(m.From), path.Clean(m.To))
	case types.Rename:
		return s.stageRelocate(ctx, tx, m.Kind(), path.Clean(m.Path), m.Destination())
	case types.Delete:
		return s.stageDelete(ctx, tx, path.Clean(m.Path))
	case types.CreateAlbum:
		return noopStep{}, s.createAlbum(ctx, tx, m)
	case types.DeleteAlbum:
		return noopStep{}, deleteAlbum(ctx, tx, m)
	case types.AttachToAlbum:
		return noopStep{}, attachToAlbum(ctx, tx, m)
	case types.AttachTag:
		return noopStep{}, attachTag(ctx, tx, m)
	case types.AddPhoto:
		return noopStep{}, s.addPhoto(ctx, tx, m)
	default:
		return nil, types.Conflict(s.name, "apply", fmt.Errorf("%w: %T", types.ErrUnknownMutation, m))
	}
}

// stageRelocate handles Move and Rename. A missing source with the
// destination already present means the mutation was applied before; the
// index is still reconciled so a crash between rename and commit heals.
// Relocating a directory carries every indexed photo beneath it along.
func (s *Store) stageRelocate(ctx context.Context, tx *sql.Tx, kind types.MutationKind, from, to string) (fsStep, error) {
	op := string(kind)
	srcAbs, dstAbs := s.abs(from), s.abs(to)

	src, err := osLstat(srcAbs)
	if err != nil {
		return nil, types.Unreachable(s.name, op, err)
	}
	dst, err := osLstat(dstAbs)
	if err != nil {
		return nil, types.Unreachable(s.name, op, err)
	}

	var step fsStep
	entry := src
	switch {
	case src != nil && dst != nil:
		return nil, types.FSConflict(s.name, op, fmt.Errorf("destination %q already exists", to))
	case src == nil && dst == nil:
		return nil, types.FSConflict(s.name, op, fmt.Errorf("source %q does not exist", from))
	case src == nil:
		step, entry = noopStep{}, dst
	default:
		step = renameStep{from: srcAbs, to: dstAbs}
	}

	if entry.IsDir() {
		// Children sort between "from/" and "from0" since '0' follows '/'.
		if _, err := tx.ExecContext(ctx,
			"UPDATE photos SET path = ? || substr(path, length(?) + 1) WHERE path >= ? AND path < ?",
			to, from, from+"/", from+"0"); err != nil {
			return nil, err
		}
		return step, nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE photos SET path = ?, filename = ? WHERE path = ?",
		to, path.Base(to), from); err != nil {
		return nil, err
	}
	return step, nil
}

// stageDelete removes the photo row and its membership rows, and stages the
// file into the trash. A file that is already gone is not an error.
func (s *Store) stageDelete(ctx context.Context, tx *sql.Tx, rel string) (fsStep, error) {
	op := string(types.KindDelete)
	abs := s.abs(rel)

	info, err := osLstat(abs)
	if err != nil {
		return nil, types.Unreachable(s.name, op, err)
	}
	var step fsStep = noopStep{}
	if info != nil {
		if info.IsDir() {
			return nil, types.FSConflict(s.name, op, fmt.Errorf("%q is a directory", rel))
		}
		step = trashStep{path: abs, trash: s.trashPath(rel)}
	}

	stmts := []string{
		"DELETE FROM photo_tags WHERE photo_id IN (SELECT id FROM photos WHERE path = ?)",
		"DELETE FROM photo_albums WHERE photo_id IN (SELECT id FROM photos WHERE path = ?)",
		"DELETE FROM photos WHERE path = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, rel); err != nil {
			return nil, err
		}
	}
	return step, nil
}

func (s *Store) createAlbum(ctx context.Context, tx *sql.Tx, m types.CreateAlbum) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO albums (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		m.Name, timestamp(s.now()))
	return err
}

// deleteAlbum removes membership rows before the album row. Deleting an
// album that does not exist is a no-op so replays stay idempotent.
func deleteAlbum(ctx context.Context, tx *sql.Tx, m types.DeleteAlbum) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM photo_albums WHERE album_id = ?", m.AlbumID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM albums WHERE id = ?", m.AlbumID)
	return err
}

func attachToAlbum(ctx context.Context, tx *sql.Tx, m types.AttachToAlbum) error {
	if err := requireRow(ctx, tx, "SELECT 1 FROM photos WHERE id = ?", m.PhotoID,
		fmt.Errorf("%w: id %d", types.ErrPhotoNotFound, m.PhotoID)); err != nil {
		return err
	}
	if err := requireRow(ctx, tx, "SELECT 1 FROM albums WHERE id = ?", m.AlbumID,
		fmt.Errorf("%w: id %d", types.ErrAlbumNotFound, m.AlbumID)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO photo_albums (photo_id, album_id) VALUES (?, ?)",
		m.PhotoID, m.AlbumID)
	return err
}

// attachTag finds or creates the tag with one upsert statement, then links
// it to the photo.
func attachTag(ctx context.Context, tx *sql.Tx, m types.AttachTag) error {
	if err := requireRow(ctx, tx, "SELECT 1 FROM photos WHERE id = ?", m.PhotoID,
		fmt.Errorf("%w: id %d", types.ErrPhotoNotFound, m.PhotoID)); err != nil {
		return err
	}

	var tagID int64
	err := tx.QueryRowContext(ctx,
		"INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO UPDATE SET name = excluded.name RETURNING id",
		m.TagName).Scan(&tagID)
	if err != nil {
		return fmt.Errorf("upsert tag %q: %w", m.TagName, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO photo_tags (photo_id, tag_id) VALUES (?, ?)",
		m.PhotoID, tagID)
	return err
}

func (s *Store) addPhoto(ctx context.Context, tx *sql.Tx, m types.AddPhoto) error {
	p := m.Photo
	rel := path.Clean(p.Path)
	filename := p.Filename
	if filename == "" {
		filename = path.Base(rel)
	}
	var dateTaken sql.NullString
	if p.DateTaken != nil {
		dateTaken = sql.NullString{String: timestamp(*p.DateTaken), Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO photos (path, filename, file_size, date_taken, width, height, format, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO NOTHING`,
		rel, filename, p.FileSize, dateTaken, p.Width, p.Height, p.Format, timestamp(s.now()))
	return err
}

// requireRow returns notFound when query yields no row.
func requireRow(ctx context.Context, tx *sql.Tx, query string, id int64, notFound error) error {
	var one int
	err := tx.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return notFound
	}
	return err
}
