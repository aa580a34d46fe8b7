package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

var _ types.Catalog = (*Store)(nil)

const photoColumns = "id, path, filename, file_size, date_taken, width, height, format"

// PhotoByPath returns the photo indexed at rel.
func (s *Store) PhotoByPath(ctx context.Context, rel string) (types.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return types.Photo{}, types.Unreachable(s.name, "get photo", err)
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE path = ?", path.Clean(rel))
	p, err := hydratePhoto(row)
	if err == sql.ErrNoRows {
		return types.Photo{}, fmt.Errorf("%w: %s", types.ErrPhotoNotFound, rel)
	}
	if err != nil {
		return types.Photo{}, fmt.Errorf("getting photo %s: %w", rel, err)
	}
	return p, nil
}

// AlbumByName returns the album called name.
func (s *Store) AlbumByName(ctx context.Context, name string) (types.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reachableLocked(ctx); err != nil {
		return types.Album{}, types.Unreachable(s.name, "get album", err)
	}
	var (
		a       types.Album
		created string
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM albums WHERE name = ?", name).
		Scan(&a.ID, &a.Name, &created)
	if err == sql.ErrNoRows {
		return types.Album{}, fmt.Errorf("%w: %s", types.ErrAlbumNotFound, name)
	}
	if err != nil {
		return types.Album{}, fmt.Errorf("getting album %s: %w", name, err)
	}
	if a.CreatedAt, err = parseTimestamp(created); err != nil {
		return types.Album{}, fmt.Errorf("parsing created_at of album %s: %w", name, err)
	}
	return a, nil
}

// Snapshot reads the whole catalog in one read transaction.
func (s *Store) Snapshot(ctx context.Context) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap types.Snapshot
	if err := s.reachableLocked(ctx); err != nil {
		return snap, types.Unreachable(s.name, "snapshot", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return snap, s.classify("snapshot", err)
	}
	defer tx.Rollback()

	if snap.Photos, err = queryPhotos(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Albums, err = queryAlbums(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Tags, err = queryTags(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Members, err = queryMembers(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Tagged, err = queryTagged(ctx, tx); err != nil {
		return snap, err
	}
	return snap, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func hydratePhoto(row scanner) (types.Photo, error) {
	var (
		p                   types.Photo
		size, width, height sql.NullInt64
		dateTaken           sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Path, &p.Filename, &size, &dateTaken, &width, &height, &p.Format); err != nil {
		return p, err
	}
	p.FileSize = size.Int64
	p.Width = width.Int64
	p.Height = height.Int64
	if dateTaken.Valid {
		t, err := parseTimestamp(dateTaken.String)
		if err != nil {
			return p, fmt.Errorf("parsing date_taken of %s: %w", p.Path, err)
		}
		p.DateTaken = &t
	}
	return p, nil
}

func queryPhotos(ctx context.Context, tx *sql.Tx) ([]types.Photo, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+photoColumns+" FROM photos ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying photos: %w", err)
	}
	defer rows.Close()

	var photos []types.Photo
	for rows.Next() {
		p, err := hydratePhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func queryAlbums(ctx context.Context, tx *sql.Tx) ([]types.Album, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, name, created_at FROM albums ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying albums: %w", err)
	}
	defer rows.Close()

	var albums []types.Album
	for rows.Next() {
		var (
			a       types.Album
			created string
		)
		if err := rows.Scan(&a.ID, &a.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning album: %w", err)
		}
		if a.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, fmt.Errorf("parsing created_at of album %d: %w", a.ID, err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

func queryTags(ctx context.Context, tx *sql.Tx) ([]types.Tag, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id, name FROM tags ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []types.Tag
	for rows.Next() {
		var t types.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func queryMembers(ctx context.Context, tx *sql.Tx) ([]types.AlbumMember, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.path, a.name FROM photo_albums pa
		 JOIN photos p ON p.id = pa.photo_id
		 JOIN albums a ON a.id = pa.album_id
		 ORDER BY a.name, p.path`)
	if err != nil {
		return nil, fmt.Errorf("querying album members: %w", err)
	}
	defer rows.Close()

	var members []types.AlbumMember
	for rows.Next() {
		var m types.AlbumMember
		if err := rows.Scan(&m.Path, &m.Album); err != nil {
			return nil, fmt.Errorf("scanning album member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func queryTagged(ctx context.Context, tx *sql.Tx) ([]types.PhotoTag, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.path, t.name FROM photo_tags pt
		 JOIN photos p ON p.id = pt.photo_id
		 JOIN tags t ON t.id = pt.tag_id
		 ORDER BY p.path, t.name`)
	if err != nil {
		return nil, fmt.Errorf("querying photo tags: %w", err)
	}
	defer rows.Close()

	var tagged []types.PhotoTag
	for rows.Next() {
		var pt types.PhotoTag
		if err := rows.Scan(&pt.Path, &pt.Tag); err != nil {
			return nil, fmt.Errorf("scanning photo tag: %w", err)
		}
		tagged = append(tagged, pt)
	}
	return tagged, rows.Err()
}
