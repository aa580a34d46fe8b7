package types

import "time"

// Photo is an indexed media item. Path is relative to the store root and is
// unique within a store.
type Photo struct {
	ID        int64      `json:"id,omitempty"`
	Path      string     `json:"path"`
	Filename  string     `json:"filename"`
	FileSize  int64      `json:"file_size,omitempty"`
	DateTaken *time.Time `json:"date_taken,omitempty"`
	Width     int64      `json:"width,omitempty"`
	Height    int64      `json:"height,omitempty"`
	Format    string     `json:"format,omitempty"`
}

// Album groups photos. Names are unique within a store.
type Album struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a free-form label attached to photos.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AlbumMember links a photo path to an album name.
type AlbumMember struct {
	Path  string `json:"path"`
	Album string `json:"album"`
}

// PhotoTag links a photo path to a tag name.
type PhotoTag struct {
	Path string `json:"path"`
	Tag  string `json:"tag"`
}

// Snapshot is the full catalog of a store, ordered by id. Membership rows are
// keyed by path and name so two stores can be compared directly.
type Snapshot struct {
	Photos  []Photo       `json:"photos"`
	Albums  []Album       `json:"albums"`
	Tags    []Tag         `json:"tags"`
	Members []AlbumMember `json:"members"`
	Tagged  []PhotoTag    `json:"tagged"`
}
