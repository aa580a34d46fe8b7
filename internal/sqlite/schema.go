package sqlite

// Schema DDL. Every statement is idempotent so Open can run it against an
// existing store.
const (
	createPhotos = `CREATE TABLE IF NOT EXISTS photos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    file_size INTEGER,
    date_taken TEXT,
    width INTEGER,
    height INTEGER,
    format TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);`

	createAlbums = `CREATE TABLE IF NOT EXISTS albums (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);`

	createTags = `CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);`

	createPhotoAlbums = `CREATE TABLE IF NOT EXISTS photo_albums (
    photo_id INTEGER NOT NULL,
    album_id INTEGER NOT NULL,
    PRIMARY KEY (photo_id, album_id),
    FOREIGN KEY (photo_id) REFERENCES photos(id),
    FOREIGN KEY (album_id) REFERENCES albums(id)
);`

	createPhotoTags = `CREATE TABLE IF NOT EXISTS photo_tags (
    photo_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (photo_id, tag_id),
    FOREIGN KEY (photo_id) REFERENCES photos(id),
    FOREIGN KEY (tag_id) REFERENCES tags(id)
);`

	createSyncOperations = `CREATE TABLE IF NOT EXISTS sync_operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mutation_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    operation TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
    error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`
)

// Index DDL for common queries.
const (
	idxPhotoAlbumsAlbum       = `CREATE INDEX IF NOT EXISTS idx_photo_albums_album ON photo_albums(album_id);`
	idxPhotoTagsTag           = `CREATE INDEX IF NOT EXISTS idx_photo_tags_tag ON photo_tags(tag_id);`
	idxSyncOperationsStatus   = `CREATE INDEX IF NOT EXISTS idx_sync_operations_status ON sync_operations(status);`
	idxSyncOperationsMutation = `CREATE INDEX IF NOT EXISTS idx_sync_operations_mutation ON sync_operations(mutation_id);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createPhotos,
	createAlbums,
	createTags,
	createPhotoAlbums,
	createPhotoTags,
	createSyncOperations,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxPhotoAlbumsAlbum,
	idxPhotoTagsTag,
	idxSyncOperationsStatus,
	idxSyncOperationsMutation,
}
