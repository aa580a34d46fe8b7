package types

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// MutationKind names a Mutation variant. It is the discriminator used in the
// serialized form stored by operation logs and the retry queue.
type MutationKind string

// Mutation kinds.
const (
	KindMove          MutationKind = "move"
	KindRename        MutationKind = "rename"
	KindDelete        MutationKind = "delete"
	KindCreateAlbum   MutationKind = "create_album"
	KindDeleteAlbum   MutationKind = "delete_album"
	KindAttachToAlbum MutationKind = "attach_to_album"
	KindAttachTag     MutationKind = "attach_tag"
	KindAddPhoto      MutationKind = "add_photo"
)

// Mutation describes a single change to apply to a store. The set of
// implementations is closed: only the variant types in this package satisfy
// it. A Mutation is self-describing, so replaying it against a store that has
// seen the same prior history reproduces the same end state.
type Mutation interface {
	// Kind returns the variant discriminator.
	Kind() MutationKind
	// Validate checks the mutation's fields without touching any store.
	Validate() error

	sealed()
}

// Move relocates a file. To is the full destination path relative to the
// store root; missing parent directories are created.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Rename renames a file in place. NewName is a bare file name.
type Rename struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

// Delete removes a file and its indexed row.
type Delete struct {
	Path string `json:"path"`
}

// CreateAlbum creates an album. Album names are unique per store.
type CreateAlbum struct {
	Name string `json:"name"`
}

// DeleteAlbum removes an album and its membership rows.
type DeleteAlbum struct {
	AlbumID int64 `json:"album_id"`
}

// AttachToAlbum adds a photo to an album.
type AttachToAlbum struct {
	PhotoID int64 `json:"photo_id"`
	AlbumID int64 `json:"album_id"`
}

// AttachTag finds or creates the named tag and associates it with a photo.
type AttachTag struct {
	PhotoID int64  `json:"photo_id"`
	TagName string `json:"tag_name"`
}

// AddPhoto indexes a newly discovered media item.
type AddPhoto struct {
	Photo Photo `json:"photo"`
}

func (Move) Kind() MutationKind          { return KindMove }
func (Rename) Kind() MutationKind        { return KindRename }
func (Delete) Kind() MutationKind        { return KindDelete }
func (CreateAlbum) Kind() MutationKind   { return KindCreateAlbum }
func (DeleteAlbum) Kind() MutationKind   { return KindDeleteAlbum }
func (AttachToAlbum) Kind() MutationKind { return KindAttachToAlbum }
func (AttachTag) Kind() MutationKind     { return KindAttachTag }
func (AddPhoto) Kind() MutationKind      { return KindAddPhoto }

func (Move) sealed()          {}
func (Rename) sealed()        {}
func (Delete) sealed()        {}
func (CreateAlbum) sealed()   {}
func (DeleteAlbum) sealed()   {}
func (AttachToAlbum) sealed() {}
func (AttachTag) sealed()     {}
func (AddPhoto) sealed()      {}

// Validate checks both paths and rejects a move onto itself.
func (m Move) Validate() error {
	if err := ValidatePath(m.From); err != nil {
		return fmt.Errorf("move from: %w", err)
	}
	if err := ValidatePath(m.To); err != nil {
		return fmt.Errorf("move to: %w", err)
	}
	if path.Clean(m.From) == path.Clean(m.To) {
		return fmt.Errorf("%w: move source and destination are the same", ErrInvalidMutation)
	}
	return nil
}

// Validate checks the source path and that NewName has no separators.
func (m Rename) Validate() error {
	if err := ValidatePath(m.Path); err != nil {
		return fmt.Errorf("rename path: %w", err)
	}
	if m.NewName == "" || m.NewName == "." || m.NewName == ".." || strings.ContainsAny(m.NewName, `/\`) {
		return fmt.Errorf("%w: invalid new name %q", ErrInvalidMutation, m.NewName)
	}
	if path.Base(path.Clean(m.Path)) == m.NewName {
		return fmt.Errorf("%w: rename to the same name", ErrInvalidMutation)
	}
	return nil
}

// Destination returns the path the renamed file ends up at.
func (m Rename) Destination() string {
	return path.Join(path.Dir(path.Clean(m.Path)), m.NewName)
}

func (m Delete) Validate() error {
	if err := ValidatePath(m.Path); err != nil {
		return fmt.Errorf("delete path: %w", err)
	}
	return nil
}

func (m CreateAlbum) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: album name must not be empty", ErrInvalidMutation)
	}
	return nil
}

func (m DeleteAlbum) Validate() error {
	if m.AlbumID <= 0 {
		return fmt.Errorf("%w: album id must be positive", ErrInvalidMutation)
	}
	return nil
}

func (m AttachToAlbum) Validate() error {
	if m.PhotoID <= 0 || m.AlbumID <= 0 {
		return fmt.Errorf("%w: photo and album ids must be positive", ErrInvalidMutation)
	}
	return nil
}

func (m AttachTag) Validate() error {
	if m.PhotoID <= 0 {
		return fmt.Errorf("%w: photo id must be positive", ErrInvalidMutation)
	}
	if strings.TrimSpace(m.TagName) == "" {
		return fmt.Errorf("%w: tag name must not be empty", ErrInvalidMutation)
	}
	return nil
}

func (m AddPhoto) Validate() error {
	if err := ValidatePath(m.Photo.Path); err != nil {
		return fmt.Errorf("photo path: %w", err)
	}
	return nil
}

// ValidatePath checks that p is a relative, slash-separated path that stays
// inside the store root.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidMutation)
	}
	if strings.Contains(p, `\`) {
		return fmt.Errorf("%w: path %q must use forward slashes", ErrInvalidMutation, p)
	}
	if path.IsAbs(p) {
		return fmt.Errorf("%w: path %q must be relative to the store root", ErrInvalidMutation, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: path %q escapes the store root", ErrInvalidMutation, p)
	}
	if clean == ReservedDir || strings.HasPrefix(clean, ReservedDir+"/") {
		return fmt.Errorf("%w: path %q is inside the reserved %s directory", ErrInvalidMutation, p, ReservedDir)
	}
	return nil
}

// ReservedDir is the directory under each store root that holds the index
// database and staging area. Mutations may not address it.
const ReservedDir = ".photovault"

// mutationJSON is the serialized form of a Mutation.
type mutationJSON struct {
	Kind MutationKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMutation serializes m together with its kind.
func EncodeMutation(m Mutation) ([]byte, error) {
	if m == nil {
		return nil, ErrUnknownMutation
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Kind(), err)
	}
	return json.Marshal(mutationJSON{Kind: m.Kind(), Data: data})
}

// DecodeMutation is the inverse of EncodeMutation.
func DecodeMutation(raw []byte) (Mutation, error) {
	var env mutationJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal mutation: %w", err)
	}
	var (
		m   Mutation
		err error
	)
	switch env.Kind {
	case KindMove:
		var v Move
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindRename:
		var v Rename
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindDelete:
		var v Delete
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindCreateAlbum:
		var v CreateAlbum
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindDeleteAlbum:
		var v DeleteAlbum
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindAttachToAlbum:
		var v AttachToAlbum
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindAttachTag:
		var v AttachTag
		err = json.Unmarshal(env.Data, &v)
		m = v
	case KindAddPhoto:
		var v AddPhoto
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutation, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return m, nil
}

// Envelope carries a Mutation through the coordinator. ID correlates the
// primary log entry, the backup log entry, and the retry queue item for one
// submission.
type Envelope struct {
	ID          string
	Mutation    Mutation
	SubmittedAt time.Time
}
