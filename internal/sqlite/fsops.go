package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
)

// fsStep is the non-transactional half of an Apply. do runs before the data
// transaction commits; undo reverses do when the commit fails; finish runs
// after a successful commit.
type fsStep interface {
	do() error
	undo() error
	finish()
}

// noopStep is used by index-only mutations and by filesystem mutations that
// are already reflected on disk.
type noopStep struct{}

func (noopStep) do() error   { return nil }
func (noopStep) undo() error { return nil }
func (noopStep) finish()     {}

// renameStep moves a file or directory within the store root.
type renameStep struct {
	from, to string
}

func (r renameStep) do() error {
	if err := os.MkdirAll(filepath.Dir(r.to), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", r.to, err)
	}
	// os.Rename replaces an existing destination on Unix, so re-check
	// immediately before the call.
	if _, err := os.Lstat(r.to); err == nil {
		return fmt.Errorf("rename %s: destination %w", r.to, os.ErrExist)
	}
	return os.Rename(r.from, r.to)
}

func (r renameStep) undo() error { return os.Rename(r.to, r.from) }

func (renameStep) finish() {}

// trashStep stages a delete by moving the file into the store's trash
// directory. The file is only unlinked once the index commit has succeeded.
type trashStep struct {
	path, trash string
}

func (t trashStep) do() error { return os.Rename(t.path, t.trash) }

func (t trashStep) undo() error { return os.Rename(t.trash, t.path) }

func (t trashStep) finish() { _ = os.RemoveAll(t.trash) }

// osLstat is os.Lstat with a missing path reported as a nil FileInfo.
func osLstat(p string) (os.FileInfo, error) {
	info, err := os.Lstat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return info, err
}

// exists reports whether p exists. Errors other than not-exist are returned
// so that an unreadable drive is not mistaken for an applied mutation.
func exists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
