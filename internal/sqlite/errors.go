package sqlite

import (
	"errors"
	"io/fs"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// classify turns a database error raised while applying op into a
// *types.StoreError. Errors that are already StoreErrors pass through.
func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *types.StoreError
	if errors.As(err, &se) {
		return err
	}

	if errors.Is(err, types.ErrPhotoNotFound) || errors.Is(err, types.ErrAlbumNotFound) {
		return types.Conflict(s.name, op, err)
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return types.Conflict(s.name, op, err)
		default:
			// IOERR, CANTOPEN, FULL, BUSY, LOCKED, INTERRUPT and friends
			// all mean the store cannot currently take the write.
			return types.Unreachable(s.name, op, err)
		}
	}

	// Context expiry, closed handles (sql.ErrConnDone, sql.ErrTxDone) and
	// a closed store are disconnections too; a timeout is the same signal
	// as an unplugged drive.
	return types.Unreachable(s.name, op, err)
}

// classifyFS turns an error from the staged filesystem step into a
// *types.StoreError. A missing source or occupied destination is a
// filesystem conflict; everything else is an I/O failure.
func (s *Store) classifyFS(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
		return types.FSConflict(s.name, op, err)
	}
	return types.Unreachable(s.name, op, err)
}
