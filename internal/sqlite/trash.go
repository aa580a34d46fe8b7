package sqlite

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// SweepTrash removes everything staged in the trash directory and returns
// how many entries it removed. A delete that stopped between staging the
// file and committing the index leaves its file there; once the pending
// entry has been resolved nothing refers to it.
func (s *Store) SweepTrash(ctx context.Context) (int, error) {
	const op = "sweep_trash"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reachableLocked(ctx); err != nil {
		return 0, types.Unreachable(s.name, op, err)
	}

	dir := filepath.Join(s.root, types.ReservedDir, trashDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, types.Unreachable(s.name, op, err)
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, types.Unreachable(s.name, op, err)
		}
		removed++
	}
	return removed, nil
}
