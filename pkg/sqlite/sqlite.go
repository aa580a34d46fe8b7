// Package sqlite provides the public API for the SQLite-indexed photovault
// store while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/photovault/internal/sqlite"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Store is a photovault store together with its read-side catalog.
type Store interface {
	types.Store
	types.Catalog
}

// Open opens the store described by cfg. A root that does not exist is
// reported as ErrStoreUnreachable unless cfg.CreateRoot is set.
//
// Example:
//
//	primary, err := sqlite.Open(types.StoreConfig{
//	    Name:       types.PrimaryStore,
//	    Root:       "/srv/photos",
//	    CreateRoot: true,
//	})
//	defer primary.Close()
func Open(cfg types.StoreConfig) (Store, error) {
	s, err := sqlite.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
