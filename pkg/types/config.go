package types

import (
	"errors"
	"path/filepath"
)

// StoreConfig holds the parameters for opening a Store.
type StoreConfig struct {
	Name string `json:"name" yaml:"name"`
	Root string `json:"root" yaml:"root"`
	// CreateRoot creates Root when it does not exist. A backup drive that
	// is not mounted must not be recreated on the host disk, so this is
	// normally false for backups.
	CreateRoot bool `json:"create_root" yaml:"create_root"`
}

// Store config validation errors.
var (
	ErrStoreNameEmpty    = errors.New("store name must not be empty")
	ErrStoreRootEmpty    = errors.New("store root must not be empty")
	ErrStoreRootRelative = errors.New("store root must be an absolute path")
)

// Validate checks that the StoreConfig is well-formed.
func (c StoreConfig) Validate() error {
	if c.Name == "" {
		return ErrStoreNameEmpty
	}
	if c.Root == "" {
		return ErrStoreRootEmpty
	}
	if !filepath.IsAbs(c.Root) {
		return ErrStoreRootRelative
	}
	return nil
}
