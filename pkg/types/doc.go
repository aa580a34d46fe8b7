// Package types defines the mutation records, media entities, store and
// operation-log interfaces, and sentinel errors shared by the photovault
// stores and the sync coordinator.
package types
