package types

import (
	"context"
	"time"
)

// Operation log statuses. An entry is written as OpPending before any side
// effect and transitions exactly once to OpCompleted or OpFailed.
const (
	OpPending   = "pending"
	OpCompleted = "completed"
	OpFailed    = "failed"
)

// ValidOpStatus reports whether s is a recognized operation status.
func ValidOpStatus(s string) bool {
	switch s {
	case OpPending, OpCompleted, OpFailed:
		return true
	}
	return false
}

// LogEntry is one row of a store's operation log.
type LogEntry struct {
	ID         int64        `json:"id"`
	MutationID string       `json:"mutation_id"`
	Kind       MutationKind `json:"kind"`
	Mutation   []byte       `json:"mutation"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Decode returns the Mutation stored in the entry.
func (e LogEntry) Decode() (Mutation, error) {
	return DecodeMutation(e.Mutation)
}

// LogFilter narrows OperationLog.Entries. Zero values match everything.
type LogFilter struct {
	Status     string
	MutationID string
	Limit      int
}

// OperationLog is an append-only per-store journal of attempted mutations.
// Prior entries are never modified except for the single pending to
// completed/failed transition of an entry.
type OperationLog interface {
	// Record appends a pending entry for env and returns its id.
	Record(ctx context.Context, env Envelope) (int64, error)

	// Resolve moves a pending entry to OpCompleted or OpFailed. cause is
	// stored as the entry's error text when non-nil. Returns
	// ErrLogEntryResolved if the entry is no longer pending.
	Resolve(ctx context.Context, id int64, status string, cause error) error

	// Entries lists entries matching filter in id order.
	Entries(ctx context.Context, filter LogFilter) ([]LogEntry, error)

	// Pending lists entries left pending, oldest first.
	Pending(ctx context.Context) ([]LogEntry, error)
}
