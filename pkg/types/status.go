package types

import "time"

// State is the coordinator's position in its submit/flush state machine.
type State int32

// Coordinator states.
const (
	StateIdle State = iota
	StateApplyingPrimary
	StateApplyingBackup
	StateQueueing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplyingPrimary:
		return "applying_primary"
	case StateApplyingBackup:
		return "applying_backup"
	case StateQueueing:
		return "queueing"
	default:
		return "unknown"
	}
}

// FlushReport summarizes one drain of the retry queue.
type FlushReport struct {
	// Mirrored counts mutations applied to the backup and removed from the
	// queue during this flush.
	Mirrored int `json:"mirrored"`
	// Pending is the queue depth after the flush.
	Pending int `json:"pending"`
	// FailedID is the mutation id left at the head after a failure.
	FailedID string `json:"failed_id,omitempty"`
	// LastError is the backup failure that stopped the sweep, if any.
	LastError error `json:"-"`
}

// SyncStatus is a point-in-time view of both stores and the queue.
type SyncStatus struct {
	PrimaryConnected  bool       `json:"primary_connected"`
	BackupConfigured  bool       `json:"backup_configured"`
	BackupConnected   bool       `json:"backup_connected"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	InSync            bool       `json:"is_in_sync"`
	PendingOperations int        `json:"pending_operations"`
	State             string     `json:"state"`
}
