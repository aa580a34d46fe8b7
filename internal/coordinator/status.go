package coordinator

import (
	"context"
	"time"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// statusPingTimeout bounds each store ping made by Status.
const statusPingTimeout = 5 * time.Second

// Status reports store reachability and queue state. It does not take the
// coordinator lock, so a submission or flush in progress does not hold it
// up. Each reachability check goes through the store, though, and waits
// behind any store call already running there for up to statusPingTimeout.
func (c *Coordinator) Status(ctx context.Context) types.SyncStatus {
	st := types.SyncStatus{
		PendingOperations: c.queue.Len(),
		State:             c.State().String(),
	}

	st.PrimaryConnected = ping(ctx, c.primary)

	c.refMu.RLock()
	backup := c.backup
	lastSync := c.lastSync
	c.refMu.RUnlock()

	// A backup that can be opened later counts as configured.
	st.BackupConfigured = backup != nil || c.cfg.OpenBackup != nil
	if backup != nil {
		st.BackupConnected = ping(ctx, backup)
	}
	if !lastSync.IsZero() {
		st.LastSync = &lastSync
	}
	st.InSync = st.BackupConnected && st.PendingOperations == 0
	return st
}

func ping(ctx context.Context, s types.Store) bool {
	ctx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()
	return s.Ping(ctx) == nil
}
