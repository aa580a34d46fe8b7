package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/photovault/internal/queue"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

// errInterrupted is stored on log entries whose mutation did not take
// effect before the process stopped.
var errInterrupted = errors.New("interrupted")

// RecoveryReport summarizes one Recover run.
type RecoveryReport struct {
	PrimaryCompleted int `json:"primary_completed"`
	PrimaryFailed    int `json:"primary_failed"`
	BackupCompleted  int `json:"backup_completed"`
	BackupFailed     int `json:"backup_failed"`
	// Requeued counts mutations the primary holds that the backup lacks
	// and the queue did not know about.
	Requeued int `json:"requeued"`
	// Dequeued counts queue items the backup turned out to hold already.
	Dequeued int `json:"dequeued"`
	// TrashSwept counts staged deletes removed from both trash directories.
	TrashSwept int `json:"trash_swept"`
}

// Recover resolves operation log entries left pending by a crash and
// reconciles the retry queue with both logs. A pending entry whose mutation
// is visible in its store is re-applied (mutations are idempotent, so this
// only finishes the index half) and marked completed; any other pending
// entry is marked failed. Files a resolved delete left staged in a store's
// trash are then removed.
//
// When the backup is reachable the queue is rebuilt as every mutation the
// primary completed that the backup has not, in primary order. Otherwise
// only the primary's recovered mutations are appended.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var report RecoveryReport
	if c.closed {
		return report, types.ErrCoordinatorClosed
	}

	recovered, failed, err := c.resolvePending(ctx, c.primary)
	report.PrimaryCompleted, report.PrimaryFailed = len(recovered), failed
	if err != nil {
		return report, err
	}
	if err := c.sweepTrash(ctx, c.primary, &report); err != nil {
		return report, err
	}

	backup := c.Backup()
	backupReachable := backup != nil && backup.Ping(ctx) == nil
	if !backupReachable {
		for _, env := range recovered {
			if c.queue.Contains(env.ID) {
				continue
			}
			c.enqueue(c.log.WithField("mutation_id", env.ID), env, nil)
			report.Requeued++
		}
		c.logRecovery(report)
		return report, nil
	}

	backupRecovered, backupFailed, err := c.resolvePending(ctx, backup)
	report.BackupCompleted, report.BackupFailed = len(backupRecovered), backupFailed
	if err != nil {
		return report, err
	}
	if err := c.sweepTrash(ctx, backup, &report); err != nil {
		return report, err
	}

	requeued, dequeued, err := c.rebuildQueue(ctx, backup)
	report.Requeued, report.Dequeued = requeued, dequeued
	if err != nil {
		return report, err
	}
	c.logRecovery(report)
	return report, nil
}

func (c *Coordinator) logRecovery(r RecoveryReport) {
	if r == (RecoveryReport{}) {
		return
	}
	c.log.WithFields(logrus.Fields{
		"primary_completed": r.PrimaryCompleted,
		"primary_failed":    r.PrimaryFailed,
		"backup_completed":  r.BackupCompleted,
		"backup_failed":     r.BackupFailed,
		"requeued":          r.Requeued,
		"dequeued":          r.Dequeued,
		"trash_swept":       r.TrashSwept,
		"depth":             c.queue.Len(),
	}).Info("recovered interrupted operations")
}

func (c *Coordinator) sweepTrash(ctx context.Context, s types.Store, r *RecoveryReport) error {
	n, err := s.SweepTrash(ctx)
	r.TrashSwept += n
	if err != nil {
		return fmt.Errorf("sweeping %s trash: %w", s.Name(), err)
	}
	if n > 0 {
		c.log.WithFields(logrus.Fields{"store": s.Name(), "removed": n}).Info("swept staged deletes")
	}
	return nil
}

// resolvePending settles every pending entry of s, oldest first, and
// returns the envelopes that turned out to have been applied.
func (c *Coordinator) resolvePending(ctx context.Context, s types.Store) ([]types.Envelope, int, error) {
	pending, err := s.Pending(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("listing pending %s entries: %w", s.Name(), err)
	}

	var (
		recovered []types.Envelope
		failed    int
	)
	for _, e := range pending {
		log := c.log.WithFields(logrus.Fields{"store": s.Name(), "mutation_id": e.MutationID, "kind": e.Kind})

		m, err := e.Decode()
		if err != nil {
			log.WithError(err).Warn("undecodable pending entry")
			if err := s.Resolve(ctx, e.ID, types.OpFailed, err); err != nil {
				return recovered, failed, err
			}
			failed++
			continue
		}

		applied, err := s.Verify(ctx, m)
		if err != nil {
			return recovered, failed, err
		}
		if applied {
			if err := s.Apply(ctx, m); err != nil {
				return recovered, failed, err
			}
			if err := s.Resolve(ctx, e.ID, types.OpCompleted, nil); err != nil {
				return recovered, failed, err
			}
			recovered = append(recovered, types.Envelope{ID: e.MutationID, Mutation: m, SubmittedAt: e.CreatedAt})
			log.Info("pending entry recovered as completed")
			continue
		}

		if err := s.Resolve(ctx, e.ID, types.OpFailed, errInterrupted); err != nil {
			return recovered, failed, err
		}
		failed++
		log.Info("pending entry marked failed")
	}
	return recovered, failed, nil
}

// rebuildQueue sets the queue to the primary's completed mutations that the
// backup has not completed, in primary order. Items already queued keep
// their attempt history.
func (c *Coordinator) rebuildQueue(ctx context.Context, backup types.Store) (int, int, error) {
	done, err := backup.Entries(ctx, types.LogFilter{Status: types.OpCompleted})
	if err != nil {
		return 0, 0, fmt.Errorf("listing completed backup entries: %w", err)
	}
	mirrored := make(map[string]bool, len(done))
	for _, e := range done {
		mirrored[e.MutationID] = true
	}

	accepted, err := c.primary.Entries(ctx, types.LogFilter{Status: types.OpCompleted})
	if err != nil {
		return 0, 0, fmt.Errorf("listing completed primary entries: %w", err)
	}

	existing := make(map[string]queue.Item, c.queue.Len())
	for _, it := range c.queue.Items() {
		existing[it.MutationID] = it
	}

	var (
		want     []queue.Item
		requeued int
		seen     = make(map[string]bool, len(accepted))
	)
	for _, e := range accepted {
		if mirrored[e.MutationID] || seen[e.MutationID] {
			continue
		}
		seen[e.MutationID] = true
		if it, ok := existing[e.MutationID]; ok {
			want = append(want, it)
			continue
		}
		want = append(want, queue.Item{
			MutationID: e.MutationID,
			Kind:       e.Kind,
			Mutation:   e.Mutation,
			EnqueuedAt: c.cfg.Now().UTC(),
		})
		requeued++
	}

	dequeued := 0
	for id := range existing {
		if !seen[id] {
			dequeued++
		}
	}

	if requeued == 0 && dequeued == 0 {
		return 0, 0, nil
	}
	if err := c.queue.Replace(want); err != nil {
		c.log.WithError(err).Error("retry queue not persisted")
	}
	return requeued, dequeued, nil
}
