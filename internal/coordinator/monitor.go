package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Monitor flushes the retry queue whenever the backup comes back. It
// watches the parent of backupRoot and reacts to backupRoot being created,
// which is what mounting a removable drive looks like, and also flushes
// every FlushInterval. When no backup is attached and Config.OpenBackup is
// set, the reconnect opens and attaches it first. Monitor blocks until ctx
// is cancelled.
func (c *Coordinator) Monitor(ctx context.Context, backupRoot string) error {
	backupRoot = filepath.Clean(backupRoot)
	parent := filepath.Dir(backupRoot)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(parent); err != nil {
		return fmt.Errorf("failed to watch %s: %w", parent, err)
	}

	log := c.log.WithField("backup_root", backupRoot)
	log.Info("monitoring backup")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != backupRoot || !ev.Has(fsnotify.Create) {
					continue
				}
				log.Info("backup root appeared")
				c.reconnect(ctx)
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.WithError(err).Warn("watcher error")
			}
		}
	})

	if c.cfg.FlushInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.cfg.FlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if c.QueueDepth() > 0 || c.Backup() == nil {
						c.reconnect(ctx)
					}
				}
			}
		})
	}

	return g.Wait()
}

// reconnect attaches the backup if needed and flushes the queue. A flush
// that finds the attached backup unreachable reopens it through
// Config.OpenBackup, since a drive remounted at the same root needs a fresh
// handle.
func (c *Coordinator) reconnect(ctx context.Context) {
	if c.Backup() == nil {
		c.openAndAttach(ctx)
		return
	}

	report, err := c.Flush(ctx)
	if err != nil {
		c.log.WithError(err).Debug("flush interrupted")
		return
	}
	if report.LastError == nil {
		return
	}
	if errors.Is(report.LastError, types.ErrStoreUnreachable) && c.cfg.OpenBackup != nil {
		c.log.WithError(report.LastError).Debug("backup unreachable, reopening")
		c.openAndAttach(ctx)
		return
	}
	c.log.WithError(report.LastError).WithField("depth", report.Pending).Debug("backup not ready")
}

// openAndAttach opens the backup through Config.OpenBackup, installs it in
// place of any current backup, and closes the one it replaced.
func (c *Coordinator) openAndAttach(ctx context.Context) {
	if c.cfg.OpenBackup == nil {
		return
	}
	s, err := c.cfg.OpenBackup()
	if err != nil {
		c.log.WithError(err).Debug("backup still unavailable")
		return
	}
	prev, report, err := c.AttachBackup(ctx, s)
	if prev != nil {
		prev.Close()
	}
	switch {
	case errors.Is(err, types.ErrCoordinatorClosed):
		s.Close()
	case err != nil:
		c.log.WithError(err).Debug("flush after attach interrupted")
	case report.LastError != nil:
		c.log.WithError(report.LastError).WithField("depth", report.Pending).Warn("flush after attach stopped")
	}
}
