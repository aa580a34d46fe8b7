// Package coordinator keeps a backup store in step with the authoritative
// primary store.
//
// Every mutation is applied to the primary first. When the primary succeeds
// the caller gets success regardless of what happens to the backup: a
// mutation the backup cannot take right now goes to the tail of an ordered
// retry queue, and Flush later replays the queue against the backup head
// first, stopping at the first failure so the backup never sees mutations
// out of order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/photovault/internal/queue"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultBackupTimeout = 30 * time.Second
	DefaultFlushInterval = time.Minute
)

// Config holds the coordinator tunables.
type Config struct {
	// Logger receives coordinator events. Defaults to the logrus standard
	// logger.
	Logger logrus.FieldLogger

	// BackupTimeout bounds each backup attempt. A backup that does not
	// answer in time is treated as disconnected.
	BackupTimeout time.Duration

	// MaxQueueDepth caps the retry queue; zero means unbounded. Submit
	// flushes once when the queue is full and refuses the mutation if it
	// is still full.
	MaxQueueDepth int

	// FlushInterval is how often Monitor retries the queue. Zero disables
	// the periodic flush.
	FlushInterval time.Duration

	// OpenBackup, when set, lets Monitor attach a backup that was not
	// reachable when the coordinator started.
	OpenBackup func() (types.Store, error)

	// Now is overridable in tests.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:        logrus.StandardLogger(),
		BackupTimeout: DefaultBackupTimeout,
		FlushInterval: DefaultFlushInterval,
		Now:           time.Now,
	}
}

// Coordinator routes mutations to the primary and backup stores. All
// mutating methods are serialized by one mutex; State, IsBusy and
// QueueDepth never block.
type Coordinator struct {
	mu      sync.Mutex
	primary types.Store
	queue   *queue.Queue
	cfg     Config
	log     logrus.FieldLogger
	closed  bool

	state atomic.Int32

	// refMu guards backup and lastSync for readers that must not wait on
	// mu. Writers hold both.
	refMu    sync.RWMutex
	backup   types.Store
	lastSync time.Time
}

// New returns a coordinator over primary and an optional backup. A nil
// queue is replaced by an in-memory one.
func New(primary, backup types.Store, q *queue.Queue, cfg Config) (*Coordinator, error) {
	if primary == nil {
		return nil, types.ErrNoPrimary
	}
	if q == nil {
		q = queue.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.BackupTimeout <= 0 {
		cfg.BackupTimeout = DefaultBackupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		primary: primary,
		backup:  backup,
		queue:   q,
		cfg:     cfg,
		log:     cfg.Logger.WithField("component", "coordinator"),
	}, nil
}

// State returns the current state machine position.
func (c *Coordinator) State() types.State {
	return types.State(c.state.Load())
}

// IsBusy reports whether a submission or flush is in progress.
func (c *Coordinator) IsBusy() bool {
	return c.State() != types.StateIdle
}

// QueueDepth returns the number of mutations awaiting the backup.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// Queue exposes the retry queue for inspection.
func (c *Coordinator) Queue() *queue.Queue {
	return c.queue
}

// Primary returns the primary store.
func (c *Coordinator) Primary() types.Store {
	return c.primary
}

// Backup returns the configured backup store, or nil.
func (c *Coordinator) Backup() types.Store {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	return c.backup
}

func (c *Coordinator) setState(s types.State) {
	c.state.Store(int32(s))
}

func (c *Coordinator) markSynced() {
	c.refMu.Lock()
	c.lastSync = c.cfg.Now()
	c.refMu.Unlock()
}

// Submit applies m to the primary and then, when possible, to the backup.
// A primary failure is returned and nothing is queued. Once the primary has
// accepted m, Submit returns nil: a backup that is absent, unreachable or
// rejects m only causes m to be queued.
func (c *Coordinator) Submit(ctx context.Context, m types.Mutation) error {
	if m == nil {
		return fmt.Errorf("%w: nil mutation", types.ErrInvalidMutation)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ErrCoordinatorClosed
	}

	if limit := c.cfg.MaxQueueDepth; limit > 0 && c.queue.Len() >= limit {
		c.flushLocked(ctx)
		if c.queue.Len() >= limit {
			return fmt.Errorf("%w: %d pending", types.ErrQueueFull, c.queue.Len())
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating mutation id: %w", err)
	}
	env := types.Envelope{ID: id.String(), Mutation: m, SubmittedAt: c.cfg.Now()}
	log := c.log.WithFields(logrus.Fields{"mutation_id": env.ID, "kind": m.Kind()})

	defer c.setState(types.StateIdle)

	c.setState(types.StateApplyingPrimary)
	if err := c.applyLogged(ctx, c.primary, env); err != nil {
		log.WithError(err).Warn("primary rejected mutation")
		return err
	}

	backup := c.Backup()
	var backupErr error
	switch {
	case backup == nil:
		log.Debug("no backup configured, queueing")
	case c.queue.Len() > 0:
		// Older mutations have not reached the backup yet.
		log.WithField("depth", c.queue.Len()).Debug("queue not empty, queueing behind it")
	default:
		c.setState(types.StateApplyingBackup)
		bctx, cancel := context.WithTimeout(ctx, c.cfg.BackupTimeout)
		backupErr = c.applyLogged(bctx, backup, env)
		cancel()
		if backupErr == nil {
			c.markSynced()
			log.Debug("mutation mirrored")
			return nil
		}
		log.WithError(backupErr).Warn("backup apply failed, queueing")
	}

	c.setState(types.StateQueueing)
	c.enqueue(log, env, backupErr)
	return nil
}

// enqueue appends env to the retry queue. The queue keeps the item in
// memory even when persisting it fails, so the failure is only logged.
func (c *Coordinator) enqueue(log logrus.FieldLogger, env types.Envelope, cause error) {
	it, err := queue.NewItem(env, c.cfg.Now())
	if err != nil {
		log.WithError(err).Error("cannot queue mutation")
		return
	}
	if cause != nil {
		it.Attempts = 1
		it.LastError = cause.Error()
	}
	if err := c.queue.PushBack(it); err != nil {
		log.WithError(err).Error("retry queue not persisted")
	}
	log.WithField("depth", c.queue.Len()).Info("mutation queued for backup")
}

// applyLogged records env as pending in s's operation log, applies it, and
// resolves the entry. Resolution uses a context detached from ctx's
// deadline so that a timed-out apply is still logged as failed.
func (c *Coordinator) applyLogged(ctx context.Context, s types.Store, env types.Envelope) error {
	entryID, err := s.Record(ctx, env)
	if err != nil {
		return err
	}

	applyErr := s.Apply(ctx, env.Mutation)

	status := types.OpCompleted
	if applyErr != nil {
		status = types.OpFailed
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BackupTimeout)
	defer cancel()
	if err := s.Resolve(rctx, entryID, status, applyErr); err != nil {
		c.log.WithFields(logrus.Fields{
			"store":       s.Name(),
			"mutation_id": env.ID,
			"entry":       entryID,
		}).WithError(err).Warn("operation log entry left pending")
	}
	return applyErr
}

// Flush replays queued mutations against the backup, head first. It stops
// at the first failure, leaving that mutation at the head. Backup failures
// are reported in the FlushReport; the returned error is non-nil only when
// ctx ends the flush early.
func (c *Coordinator) Flush(ctx context.Context) (types.FlushReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.FlushReport{Pending: c.queue.Len()}, types.ErrCoordinatorClosed
	}
	return c.flushLocked(ctx)
}

func (c *Coordinator) flushLocked(ctx context.Context) (types.FlushReport, error) {
	var report types.FlushReport
	backup := c.Backup()
	if backup == nil || c.queue.Len() == 0 {
		report.Pending = c.queue.Len()
		return report, nil
	}

	c.setState(types.StateApplyingBackup)
	defer c.setState(types.StateIdle)

	for {
		if err := ctx.Err(); err != nil {
			report.Pending = c.queue.Len()
			return report, err
		}
		head, ok := c.queue.Front()
		if !ok {
			break
		}
		log := c.log.WithFields(logrus.Fields{"mutation_id": head.MutationID, "kind": head.Kind})

		err := c.replay(ctx, backup, head)
		if err != nil {
			if perr := c.queue.MarkFailed(err); perr != nil {
				log.WithError(perr).Error("retry queue not persisted")
			}
			report.FailedID = head.MutationID
			report.LastError = err
			report.Pending = c.queue.Len()
			log.WithError(err).WithField("depth", report.Pending).Warn("flush stopped at head")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			return report, nil
		}

		if _, err := c.queue.PopFront(); err != nil {
			log.WithError(err).Error("retry queue not persisted")
		}
		report.Mirrored++
		c.markSynced()
		log.Debug("queued mutation mirrored")
	}

	report.Pending = c.queue.Len()
	if report.Mirrored > 0 {
		c.log.WithField("mirrored", report.Mirrored).Info("retry queue drained")
	}
	return report, nil
}

func (c *Coordinator) replay(ctx context.Context, backup types.Store, it queue.Item) error {
	env, err := it.Envelope()
	if err != nil {
		return types.Conflict(backup.Name(), string(it.Kind), err)
	}
	bctx, cancel := context.WithTimeout(ctx, c.cfg.BackupTimeout)
	defer cancel()
	return c.applyLogged(bctx, backup, env)
}

// AttachBackup installs s as the backup store and flushes the queue into
// it, so a backup added after the fact catches up with everything the
// primary accepted meanwhile. A previously attached backup is returned to
// the caller unclosed.
func (c *Coordinator) AttachBackup(ctx context.Context, s types.Store) (types.Store, types.FlushReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, types.FlushReport{}, types.ErrCoordinatorClosed
	}

	c.refMu.Lock()
	prev := c.backup
	c.backup = s
	c.refMu.Unlock()

	c.log.WithFields(logrus.Fields{"store": s.Name(), "depth": c.queue.Len()}).Info("backup attached")
	report, err := c.flushLocked(ctx)
	return prev, report, err
}

// DetachBackup removes the backup store and returns it unclosed. Later
// submissions queue until a backup is attached again.
func (c *Coordinator) DetachBackup() types.Store {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refMu.Lock()
	prev := c.backup
	c.backup = nil
	c.refMu.Unlock()

	if prev != nil {
		c.log.WithField("store", prev.Name()).Info("backup detached")
	}
	return prev
}

// Close closes both stores. The retry queue is already persisted after
// every change, so nothing is lost. Close is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	errs := []error{c.primary.Close()}
	if b := c.Backup(); b != nil {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
