package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/photovault/internal/config"
	"github.com/mesh-intelligence/photovault/internal/coordinator"
	"github.com/mesh-intelligence/photovault/internal/logging"
	"github.com/mesh-intelligence/photovault/internal/queue"
	"github.com/mesh-intelligence/photovault/pkg/sqlite"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

// app is the per-invocation wiring of config, logger, stores and
// coordinator.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	closeLog func() error
	primary  sqlite.Store
	coord    *coordinator.Coordinator
}

func loadConfig() (config.Config, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return config.Config{}, sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := config.Load(dir)
	if err != nil {
		if errors.Is(err, types.ErrInvalidConfig) {
			return config.Config{}, userError(err)
		}
		return config.Config{}, sysError(err)
	}
	return cfg, nil
}

// openApp loads configuration, opens both stores and the retry queue, and
// runs crash recovery. A backup that cannot be opened is left detached;
// its mutations queue until it returns. The caller must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, sysError(err)
	}

	primary, err := sqlite.Open(cfg.PrimaryStore())
	if err != nil {
		closeLog()
		return nil, sysError(fmt.Errorf("open primary: %w", err))
	}

	var (
		backup     types.Store
		openBackup func() (types.Store, error)
	)
	if sc, ok := cfg.BackupStore(); ok {
		openBackup = func() (types.Store, error) { return sqlite.Open(sc) }
		if backup, err = openBackup(); err != nil {
			log.WithError(err).Warn("backup unavailable, changes will be queued")
			backup = nil
		}
	}

	q, err := queue.Open(cfg.QueueFile)
	if err != nil {
		primary.Close()
		if backup != nil {
			backup.Close()
		}
		closeLog()
		return nil, sysError(fmt.Errorf("open retry queue: %w", err))
	}

	coord, err := coordinator.New(primary, backup, q, coordinator.Config{
		Logger:        log,
		BackupTimeout: cfg.BackupTimeout,
		MaxQueueDepth: cfg.MaxQueueDepth,
		FlushInterval: cfg.FlushInterval,
		OpenBackup:    openBackup,
	})
	if err != nil {
		primary.Close()
		closeLog()
		return nil, sysError(err)
	}

	a := &app{cfg: cfg, log: log, closeLog: closeLog, primary: primary, coord: coord}
	if _, err := coord.Recover(ctx); err != nil {
		a.close()
		return nil, sysError(fmt.Errorf("recover: %w", err))
	}
	return a, nil
}

func (a *app) close() error {
	err := a.coord.Close()
	if cerr := a.closeLog(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// submit sends m through the coordinator and reports whether the backup
// is lagging.
func (a *app) submit(ctx context.Context, cmd *cobra.Command, m types.Mutation, done string) error {
	if err := a.coord.Submit(ctx, m); err != nil {
		return classify(err)
	}
	if flags.jsonMode {
		return printJSON(cmd, map[string]any{
			"kind":    m.Kind(),
			"status":  "applied",
			"pending": a.coord.QueueDepth(),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), done)
	if n := a.coord.QueueDepth(); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "backup pending: %d change(s) queued\n", n)
	}
	return nil
}
