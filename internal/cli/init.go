package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/photovault/internal/config"
	"github.com/mesh-intelligence/photovault/pkg/sqlite"
)

type initFlags struct {
	primaryRoot string
	backupRoot  string
}

func newInitCmd() *cobra.Command {
	var f initFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize photovault configuration and the primary store",
		Long: "Write config.yaml if missing, record the given roots, and create the\n" +
			"primary store. The backup store is initialized when its root exists.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.primaryRoot, "primary-root", "", "primary library root")
	cmd.Flags().StringVar(&f.backupRoot, "backup-root", "", "backup library root, usually on a removable drive")
	return cmd
}

func runInit(cmd *cobra.Command, f initFlags) error {
	dir, err := resolveConfigDir()
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	if err := config.WriteDefault(dir); err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}
	for key, v := range map[string]string{config.KeyPrimaryRoot: f.primaryRoot, config.KeyBackupRoot: f.backupRoot} {
		if v == "" {
			continue
		}
		abs, err := filepath.Abs(v)
		if err != nil {
			return userError(fmt.Errorf("resolve %s: %w", key, err))
		}
		if err := config.Set(dir, key, abs); err != nil {
			return sysError(fmt.Errorf("write config: %w", err))
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	primary, err := sqlite.Open(cfg.PrimaryStore())
	if err != nil {
		return sysError(fmt.Errorf("initialize primary: %w", err))
	}
	if err := primary.Close(); err != nil {
		return sysError(fmt.Errorf("finalize primary: %w", err))
	}

	backupState := "not configured"
	if sc, ok := cfg.BackupStore(); ok {
		backupState = "not mounted"
		if b, err := sqlite.Open(sc); err == nil {
			b.Close()
			backupState = "ready"
		}
	}

	if flags.jsonMode {
		return printJSON(cmd, map[string]string{
			"config_dir":   dir,
			"primary_root": cfg.PrimaryRoot,
			"backup_root":  cfg.BackupRoot,
			"backup":       backupState,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "photovault initialized")
	fmt.Fprintf(out, "  config:  %s\n", filepath.Join(dir, "config.yaml"))
	fmt.Fprintf(out, "  primary: %s\n", cfg.PrimaryRoot)
	if cfg.BackupRoot != "" {
		fmt.Fprintf(out, "  backup:  %s (%s)\n", cfg.BackupRoot, backupState)
	} else {
		fmt.Fprintf(out, "  backup:  %s\n", backupState)
	}
	return nil
}
