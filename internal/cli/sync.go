package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store connectivity and the retry queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				st := a.coord.Status(ctx)
				if flags.jsonMode {
					return printJSON(cmd, st)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "primary:  %s (connected: %s)\n", a.cfg.PrimaryRoot, yesNo(st.PrimaryConnected))
				if st.BackupConfigured {
					fmt.Fprintf(out, "backup:   %s (connected: %s)\n", a.cfg.BackupRoot, yesNo(st.BackupConnected))
				} else {
					fmt.Fprintln(out, "backup:   not configured")
				}
				fmt.Fprintf(out, "pending:  %d\n", st.PendingOperations)
				fmt.Fprintf(out, "in sync:  %s\n", yesNo(st.InSync))
				if st.LastSync != nil {
					fmt.Fprintf(out, "last sync: %s\n", st.LastSync.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay queued changes onto the backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.coord.Flush(ctx)
				if err != nil {
					return sysError(err)
				}
				if flags.jsonMode {
					out := map[string]any{"report": report}
					if report.LastError != nil {
						out["error"] = report.LastError.Error()
					}
					if err := printJSON(cmd, out); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "mirrored %d change(s), %d pending\n", report.Mirrored, report.Pending)
				}
				if report.LastError != nil {
					return sysError(fmt.Errorf("flush stopped at %s: %w", report.FailedID, report.LastError))
				}
				return nil
			})
		},
	}
}

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resolve operations left pending by a crash",
		Long: "Every command runs recovery on start. This command runs it on its own\n" +
			"and reports what a second pass found.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.coord.Recover(ctx)
				if err != nil {
					return sysError(err)
				}
				if flags.jsonMode {
					return printJSON(cmd, report)
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"primary: %d completed, %d failed\nbackup:  %d completed, %d failed\nqueue:   %d requeued, %d dequeued, %d pending\ntrash:   %d swept\n",
					report.PrimaryCompleted, report.PrimaryFailed,
					report.BackupCompleted, report.BackupFailed,
					report.Requeued, report.Dequeued, a.coord.QueueDepth(),
					report.TrashSwept)
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Flush queued changes whenever the backup drive is mounted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.cfg.BackupRoot == "" {
					return userError(errors.New("backup_root is not configured"))
				}
				a.log.WithField("pending", a.coord.QueueDepth()).Info("watching for backup")
				if err := a.coord.Monitor(ctx, a.cfg.BackupRoot); err != nil {
					return sysError(err)
				}
				return nil
			})
		},
	}
}
