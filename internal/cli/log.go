package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

type logFlags struct {
	store  string
	status string
	limit  int
}

func newLogCmd() *cobra.Command {
	var f logFlags
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List a store's operation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.status != "" && !types.ValidOpStatus(f.status) {
				return userError(fmt.Errorf("%w: %q", types.ErrInvalidStatus, f.status))
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var s types.OperationLog
				switch f.store {
				case types.PrimaryStore:
					s = a.coord.Primary()
				case types.BackupStore:
					b := a.coord.Backup()
					if b == nil {
						return sysError(fmt.Errorf("%w: backup is not attached", types.ErrStoreUnreachable))
					}
					s = b
				default:
					return userError(fmt.Errorf("unknown store %q (valid: primary, backup)", f.store))
				}

				entries, err := s.Entries(ctx, types.LogFilter{Status: f.status, Limit: f.limit})
				if err != nil {
					return classify(err)
				}
				if flags.jsonMode {
					return printJSON(cmd, entries)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tKIND\tMUTATION\tUPDATED\tERROR")
				for _, e := range entries {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						e.ID, e.Status, e.Kind, e.MutationID, e.UpdatedAt.Format(time.RFC3339), e.Error)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&f.store, "store", types.PrimaryStore, "store whose log to list (primary or backup)")
	cmd.Flags().StringVar(&f.status, "status", "", "only entries with this status (pending, completed, failed)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of entries (0 for all)")
	return cmd
}
