package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the primary catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				snap, err := a.primary.Snapshot(ctx)
				if err != nil {
					return classify(err)
				}
				if flags.jsonMode {
					return printJSON(cmd, snap)
				}

				albums := map[string][]string{}
				for _, m := range snap.Members {
					albums[m.Path] = append(albums[m.Path], m.Album)
				}
				tags := map[string][]string{}
				for _, t := range snap.Tagged {
					tags[t.Path] = append(tags[t.Path], t.Tag)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATH\tSIZE\tALBUMS\tTAGS")
				for _, p := range snap.Photos {
					fmt.Fprintf(w, "%s\t%d\t%v\t%v\n", p.Path, p.FileSize, albums[p.Path], tags[p.Path])
				}
				if err := w.Flush(); err != nil {
					return sysError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d photo(s), %d album(s), %d tag(s)\n", len(snap.Photos), len(snap.Albums), len(snap.Tags))
				return nil
			})
		},
	}
}
