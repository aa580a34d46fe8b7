package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/photovault/pkg/types"
)

func newMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Move a photo to another path in the library",
		Long:  "Paths are relative to the library root. <to> is the full destination path.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := types.Move{From: args[0], To: args[1]}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.submit(ctx, cmd, m, fmt.Sprintf("moved %s -> %s", m.From, m.To))
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a photo in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := types.Rename{Path: args[0], NewName: args[1]}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.submit(ctx, cmd, m, fmt.Sprintf("renamed %s -> %s", m.Path, m.Destination()))
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a photo and its index entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := types.Delete{Path: args[0]}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.submit(ctx, cmd, m, "deleted "+m.Path)
			})
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Index a file that is already in the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := args[0]
			if err := types.ValidatePath(rel); err != nil {
				return userError(err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				info, err := os.Stat(filepath.Join(a.cfg.PrimaryRoot, filepath.FromSlash(rel)))
				if err != nil {
					return userError(fmt.Errorf("stat %s: %w", rel, err))
				}
				if info.IsDir() {
					return userError(fmt.Errorf("%s is a directory", rel))
				}
				m := types.AddPhoto{Photo: photoFromFile(rel, info)}
				return a.submit(ctx, cmd, m, "indexed "+path.Clean(rel))
			})
		},
	}
}

// photoFromFile describes the file at rel. Dimensions and capture date are
// left for a later metadata pass.
func photoFromFile(rel string, info os.FileInfo) types.Photo {
	clean := path.Clean(rel)
	return types.Photo{
		Path:     clean,
		Filename: path.Base(clean),
		FileSize: info.Size(),
		Format:   strings.TrimPrefix(strings.ToLower(path.Ext(clean)), "."),
	}
}

func newTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <path> <tag>",
		Short: "Attach a tag to a photo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.primary.PhotoByPath(ctx, args[0])
				if err != nil {
					return classify(err)
				}
				m := types.AttachTag{PhotoID: p.ID, TagName: args[1]}
				return a.submit(ctx, cmd, m, fmt.Sprintf("tagged %s with %q", p.Path, m.TagName))
			})
		},
	}
}

func newAlbumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "album",
		Short: "Manage albums",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an album",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := types.CreateAlbum{Name: args[0]}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.submit(ctx, cmd, m, fmt.Sprintf("created album %q", m.Name))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an album; its photos are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				album, err := a.primary.AlbumByName(ctx, args[0])
				if err != nil {
					return classify(err)
				}
				return a.submit(ctx, cmd, types.DeleteAlbum{AlbumID: album.ID}, fmt.Sprintf("deleted album %q", album.Name))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <album> <path>",
		Short: "Add a photo to an album",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				album, err := a.primary.AlbumByName(ctx, args[0])
				if err != nil {
					return classify(err)
				}
				p, err := a.primary.PhotoByPath(ctx, args[1])
				if err != nil {
					return classify(err)
				}
				m := types.AttachToAlbum{PhotoID: p.ID, AlbumID: album.ID}
				return a.submit(ctx, cmd, m, fmt.Sprintf("added %s to %q", p.Path, album.Name))
			})
		},
	})
	return cmd
}
