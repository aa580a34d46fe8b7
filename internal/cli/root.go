// Package cli implements the photovault command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/photovault/internal/paths"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	jsonMode  bool
}

var flags rootFlags

// NewRootCmd creates the top-level "photovault" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}

	root := &cobra.Command{
		Use:   "photovault",
		Short: "Keep a photo library mirrored on a backup drive",
		Long: "photovault applies library changes to the primary store and mirrors them\n" +
			"to a backup store, queueing changes while the backup is away.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/photovault)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newFlushCmd())
	root.AddCommand(newRecoverCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newMoveCmd())
	root.AddCommand(newRenameCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newTagCmd())
	root.AddCommand(newAlbumCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "photovault:", err)
	stop()
	os.Exit(exitCode(err))
}

// exitError carries an exit code with the error that caused it.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// exitCode maps err to a process exit code. Errors from cobra itself, such
// as unknown flags, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// classify wraps a failure from the coordinator or a store with the exit
// code it deserves: bad input and conflicts are the caller's problem,
// everything else is a system error.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrInvalidMutation),
		errors.Is(err, types.ErrLogicalConflict),
		errors.Is(err, types.ErrPhotoNotFound),
		errors.Is(err, types.ErrAlbumNotFound):
		return userError(err)
	default:
		return sysError(err)
	}
}

// resolveConfigDir returns the configuration directory following the
// --config-dir flag > PHOTOVAULT_CONFIG_DIR env > default precedence.
func resolveConfigDir() (string, error) {
	return paths.ResolveConfigDir(flags.configDir)
}
