// Package paths resolves the configuration directory and the default
// primary library location.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "photovault"

// DefaultLibraryDirName is the directory under the data directory that
// holds the primary library when no root is configured.
const DefaultLibraryDirName = "library"

// Environment variable names for directory overrides.
const (
	EnvConfigDir   = "PHOTOVAULT_CONFIG_DIR"
	EnvPrimaryRoot = "PHOTOVAULT_PRIMARY_ROOT"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/photovault (fallback ~/.config/photovault)
// macOS:   ~/Library/Application Support/photovault
// Windows: %APPDATA%/photovault
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/photovault (fallback ~/.local/share/photovault)
// macOS:   ~/Library/Application Support/photovault
// Windows: %APPDATA%/photovault
func DefaultDataDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", appName), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > PHOTOVAULT_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolvePrimaryRoot returns the primary library root following the
// precedence chain: configured value > PHOTOVAULT_PRIMARY_ROOT env >
// DefaultDataDir()/library. The result is always absolute.
func ResolvePrimaryRoot(configured string) (string, error) {
	if configured != "" {
		return filepath.Abs(configured)
	}
	if env := os.Getenv(EnvPrimaryRoot); env != "" {
		return filepath.Abs(env)
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultLibraryDirName), nil
}
