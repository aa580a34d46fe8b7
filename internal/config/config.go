// Package config loads photovault settings from config.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/photovault/internal/paths"
	"github.com/mesh-intelligence/photovault/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. PHOTOVAULT_BACKUP_ROOT
	// or PHOTOVAULT_LOG_LEVEL.
	EnvPrefix = "PHOTOVAULT"

	// QueueFileName is the default retry queue file under the primary
	// root's reserved directory.
	QueueFileName = "retry_queue.jsonl"
)

// Config keys.
const (
	KeyPrimaryRoot   = "primary_root"
	KeyBackupRoot    = "backup_root"
	KeyQueueFile     = "queue_file"
	KeyMaxQueueDepth = "max_queue_depth"
	KeyBackupTimeout = "backup_timeout"
	KeyFlushInterval = "flush_interval"
	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Config is the resolved photovault configuration.
type Config struct {
	PrimaryRoot   string        `mapstructure:"primary_root" yaml:"primary_root,omitempty"`
	BackupRoot    string        `mapstructure:"backup_root" yaml:"backup_root,omitempty"`
	QueueFile     string        `mapstructure:"queue_file" yaml:"queue_file,omitempty"`
	MaxQueueDepth int           `mapstructure:"max_queue_depth" yaml:"max_queue_depth"`
	BackupTimeout time.Duration `mapstructure:"backup_timeout" yaml:"backup_timeout"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	Log           LogConfig     `mapstructure:"log" yaml:"log"`
}

// Default returns the built-in configuration. Roots are left empty and
// filled in by Load.
func Default() Config {
	return Config{
		MaxQueueDepth: 10000,
		BackupTimeout: 30 * time.Second,
		FlushInterval: time.Minute,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads config.yaml from configDir, creating the directory and a
// default file on first run, applies PHOTOVAULT_* environment overrides,
// resolves paths, and validates the result.
func Load(configDir string) (Config, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := WriteDefault(configDir); err != nil {
		return Config{}, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyPrimaryRoot, "")
	v.SetDefault(KeyBackupRoot, "")
	v.SetDefault(KeyQueueFile, "")
	v.SetDefault(KeyMaxQueueDepth, d.MaxQueueDepth)
	v.SetDefault(KeyBackupTimeout, d.BackupTimeout)
	v.SetDefault(KeyFlushInterval, d.FlushInterval)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyLogFormat, d.Log.Format)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, d.Log.MaxSizeMB)
	v.SetDefault(KeyLogMaxBackups, d.Log.MaxBackups)
}

func (c *Config) resolvePaths() error {
	root, err := paths.ResolvePrimaryRoot(c.PrimaryRoot)
	if err != nil {
		return fmt.Errorf("resolve primary root: %w", err)
	}
	c.PrimaryRoot = root

	if c.BackupRoot != "" {
		if c.BackupRoot, err = filepath.Abs(c.BackupRoot); err != nil {
			return fmt.Errorf("resolve backup root: %w", err)
		}
	}

	if c.QueueFile == "" {
		c.QueueFile = filepath.Join(c.PrimaryRoot, types.ReservedDir, QueueFileName)
	} else if c.QueueFile, err = filepath.Abs(c.QueueFile); err != nil {
		return fmt.Errorf("resolve queue file: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PrimaryRoot == "" {
		return fmt.Errorf("%w: %s is required", types.ErrInvalidConfig, KeyPrimaryRoot)
	}
	if c.BackupRoot != "" && filepath.Clean(c.BackupRoot) == filepath.Clean(c.PrimaryRoot) {
		return fmt.Errorf("%w: %s and %s must differ", types.ErrInvalidConfig, KeyPrimaryRoot, KeyBackupRoot)
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("%w: %s must not be negative", types.ErrInvalidConfig, KeyMaxQueueDepth)
	}
	if c.BackupTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive", types.ErrInvalidConfig, KeyBackupTimeout)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("%w: %s must not be negative", types.ErrInvalidConfig, KeyFlushInterval)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrInvalidConfig, KeyLogLevel, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %s must be text or json, got %q", types.ErrInvalidConfig, KeyLogFormat, c.Log.Format)
	}
	return nil
}

// PrimaryStore returns the store config for the primary root.
func (c Config) PrimaryStore() types.StoreConfig {
	return types.StoreConfig{Name: types.PrimaryStore, Root: c.PrimaryRoot, CreateRoot: true}
}

// BackupStore returns the store config for the backup root. The backup
// root is never created: a missing root means the drive is not mounted.
func (c Config) BackupStore() (types.StoreConfig, bool) {
	if c.BackupRoot == "" {
		return types.StoreConfig{}, false
	}
	return types.StoreConfig{Name: types.BackupStore, Root: c.BackupRoot}, true
}

// WriteDefault writes config.yaml with default values if the file does not
// exist. An existing file is left alone.
func WriteDefault(configDir string) error {
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# photovault configuration\n# primary_root and backup_root take absolute paths.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// Set updates one key in config.yaml, creating the file if needed.
func Set(configDir, key string, value any) error {
	if err := WriteDefault(configDir); err != nil {
		return err
	}
	path := filepath.Join(configDir, configFileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	parts := strings.Split(key, ".")
	m := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
