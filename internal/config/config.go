// Package config loads the control plane's configuration through viper,
// following the teacher's section-per-concern layout and default-registration
// style but re-scoped to the concerns this module actually owns: there is no
// HTTP surface, so the old server/proxy/module sections are gone.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Minecraft MinecraftConfig `mapstructure:"minecraft" json:"minecraft"`
	UPnP      UPnPConfig      `mapstructure:"upnp" json:"upnp"`
	Backup    BackupConfig    `mapstructure:"backup" json:"backup"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// StorageConfig locates the SQLite database and the root directory every
// server's Directory field is relative to.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path" json:"database_path"`
	ServersRoot  string `mapstructure:"servers_root" json:"servers_root"`
}

// MinecraftConfig carries the defaults a newly created Server record is
// seeded with and the installer clients' shared HTTP tuning.
type MinecraftConfig struct {
	DefaultJavaExecutable string `mapstructure:"default_java_executable" json:"default_java_executable"`
	DefaultMinHeapGiB     int    `mapstructure:"default_min_heap_gib" json:"default_min_heap_gib"`
	DefaultMaxHeapGiB     int    `mapstructure:"default_max_heap_gib" json:"default_max_heap_gib"`
	DownloadConcurrency   int    `mapstructure:"download_concurrency" json:"download_concurrency"`
	UserAgent             string `mapstructure:"user_agent" json:"user_agent"`
}

// UPnPConfig toggles whether the Lease Manager attempts gateway discovery at
// all; discovery failure is always non-fatal regardless of this flag.
type UPnPConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// BackupConfig locates the content-addressed backup store and its default
// retention policy for schedules that don't set their own.
type BackupConfig struct {
	Root                 string `mapstructure:"root" json:"root"`
	DefaultRetentionDays int    `mapstructure:"default_retention_days" json:"default_retention_days"`
	// ExportFormat picks the archive format Engine.Export/ExportToStream
	// writes: "zip" (default, fully supported) or "sevenzip" (the pinned
	// mholt/archives version can only extract 7z via bodgit/sevenzip, not
	// create it, so this value yields a typed PolicyViolation error rather
	// than a format that only looks right).
	ExportFormat string `mapstructure:"export_format" json:"export_format"`
}

// SchedulerConfig tunes the cooperative scheduler's tick cadence.
type SchedulerConfig struct {
	TickInterval int `mapstructure:"tick_interval_seconds" json:"tick_interval_seconds"`
	StopTimeout  int `mapstructure:"stop_timeout_seconds" json:"stop_timeout_seconds"`
}

// LoggingConfig mirrors pkg/logger.Config's shape so it can be built
// directly from this section.
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	FilePath   string `mapstructure:"file_path" json:"file_path"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// Load reads config.yaml from configPath (falling back to ".", "./config",
// "/etc/controlplane") plus CONTROLPLANE_-prefixed environment overrides,
// applying defaults for anything left unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/controlplane")

	setDefaults(v)

	v.SetEnvPrefix("CONTROLPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.database_path", "./data/controlplane.db")
	v.SetDefault("storage.servers_root", "./data/servers")

	v.SetDefault("minecraft.default_java_executable", "java")
	v.SetDefault("minecraft.default_min_heap_gib", 1)
	v.SetDefault("minecraft.default_max_heap_gib", 2)
	v.SetDefault("minecraft.download_concurrency", 4)
	v.SetDefault("minecraft.user_agent", "obsidianmc-controlplane/1.0 (github.com/obsidianmc/controlplane)")

	v.SetDefault("upnp.enabled", true)

	v.SetDefault("backup.root", "./data/backups")
	v.SetDefault("backup.default_retention_days", 30)
	v.SetDefault("backup.export_format", "zip")

	v.SetDefault("scheduler.tick_interval_seconds", 30)
	v.SetDefault("scheduler.stop_timeout_seconds", 10)

	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.file_path", "./data/controlplane.log")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)
}

func validateConfig(cfg *Config) error {
	var err error
	cfg.Storage.DatabasePath, err = filepath.Abs(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	cfg.Storage.ServersRoot, err = filepath.Abs(cfg.Storage.ServersRoot)
	if err != nil {
		return fmt.Errorf("invalid servers root: %w", err)
	}
	cfg.Backup.Root, err = filepath.Abs(cfg.Backup.Root)
	if err != nil {
		return fmt.Errorf("invalid backup root: %w", err)
	}

	if cfg.Minecraft.DefaultMinHeapGiB > cfg.Minecraft.DefaultMaxHeapGiB {
		return fmt.Errorf("minecraft.default_min_heap_gib must not exceed default_max_heap_gib")
	}
	if cfg.Minecraft.DownloadConcurrency <= 0 {
		cfg.Minecraft.DownloadConcurrency = 4
	}

	return nil
}
