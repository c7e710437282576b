// Package config loads podmigrate's on-disk configuration: pod
// identity, the destination sqlite path, the directory service
// endpoint, per-user conduit socket addresses, and operator overrides,
// via viper/YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Config is the resolved, typed configuration podmigrate's CLI and
// daemon consume. Built once from the viper singleton after
// Initialize.
type Config struct {
	// PodID is this pod's own directory uid/host identity. It is not
	// consulted when rejecting a user who is already resident here;
	// migration.ErrInvalidTarget comes from the directory record's
	// ThisServer flag.
	PodID string
	// SQLitePath names the destination migration-record database
	// (internal/store/sqlite). The CLI does not open it; its commands
	// run against the in-memory store.
	SQLitePath string
	// DirectoryEndpoint addresses the directory service used to
	// resolve migration.DirectoryRecord values.
	DirectoryEndpoint string
	// ConduitAddresses maps a migrating directory uid to the Unix socket
	// path of the conduit.Server that holds that user's source home.
	ConduitAddresses map[string]string
	// BatchSize is loaded from the batch-size setting, but nothing
	// reads it: the reconcilers always use migration.BatchSize.
	BatchSize int
	// LockDir is the directory gofrs/flock locks live in, one lock
	// file per migrating directory uid.
	LockDir string
}

// Initialize sets up the viper configuration singleton. Should be
// called once at application startup. configPath, when non-empty,
// overrides discovery entirely and is read as-is (the --config flag);
// an empty configPath falls back to the CWD-walk/user-config-dir
// discovery below.
func Initialize(configPath string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if configPath != "" {
		v.SetConfigFile(configPath)
		configFileSet = true
	}

	// 1. Walk up from CWD to find a project-local .podmigrate/config.yaml,
	//    so commands work from any subdirectory of a checked-out pod
	//    deployment.
	if !configFileSet {
		if cwd, err := os.Getwd(); err == nil {
			for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
				candidate := filepath.Join(dir, ".podmigrate", "config.yaml")
				if _, err := os.Stat(candidate); err == nil {
					v.SetConfigFile(candidate)
					configFileSet = true
					break
				}
			}
		}
	}

	// 2. Fall back to the user config directory.
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "podmigrate", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("PODMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("pod-id", "")
	v.SetDefault("sqlite-path", ".podmigrate/migration.db")
	v.SetDefault("directory-endpoint", "")
	v.SetDefault("conduit-addresses", map[string]string{})
	v.SetDefault("batch-size", 0)
	v.SetDefault("lock-dir", ".podmigrate/locks")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	// Picks up operator edits to config.yaml (e.g. a newly added
	// conduit-addresses entry for a peer pod) without a daemon restart.
	v.WatchConfig()

	return nil
}

// Load resolves the typed Config from the viper singleton. Initialize
// must have been called first.
func Load() (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("config: Initialize was not called")
	}
	cfg := &Config{
		PodID:             v.GetString("pod-id"),
		SQLitePath:        v.GetString("sqlite-path"),
		DirectoryEndpoint: v.GetString("directory-endpoint"),
		ConduitAddresses:  v.GetStringMapString("conduit-addresses"),
		BatchSize:         v.GetInt("batch-size"),
		LockDir:           v.GetString("lock-dir"),
	}
	if cfg.PodID == "" {
		return nil, fmt.Errorf("config: pod-id is required")
	}
	return cfg, nil
}
