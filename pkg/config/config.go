package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Sentinel errors
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrNodeIDMissing  = errors.New("node id is missing from the configuration file")
)

// TablespaceMapping remaps a tablespace directory during a standby clone.
type TablespaceMapping struct {
	OldDir string `yaml:"old_dir" validate:"required"`
	NewDir string `yaml:"new_dir" validate:"required"`
}

// Config holds the cluster configuration file contents.
//
// The file is optional for some commands (standby clone in particular), but
// when present it is always parsed for settings like log_level and
// use_replication_slots.
type Config struct {
	ClusterName string `yaml:"cluster_name" validate:"required"`
	NodeID      int    `yaml:"node" validate:"omitempty,min=1"`
	NodeName    string `yaml:"node_name"`
	ConnInfo    string `yaml:"conninfo"`
	Priority    int    `yaml:"priority" validate:"min=0"`

	UseReplicationSlots bool `yaml:"use_replication_slots"`

	// WALKeepSegments is the retention floor demanded of an upstream when
	// replication slots are not in use; empty applies the built-in default.
	WALKeepSegments string `yaml:"wal_keep_segments" validate:"omitempty,number"`

	// MasterResponseTimeout bounds the liveness probe used while waiting
	// for a primary to appear during standby follow.
	MasterResponseTimeout time.Duration `yaml:"master_response_timeout"`

	PGBinDir          string `yaml:"pg_bindir"`
	SSHOptions        string `yaml:"ssh_options"`
	RsyncOptions      string `yaml:"rsync_options"`
	PGCtlOptions      string `yaml:"pg_ctl_options"`
	BasebackupOptions string `yaml:"pg_basebackup_options"`

	TablespaceMappings []TablespaceMapping `yaml:"tablespace_mapping" validate:"dive"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a configuration with safe defaults applied.
func DefaultConfig() *Config {
	return &Config{
		ClusterName:           "default",
		Priority:              100,
		MasterResponseTimeout: 60 * time.Second,
		LogLevel:              "info",
	}
}

// Load reads and validates a configuration file. A missing file yields
// defaults plus ErrConfigNotFound so callers can decide whether that is
// fatal (an explicitly named file) or fine (the default path).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	if cfg.MasterResponseTimeout <= 0 {
		cfg.MasterResponseTimeout = 60 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireNode ensures node identity settings are present. Most commands
// need them; standby clone does not.
func (c *Config) RequireNode() error {
	if c.NodeID == 0 {
		return ErrNodeIDMissing
	}
	return nil
}

// SchemaName returns the schema holding this cluster's registry objects.
func (c *Config) SchemaName() string {
	return "replmgr_" + c.ClusterName
}

// SlotName returns the physical replication slot name for the local node,
// or an empty string when slot mode is disabled.
func (c *Config) SlotName() string {
	if !c.UseReplicationSlots {
		return ""
	}
	return fmt.Sprintf("replmgr_slot_%d", c.NodeID)
}
