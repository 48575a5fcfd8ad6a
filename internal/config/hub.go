package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// HubConfig is the complete configuration for a dimsp-hubd process.
// Loaded the load-unmarshal-validate way: one YAML file, defaults filled
// in by validate().
type HubConfig struct {
	Listen  ListenConfig  `yaml:"listen"`
	TLS     TLSServer     `yaml:"tls"`
	Storage HubStorage    `yaml:"storage"`
	MNS     MNSConfig     `yaml:"mns"`
	Logging LoggingInfo   `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	GC      GCConfig      `yaml:"gc"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ListenConfig is the TCP address the gateway accepts mTLS connections on.
type ListenConfig struct {
	Address string `yaml:"address"`
}

// HubStorage points at the bbolt database file and default per-account
// policy applied to principals the name-service doesn't override.
type HubStorage struct {
	DBPath           string        `yaml:"db_path"`
	DefaultQuota     string        `yaml:"default_quota"`      // e.g. "4mb"
	DefaultQuotaRaw  int64         `yaml:"-"`
	DefaultLease     time.Duration `yaml:"default_lease"`      // e.g. 240h
	DiskHeadroomPath string        `yaml:"disk_headroom_path"` // defaults to the db's directory
}

// MNSConfig points at the name-service registry file (internal/mns).
type MNSConfig struct {
	RegistryPath string `yaml:"registry_path"`
}

// MetricsConfig is the Prometheus /metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default "127.0.0.1:9849"
}

// GCConfig schedules the lease-expiry sweep (internal/storage.GC).
type GCConfig struct {
	Schedule string `yaml:"schedule"` // cron expression, default "@every 1m"
}

// ArchiveConfig optionally enables cold-archiving expired blobs to S3
// before they are deleted locally.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // non-empty for S3-compatible stores
}

// LoadHubConfig reads and validates path as a HubConfig.
func LoadHubConfig(path string) (*HubConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hub config: %w", err)
	}
	var cfg HubConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing hub config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating hub config: %w", err)
	}
	return &cfg, nil
}

func (c *HubConfig) validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.TLS.CACert == "" || c.TLS.ServerCert == "" || c.TLS.ServerKey == "" {
		return fmt.Errorf("tls.ca_cert, tls.server_cert, and tls.server_key are all required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.MNS.RegistryPath == "" {
		return fmt.Errorf("mns.registry_path is required")
	}

	if c.Storage.DefaultQuota == "" {
		c.Storage.DefaultQuota = "4mb"
	}
	parsed, err := ParseByteSize(c.Storage.DefaultQuota)
	if err != nil {
		return fmt.Errorf("storage.default_quota: %w", err)
	}
	c.Storage.DefaultQuotaRaw = parsed
	if c.Storage.DefaultLease <= 0 {
		c.Storage.DefaultLease = 240 * time.Hour
	}
	if c.Storage.DiskHeadroomPath == "" {
		c.Storage.DiskHeadroomPath = filepath.Dir(c.Storage.DBPath)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9849"
	}

	if c.GC.Schedule == "" {
		c.GC.Schedule = "@every 1m"
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}

	return nil
}
