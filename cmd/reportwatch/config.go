package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/civichub/reportwatch/discover"
	"github.com/civichub/reportwatch/harvest"
)

// Config is the top-level reportwatch configuration.
type Config struct {
	// ClamdAddr is the clamd TCP address for malware scanning. Required:
	// the pipeline refuses to run without a scanner.
	ClamdAddr string `yaml:"clamd_addr"`

	// LockFile guards against overlapping runs. Default:
	// {data_dir}/../reportwatch.lock next to the data tree.
	LockFile string `yaml:"lock_file"`

	// Runlog is the SQLite run history path. Empty disables recording.
	Runlog string `yaml:"runlog"`

	// Serve is the status API listen address (also reachable via -serve).
	Serve string `yaml:"serve"`

	Harvest   harvest.Config  `yaml:"harvest"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// DiscoveryConfig controls how report links are found.
type DiscoveryConfig struct {
	// Mode selects the crawler: "browser" (rod + stealth) or "static"
	// (plain HTTP + HTML parsing). Default: browser.
	Mode string `yaml:"mode"`

	// Roots are the portal report pages to crawl.
	Roots []string `yaml:"roots"`

	// Snapshot is the last-seen-links file; empty disables it.
	Snapshot string `yaml:"snapshot"`

	Filter  discover.LinkFilter   `yaml:"filter"`
	Browser discover.PortalConfig `yaml:"browser"`
}

func (c *Config) applyDefaults() {
	if c.ClamdAddr == "" {
		c.ClamdAddr = "127.0.0.1:3310"
	}
	if c.LockFile == "" {
		c.LockFile = "reportwatch.lock"
	}
	if c.Discovery.Mode == "" {
		c.Discovery.Mode = "browser"
	}
}

// loadConfig reads a YAML configuration file. An empty path yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}
