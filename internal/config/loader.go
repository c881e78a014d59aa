package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./sitemirror.yaml, ~/.sitemirror/config.yaml.
// When none exists, a config with pure defaults is returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"sitemirror.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".sitemirror", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	var cfg Config
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills unset values.
func applyDefaults(cfg *Config) {
	c := &cfg.Sitemirror

	if c.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.StateDir = filepath.Join(home, ".sitemirror")
		} else {
			c.StateDir = ".sitemirror"
		}
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(c.StateDir, "versions")
	}
	if c.WebsitesDir == "" {
		c.WebsitesDir = filepath.Join(c.StateDir, "websites")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.StateDir, "sitemirror.db")
	}

	if c.Renderer.ViewportWidth <= 0 {
		c.Renderer.ViewportWidth = 1440
	}
	if c.Renderer.ViewportHeight <= 0 {
		c.Renderer.ViewportHeight = 900
	}
	if c.Renderer.CaptureTimeout == "" {
		c.Renderer.CaptureTimeout = "30s"
	}

	if len(c.Compare.Sections) == 0 {
		c.Compare.Sections = []Section{
			{Name: "header", Selector: "header", Weight: 1},
			{Name: "hero", Selector: ".hero, main > section:first-of-type", Weight: 1},
			{Name: "features", Selector: ".features, main", Weight: 1},
			{Name: "footer", Selector: "footer", Weight: 1},
		}
	}
	for i := range c.Compare.Sections {
		if c.Compare.Sections[i].Weight <= 0 {
			c.Compare.Sections[i].Weight = 1
		}
	}
	if c.Compare.PixelThreshold <= 0 {
		c.Compare.PixelThreshold = 0.1
	}
	if c.Compare.CacheTTL == "" {
		c.Compare.CacheTTL = "5m"
	}
	if c.Compare.ProvisionTimeout == "" {
		c.Compare.ProvisionTimeout = "15s"
	}

	if c.Server.Port <= 0 {
		c.Server.Port = 8090
	}
}
