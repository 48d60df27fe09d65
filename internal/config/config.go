// Package config loads the agent's YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Server struct {
		// Listen is the local address the agent proxy binds to.
		Listen string `yaml:"listen"`
		// Origin is the application origin the agent fronts. Requests to
		// this origin are cacheable; everything else passes through.
		Origin string `yaml:"origin"`
		// APIPrefix is the backend API namespace. Paths under it are
		// live-data calls and are never served from cache.
		APIPrefix string `yaml:"apiPrefix"`
	} `yaml:"server"`

	Storage struct {
		// Path is the SQLite database file holding cache and queue state.
		Path string `yaml:"path"`
		// CachePrefix names this agent's cache generations; activation
		// only garbage-collects generations carrying the prefix.
		CachePrefix string `yaml:"cachePrefix"`
	} `yaml:"storage"`

	// Version identifies the agent deployment; the current cache
	// generation is named CachePrefix + Version.
	Version string `yaml:"version"`

	// Manifest is the path to the precache manifest: one entry-point URL
	// path per line, fetched best-effort at install time. The agent
	// watches this file and reinstalls when it changes.
	Manifest string `yaml:"manifest"`

	// Routes is the path to the CUE action-route table. Empty means the
	// built-in default table.
	Routes string `yaml:"routes"`

	Sync struct {
		// Tag names the background-sync registration.
		Tag string `yaml:"tag"`
		// ProbeURL is fetched to detect connectivity restoration. Empty
		// defaults to the origin root.
		ProbeURL string `yaml:"probeUrl"`
		// ProbeInterval is how often connectivity is probed while offline.
		ProbeInterval string `yaml:"probeInterval"`
		// MaxAttempts is the per-record delivery ceiling before an action
		// is dead-lettered.
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"sync"`

	Notifications struct {
		Title      string `yaml:"title"`
		Body       string `yaml:"body"`
		Icon       string `yaml:"icon"`
		Badge      string `yaml:"badge"`
		Tag        string `yaml:"tag"`
		DefaultURL string `yaml:"defaultUrl"`
	} `yaml:"notifications"`

	// compiled
	originURL     *url.URL
	probeInterval time.Duration
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) compile() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8321"
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")

	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.origin: scheme must be http or https, got %q", u.Scheme)
	}
	c.originURL = u

	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = "/api/"
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.apiPrefix must start with /")
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "./backstop.db"
	}
	if c.Storage.CachePrefix == "" {
		c.Storage.CachePrefix = "backstop-"
	}
	if c.Version == "" {
		c.Version = "v1"
	}

	if c.Sync.Tag == "" {
		c.Sync.Tag = "offline-actions"
	}
	if c.Sync.ProbeURL == "" {
		c.Sync.ProbeURL = c.Server.Origin + "/"
	}
	if c.Sync.ProbeInterval == "" {
		c.Sync.ProbeInterval = "30s"
	}
	d, err := time.ParseDuration(c.Sync.ProbeInterval)
	if err != nil {
		return fmt.Errorf("sync.probeInterval: %w", err)
	}
	c.probeInterval = d
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 25
	}

	if c.Notifications.Title == "" {
		c.Notifications.Title = "News update"
	}
	if c.Notifications.Body == "" {
		c.Notifications.Body = "Something new is on the front page."
	}
	if c.Notifications.Tag == "" {
		c.Notifications.Tag = "breaking-news"
	}
	if c.Notifications.DefaultURL == "" {
		c.Notifications.DefaultURL = "/"
	}

	return nil
}

// OriginURL returns the parsed application origin.
func (c *Config) OriginURL() *url.URL {
	return c.originURL
}

// GenerationName returns the cache generation name for the configured
// version: CachePrefix + Version.
func (c *Config) GenerationName() string {
	return c.Storage.CachePrefix + c.Version
}

// ProbeInterval returns the parsed connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return c.probeInterval
}
