package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultHorizonDays = 7
	defaultPlanCron    = "*/30 * * * *"
	defaultCacheDir    = "./var/feed-cache"
	defaultLockTTL     = 120
	defaultGraceWindow = 60
)

// FeedConfig is one external calendar whose events count as busy time.
type FeedConfig struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	URL     string `yaml:"url" json:"url"`
	OwnerID string `yaml:"owner_id" json:"owner_id"`
	// IncludeAllDay makes opaque all-day events block the whole day.
	IncludeAllDay bool `yaml:"include_all_day" json:"include_all_day"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// LockConfig selects how runs for one owner are serialized.
type LockConfig struct {
	// Backend is "memory" (single process) or "redis".
	Backend       string `yaml:"backend" json:"backend"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TTL returns the lock lease as a duration.
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// DefaultsConfig holds the policy applied to items that carry none.
type DefaultsConfig struct {
	PolicyMode         string `yaml:"policy_mode" json:"policy_mode"`
	GraceWindowMinutes int    `yaml:"grace_window_minutes" json:"grace_window_minutes"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`
	// Environment is "development" for console logs; anything else logs JSON.
	Environment string `yaml:"environment" json:"environment"`
	LogLevel    string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA zone in which days are planned.
	Timezone string `yaml:"timezone" json:"timezone"`
	// HorizonDays is how many days, starting today, each run plans.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// PlanCron is a standard 5-field cron spec for periodic runs. Empty
	// disables the scheduler.
	PlanCron string `yaml:"plan_cron" json:"plan_cron"`

	Database  DatabaseConfig `yaml:"database" json:"database"`
	Lock      LockConfig     `yaml:"lock" json:"lock"`
	BusyFeeds []FeedConfig   `yaml:"busy_feeds" json:"busy_feeds"`
	CacheDir  string         `yaml:"cache_dir" json:"cache_dir"`

	// Owners are planned by scheduled runs in addition to owners found in
	// the store.
	Owners   []string       `yaml:"owners" json:"owners"`
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{PlanCron: defaultPlanCron}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "./var/dayplan.db"
	}
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		c.Lock.Backend = "memory"
	}
	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = defaultLockTTL
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.BusyFeeds == nil {
		c.BusyFeeds = []FeedConfig{}
	}
	if c.Owners == nil {
		c.Owners = []string{}
	}
	if c.Defaults.PolicyMode == "" {
		c.Defaults.PolicyMode = "roll_forward"
	}
	if c.Defaults.GraceWindowMinutes <= 0 {
		c.Defaults.GraceWindowMinutes = defaultGraceWindow
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if c.PlanCron != "" {
		if _, err := cron.ParseStandard(c.PlanCron); err != nil {
			return fmt.Errorf("config: plan_cron %q: %w", c.PlanCron, err)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database dsn is empty")
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return errors.New("config: lock backend redis needs redis_addr")
		}
	default:
		return fmt.Errorf("config: unsupported lock backend %q", c.Lock.Backend)
	}
	seen := make(map[string]bool, len(c.BusyFeeds))
	for _, f := range c.BusyFeeds {
		if f.ID == "" || f.URL == "" || f.OwnerID == "" {
			return fmt.Errorf("config: busy feed %q needs id, url and owner_id", f.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("config: duplicate busy feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Location returns the planning time zone, UTC if it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FeedsFor returns the busy feeds configured for owner.
func (c *Config) FeedsFor(owner string) []FeedConfig {
	var out []FeedConfig
	for _, f := range c.BusyFeeds {
		if f.OwnerID == owner {
			out = append(out, f)
		}
	}
	return out
}

// Load reads the YAML config at path. On first run the file does not exist
// yet; a default config is written there and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory, then
// rename) with 0600 permissions, since the file holds credentials.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: nil config")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".dayplan-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
