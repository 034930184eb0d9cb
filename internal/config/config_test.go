package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.HorizonDays != defaultHorizonDays || cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Lock.Backend != "memory" || again.Defaults.PolicyMode != "roll_forward" {
		t.Fatalf("reloaded config = %+v", again)
	}
}

func TestLoadPartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"timezone: Europe/London",
		"plan_cron: \"0 */2 * * *\"",
		"database:",
		"  driver: Postgres",
		"  dsn: postgres://localhost/dayplan",
		"busy_feeds:",
		"  - id: work",
		"    url: https://calendar.example.com/work.ics",
		"    owner_id: alice",
		"  - id: family",
		"    url: https://calendar.example.com/family.ics",
		"    owner_id: bob",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Location().String() != "Europe/London" {
		t.Fatalf("location = %s", cfg.Location())
	}
	if feeds := cfg.FeedsFor("alice"); len(feeds) != 1 || feeds[0].ID != "work" {
		t.Fatalf("FeedsFor(alice) = %+v", feeds)
	}
	if cfg.Defaults.GraceWindowMinutes != defaultGraceWindow {
		t.Fatalf("grace = %d", cfg.Defaults.GraceWindowMinutes)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad cron", func(c *Config) { c.PlanCron = "every tuesday" }, false},
		{"empty cron disables scheduler", func(c *Config) { c.PlanCron = "" }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }, false},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis" }, false},
		{"redis with addr", func(c *Config) { c.Lock.Backend = "redis"; c.Lock.RedisAddr = "localhost:6379" }, true},
		{"feed without owner", func(c *Config) { c.BusyFeeds = []FeedConfig{{ID: "x", URL: "https://x"}} }, false},
		{"duplicate feed", func(c *Config) {
			f := FeedConfig{ID: "x", URL: "https://x", OwnerID: "o"}
			c.BusyFeeds = []FeedConfig{f, f}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestSaveRejectsNil(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if err := Save("", DefaultConfig()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
