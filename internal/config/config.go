// Package config loads and validates gameshelf configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Site    SiteConfig    `mapstructure:"site"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Assets  AssetsConfig  `mapstructure:"assets"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig identifies the forum being scraped. Cookies holds the
// authentication cookies (e.g. xf_user, xf_session) seeded into the fetch
// session at startup.
type SiteConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	UserAgent string            `mapstructure:"user_agent"`
	Cookies   map[string]string `mapstructure:"cookies"`
}

// ScrapeConfig governs the scrape pipeline.
type ScrapeConfig struct {
	Sources        []catalog.Source `mapstructure:"sources"`
	MaxPagesPerJob int              `mapstructure:"max_pages_per_job"`
	SourceWorkers  int              `mapstructure:"source_workers"`
	PageDelayMs    int              `mapstructure:"page_delay_ms"`
}

// HTTPConfig configures per-fetch timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	// RequestsPerSecond paces all outbound requests per host; 0 disables.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DBConfig controls access to the catalog database file.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// BackupConfig controls snapshot rotation.
type BackupConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxCount   int    `mapstructure:"max_count"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AssetsConfig controls the content-addressed image cache.
type AssetsConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int64  `mapstructure:"max_size_mb"`
	Workers    int    `mapstructure:"workers"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAMESHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(xdg.DataHome, "gameshelf")
	cacheDir := filepath.Join(xdg.CacheHome, "gameshelf")

	v.SetDefault("server.port", 8087)
	v.SetDefault("site.base_url", "https://lewdcorner.com")
	v.SetDefault("site.user_agent", "gameshelf/1.0")
	v.SetDefault("scrape.max_pages_per_job", 10)
	v.SetDefault("scrape.source_workers", 2)
	v.SetDefault("scrape.page_delay_ms", 500)
	v.SetDefault("scrape.sources", []map[string]string{
		{"id": "games", "name": "Games", "url": "https://lewdcorner.com/forums/games.6/"},
		{"id": "adult-games", "name": "Adult Games", "url": "https://lewdcorner.com/forums/games.119/"},
		{"id": "ports", "name": "Game Ports", "url": "https://lewdcorner.com/forums/ports.110/"},
	})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("db.path", filepath.Join(dataDir, "gameshelf.db"))
	v.SetDefault("backup.dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup.max_count", 10)
	v.SetDefault("backup.max_age_days", 30)
	v.SetDefault("assets.dir", filepath.Join(cacheDir, "assets"))
	v.SetDefault("assets.max_size_mb", 500)
	v.SetDefault("assets.workers", 3)
	v.SetDefault("assets.max_retries", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if len(c.Scrape.Sources) == 0 {
		return fmt.Errorf("scrape.sources must not be empty")
	}
	for i, src := range c.Scrape.Sources {
		if src.ID == "" || src.URL == "" {
			return fmt.Errorf("scrape.sources[%d] needs id and url", i)
		}
	}
	if c.Scrape.MaxPagesPerJob <= 0 {
		return fmt.Errorf("scrape.max_pages_per_job must be > 0")
	}
	if c.Scrape.SourceWorkers <= 0 {
		return fmt.Errorf("scrape.source_workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must be set")
	}
	if c.Assets.MaxSizeMB <= 0 {
		return fmt.Errorf("assets.max_size_mb must be > 0")
	}
	if c.Assets.Workers <= 0 {
		return fmt.Errorf("assets.workers must be > 0")
	}
	return nil
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// AssetBudget returns the cache ceiling in bytes.
func (c Config) AssetBudget() int64 {
	return c.Assets.MaxSizeMB * 1024 * 1024
}
