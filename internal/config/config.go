// Package config loads and validates crawl configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Output  OutputConfig  `mapstructure:"output"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs scheduler and frontier behavior.
type CrawlConfig struct {
	SeedURL      string  `mapstructure:"seed_url"`
	MaxPages     int     `mapstructure:"max_pages"`
	MaxDepth     int     `mapstructure:"max_depth"`
	Workers      int     `mapstructure:"workers"`
	DelaySeconds float64 `mapstructure:"delay_seconds"`
	Diff         bool    `mapstructure:"diff"`
}

// HTTPConfig configures the fetch client and its retry behavior.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	FollowRedirects  bool   `mapstructure:"follow_redirects"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
}

// FilterConfig governs URL admission.
type FilterConfig struct {
	NormalizeQuery   bool     `mapstructure:"normalize_query"`
	ExcludePatterns  []string `mapstructure:"exclude_patterns"`
	StaticExtensions []string `mapstructure:"static_extensions"`
}

// OutputConfig sets where artifacts and the crawl cache live.
type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	CacheDir string `mapstructure:"cache_dir"`
}

// NotifyConfig holds the optional webhook endpoint. An empty URL
// disables notification.
type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	OnlyOnChanges  bool   `mapstructure:"only_on_changes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Callers apply any CLI
// overrides and then run Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
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
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_pages", 500)
	v.SetDefault("crawl.max_depth", 10)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.delay_seconds", 1.0)
	v.SetDefault("crawl.diff", true)
	v.SetDefault("http.user_agent", "sitewatch/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.follow_redirects", true)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("filter.normalize_query", true)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.cache_dir", "cache")
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("notify.only_on_changes", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.SeedURL) == "" {
		return fmt.Errorf("crawl.seed_url is required")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.DelaySeconds < 0 {
		return fmt.Errorf("crawl.delay_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	return nil
}

// Timeout converts the HTTP timeout config into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Delay converts the politeness delay config into a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawl.DelaySeconds * float64(time.Second))
}

// Backoff converts the retry backoff config into durations.
func (c Config) Backoff() (initial, max time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
