// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
	"github.com/JakeFAU/proceedings-crawler/internal/logging"
	"github.com/JakeFAU/proceedings-crawler/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. PAPERS_OUTPUT_ROOT.
const EnvPrefix = "PAPERS"

// Year orders.
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig     `mapstructure:"crawler"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	Output    OutputConfig      `mapstructure:"output"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Logging   logging.Config    `mapstructure:"logging"`
	Server    ServerConfig      `mapstructure:"server"`
	Storage   StorageConfig     `mapstructure:"storage"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	DB        DBConfig          `mapstructure:"db"`
	SQLite    SQLiteConfig      `mapstructure:"sqlite"`
	Telemetry telemetry.Config  `mapstructure:"telemetry"`
}

// CrawlerConfig governs discovery, the worker pool and politeness.
type CrawlerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	FirstYear      int           `mapstructure:"first_year"`
	LastYear       int           `mapstructure:"last_year"`
	Years          []int         `mapstructure:"years"`
	YearOrder      string        `mapstructure:"year_order"`
	Concurrency    int           `mapstructure:"concurrency"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	UserAgent      string        `mapstructure:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	PolitenessMin  time.Duration `mapstructure:"politeness_min"`
	PolitenessMax  time.Duration `mapstructure:"politeness_max"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// OutputConfig places the CSV, summary and artifacts.
type OutputConfig struct {
	Root        string `mapstructure:"root"`
	CSVName     string `mapstructure:"csv_name"`
	SummaryName string `mapstructure:"summary_name"`
}

// HTTPConfig configures HTTP timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds         int `mapstructure:"timeout_seconds"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds"`
	MaxRetries             int `mapstructure:"max_retries"`
	BackoffInitialMs       int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs           int `mapstructure:"backoff_max_ms"`
	// MaxPageBytes caps how much of a listing or detail page is read.
	MaxPageBytes int `mapstructure:"max_page_bytes"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	// MetricsAddr enables the server when non-empty, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StorageConfig selects where finished output is mirrored.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	MirrorDir string `mapstructure:"mirror_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether both project and topic are set.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// DBConfig controls the optional Postgres record sink.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig controls the optional SQLite catalog sink.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"output":       "output.root",
	"first-year":   "crawler.first_year",
	"last-year":    "crawler.last_year",
	"years":        "crawler.years",
	"concurrency":  "crawler.concurrency",
	"base-url":     "crawler.base_url",
	"dev":          "logging.development",
	"metrics-addr": "server.metrics_addr",
}

// Load builds a Config from defaults, an optional YAML file, PAPERS_*
// environment variables and flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
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
	sel := crawler.DefaultSelectors()
	v.SetDefault("crawler.base_url", "https://papers.nips.cc")
	v.SetDefault("crawler.first_year", 2019)
	v.SetDefault("crawler.last_year", 2023)
	v.SetDefault("crawler.years", []int{})
	v.SetDefault("crawler.year_order", OrderDesc)
	v.SetDefault("crawler.concurrency", 7)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", "proceedings-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.politeness_min", "1s")
	v.SetDefault("crawler.politeness_max", "3s")
	v.SetDefault("crawler.rate_limit_rps", 2)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("selectors.listing", sel.Listing)
	v.SetDefault("selectors.authors", sel.Authors)
	v.SetDefault("selectors.pdf", sel.PDF)
	v.SetDefault("output.root", "")
	v.SetDefault("output.csv_name", "papers_output.csv")
	v.SetDefault("output.summary_name", "run_summary.yaml")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.download_timeout_seconds", 120)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.max_page_bytes", 32<<20)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.mirror_dir", "")
	v.SetDefault("storage.prefix", "proceedings")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "papers")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("sqlite.path", "")
	v.SetDefault("telemetry.service_name", "proceedings-crawler")
	v.SetDefault("telemetry.sample_ratio", 0.0)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Output.Root) == "" {
		return errors.New("output.root is required")
	}
	if c.Output.CSVName == "" || c.Output.SummaryName == "" {
		return errors.New("output.csv_name and output.summary_name must be set")
	}
	if len(c.Crawler.Years) == 0 && c.Crawler.FirstYear > c.Crawler.LastYear {
		return fmt.Errorf("crawler.first_year (%d) must not exceed crawler.last_year (%d)",
			c.Crawler.FirstYear, c.Crawler.LastYear)
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be positive")
	}
	if c.Crawler.QueueDepth <= 0 {
		return errors.New("crawler.queue_depth must be positive")
	}
	if c.Crawler.PolitenessMin < 0 || c.Crawler.PolitenessMax < c.Crawler.PolitenessMin {
		return errors.New("crawler.politeness_min must be >= 0 and <= crawler.politeness_max")
	}
	if c.Crawler.YearOrder != OrderAsc && c.Crawler.YearOrder != OrderDesc {
		return fmt.Errorf("crawler.year_order must be %q or %q", OrderAsc, OrderDesc)
	}
	if c.Crawler.RateLimitRPS < 0 || c.Crawler.RateLimitBurst < 0 {
		return errors.New("crawler.rate_limit_rps and crawler.rate_limit_burst must be >= 0")
	}
	u, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute http(s) URL, got %q", c.Crawler.BaseURL)
	}
	if c.HTTP.TimeoutSeconds <= 0 || c.HTTP.DownloadTimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds and http.download_timeout_seconds must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < 0 {
		return errors.New("http backoff values must be >= 0")
	}
	if c.HTTP.MaxPageBytes <= 0 {
		return errors.New("http.max_page_bytes must be positive")
	}
	if c.Selectors.Listing == "" || c.Selectors.Authors == "" || c.Selectors.PDF == "" {
		return errors.New("selectors.listing, selectors.authors and selectors.pdf must be set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}

// YearList returns the years to crawl in the configured order. An explicit
// crawler.years list replaces the first/last range; duplicates are dropped.
func (c CrawlerConfig) YearList() []int {
	seen := make(map[int]bool)
	var years []int
	add := func(y int) {
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	if len(c.Years) > 0 {
		for _, y := range c.Years {
			add(y)
		}
	} else {
		for y := c.FirstYear; y <= c.LastYear; y++ {
			add(y)
		}
	}
	if c.YearOrder == OrderAsc {
		sort.Ints(years)
	} else {
		sort.Sort(sort.Reverse(sort.IntSlice(years)))
	}
	return years
}

// Timeout returns the page fetch timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DownloadTimeout returns the per-artifact timeout.
func (c HTTPConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
