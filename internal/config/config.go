package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/expert-scraper/internal/browser"
	"github.com/maltedev/expert-scraper/internal/database"
)

// Sink kinds.
const (
	SinkPostgres = "postgres"
	SinkSupabase = "supabase"
	SinkSQLite   = "sqlite"
	SinkFile     = "file"
)

type Config struct {
	Server    ServerConfig
	Crawl     CrawlConfig
	Browser   BrowserConfig
	Sink      SinkConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Relay     RelayConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlConfig struct {
	// Start and End override a definition's page range when not negative.
	Start  int
	End    int
	Dedupe bool
	// Definitions is an extra YAML file or directory of institution definitions.
	Definitions string
}

type BrowserConfig struct {
	Driver          string
	SessionEndpoint string
	Headless        bool
	Timeout         time.Duration
	Retries         int
	UserAgent       string
	LockDir         string
}

type SinkConfig struct {
	Kind        string
	OutputDir   string
	SQLitePath  string
	SupabaseURL string
	SupabaseKey string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Min       time.Duration
	Max       time.Duration
	PerMinute int
}

type RelayConfig struct {
	Interval     time.Duration
	BatchSize    int
	StreamMaxLen int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after merging any .env files given (by
// default ./.env). Missing files are ignored; variables already set win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Crawl: CrawlConfig{
			Start:       getIntOrDefault("CRAWL_START", -1),
			End:         getIntOrDefault("CRAWL_END", -1),
			Dedupe:      getBoolOrDefault("CRAWL_DEDUPE", false),
			Definitions: getEnvOrDefault("CRAWL_DEFINITIONS", ""),
		},
		Browser: BrowserConfig{
			Driver:          getEnvOrDefault("BROWSER_DRIVER", string(browser.DriverPlaywright)),
			SessionEndpoint: getEnvOrDefault("BROWSER_SESSION_ENDPOINT", ""),
			Headless:        getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:         getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			Retries:         getIntOrDefault("BROWSER_RETRIES", 3),
			UserAgent:       getEnvOrDefault("BROWSER_USER_AGENT", ""),
			LockDir:         getEnvOrDefault("BROWSER_LOCK_DIR", os.TempDir()),
		},
		Sink: SinkConfig{
			Kind:        getEnvOrDefault("SINK", SinkSupabase),
			OutputDir:   getEnvOrDefault("SINK_OUTPUT_DIR", "output"),
			SQLitePath:  getEnvOrDefault("SINK_SQLITE_PATH", "experts.db"),
			SupabaseURL: getEnvOrDefault("SUPABASE_URL", ""),
			SupabaseKey: getEnvOrDefault("SUPABASE_KEY", ""),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "experts"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: getIntOrDefault("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Min:       getDurationOrDefault("RATE_LIMIT_MIN", 2*time.Second),
			Max:       getDurationOrDefault("RATE_LIMIT_MAX", 5*time.Second),
			PerMinute: getIntOrDefault("RATE_LIMIT_PER_MINUTE", 20),
		},
		Relay: RelayConfig{
			Interval:     getDurationOrDefault("RELAY_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			StreamMaxLen: getIntOrDefault("RELAY_STREAM_MAXLEN", 100000),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Crawl.Start >= 0 && c.Crawl.End >= 0 && c.Crawl.End < c.Crawl.Start {
		return fmt.Errorf("CRAWL_END %d cannot be before CRAWL_START %d", c.Crawl.End, c.Crawl.Start)
	}

	switch browser.Driver(c.Browser.Driver) {
	case browser.DriverPlaywright, browser.DriverChromedp, browser.DriverHTTP:
	default:
		return fmt.Errorf("unknown BROWSER_DRIVER %q", c.Browser.Driver)
	}

	switch c.Sink.Kind {
	case SinkSupabase:
		if c.Sink.SupabaseURL == "" || c.Sink.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase sink")
		}
	case SinkPostgres, SinkSQLite, SinkFile:
	default:
		return fmt.Errorf("unknown SINK %q", c.Sink.Kind)
	}

	if c.RateLimit.Min > c.RateLimit.Max {
		return fmt.Errorf("RATE_LIMIT_MIN cannot be greater than RATE_LIMIT_MAX")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

// BrowserOptions returns the browser options for this configuration.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.Retries = c.Browser.Retries
	opts.SessionEndpoint = browser.EndpointFromPort(c.Browser.SessionEndpoint)
	if c.Browser.UserAgent != "" {
		opts.UserAgent = c.Browser.UserAgent
	}
	return opts
}

// DatabaseConfig returns the pool configuration for this configuration.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		URL:      c.Database.URL,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.DBName,
		SSLMode:  c.Database.SSLMode,
		MaxConns: int32(c.Database.MaxConns),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
