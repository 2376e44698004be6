package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "CRAWL_START", "CRAWL_END", "CRAWL_DEDUPE", "CRAWL_DEFINITIONS",
		"BROWSER_DRIVER", "BROWSER_SESSION_ENDPOINT", "SINK", "SINK_OUTPUT_DIR",
		"SUPABASE_URL", "SUPABASE_KEY", "DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER",
		"DB_PASSWORD", "DB_NAME", "DB_SSL_MODE", "DB_MAX_CONNS", "RATE_LIMIT_MIN",
		"RATE_LIMIT_MAX", "RELAY_BATCH_SIZE", "RELAY_STREAM_MAXLEN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, -1, cfg.Crawl.Start)
	assert.Equal(t, -1, cfg.Crawl.End)
	assert.Equal(t, "playwright", cfg.Browser.Driver)
	assert.Equal(t, SinkSupabase, cfg.Sink.Kind)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Min)
	assert.Equal(t, 100, cfg.Relay.BatchSize)
	assert.Equal(t, 100000, cfg.Relay.StreamMaxLen)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRAWL_START", "3")
	t.Setenv("CRAWL_END", "12")
	t.Setenv("CRAWL_DEDUPE", "true")
	t.Setenv("BROWSER_DRIVER", "chromedp")
	t.Setenv("BROWSER_SESSION_ENDPOINT", "9222")
	t.Setenv("RATE_LIMIT_MAX", "9s")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Crawl.Start)
	assert.Equal(t, 12, cfg.Crawl.End)
	assert.True(t, cfg.Crawl.Dedupe)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.Equal(t, 9*time.Second, cfg.RateLimit.Max)
	assert.Equal(t, 10, cfg.Database.MaxConns, "unparsable values fall back to the default")
	assert.Equal(t, "http://127.0.0.1:9222", cfg.BrowserOptions().SessionEndpoint)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SINK=file\nSINK_OUTPUT_DIR=/tmp/experts\n"), 0o644))
	clearEnv(t)
	os.Unsetenv("SINK")
	os.Unsetenv("SINK_OUTPUT_DIR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SinkFile, cfg.Sink.Kind)
	assert.Equal(t, "/tmp/experts", cfg.Sink.OutputDir)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	valid := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)
		cfg.Sink.Kind = SinkFile
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"end before start", func(c *Config) { c.Crawl.Start, c.Crawl.End = 5, 2 }},
		{"unknown driver", func(c *Config) { c.Browser.Driver = "lynx" }},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "s3" }},
		{"supabase without key", func(c *Config) { c.Sink.Kind = SinkSupabase; c.Sink.SupabaseURL = "https://x.supabase.co" }},
		{"inverted rate limit", func(c *Config) { c.RateLimit.Min = time.Minute }},
		{"empty relay batch", func(c *Config) { c.Relay.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	db := cfg.DatabaseConfig()
	assert.Equal(t, "experts", db.Database)
	assert.Equal(t, int32(10), db.MaxConns)
	assert.Equal(t, "postgres://postgres:@localhost:5432/experts?sslmode=disable", db.DSN())
}
