package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maltedev/expert-scraper/internal/browser"
	"github.com/maltedev/expert-scraper/internal/config"
	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/jobs"
	"github.com/maltedev/expert-scraper/internal/ratelimit"
	"github.com/maltedev/expert-scraper/internal/runner"
	"github.com/maltedev/expert-scraper/pkg/logger"
)

var crawlFlags struct {
	start       int
	end         int
	endpoint    string
	driver      string
	sink        string
	supabaseURL string
	supabaseKey string
	outputDir   string
	sqlitePath  string
	dedupe      bool
	logLevel    string
}

func init() {
	f := crawlCmd.Flags()
	f.IntVar(&crawlFlags.start, "start", 0, "first listing page index to fetch")
	f.IntVar(&crawlFlags.end, "end", 0, "last listing page index the run may visit")
	f.StringVar(&crawlFlags.endpoint, "session-endpoint", "", "CDP endpoint of a running browser, e.g. http://127.0.0.1:9222")
	f.StringVar(&crawlFlags.endpoint, "port", "", "remote debugging port of a running browser")
	f.StringVar(&crawlFlags.driver, "driver", "", "page driver: playwright, chromedp or http")
	f.StringVar(&crawlFlags.sink, "sink", "", "record sink: supabase, postgres, sqlite or file")
	f.StringVar(&crawlFlags.supabaseURL, "supabase-url", "", "Supabase project URL")
	f.StringVar(&crawlFlags.supabaseKey, "supabase-key", "", "Supabase service key")
	f.StringVar(&crawlFlags.outputDir, "output", "", "output directory of the file sink")
	f.StringVar(&crawlFlags.sqlitePath, "sqlite", "", "database file of the sqlite sink")
	f.BoolVar(&crawlFlags.dedupe, "dedupe", false, "skip links already seen in this run")
	f.StringVar(&crawlFlags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <institution>",
	Short: "Crawls one institution's expert directory into the configured sink.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("start") {
		cfg.Crawl.Start = crawlFlags.start
	}
	if f.Changed("end") {
		cfg.Crawl.End = crawlFlags.end
	}
	if f.Changed("session-endpoint") || f.Changed("port") {
		cfg.Browser.SessionEndpoint = crawlFlags.endpoint
	}
	if f.Changed("driver") {
		cfg.Browser.Driver = crawlFlags.driver
	}
	if f.Changed("sink") {
		cfg.Sink.Kind = crawlFlags.sink
	}
	if f.Changed("supabase-url") {
		cfg.Sink.SupabaseURL = crawlFlags.supabaseURL
	}
	if f.Changed("supabase-key") {
		cfg.Sink.SupabaseKey = crawlFlags.supabaseKey
	}
	if f.Changed("output") {
		cfg.Sink.OutputDir = crawlFlags.outputDir
	}
	if f.Changed("sqlite") {
		cfg.Sink.SQLitePath = crawlFlags.sqlitePath
	}
	if f.Changed("dedupe") {
		cfg.Crawl.Dedupe = crawlFlags.dedupe
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = crawlFlags.logLevel
	}
	if f.Changed("definitions") {
		cfg.Crawl.Definitions = definitionsPath
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	registry, err := loadRegistry(cfg.Crawl.Definitions)
	if err != nil {
		return err
	}
	def, err := registry.Get(args[0])
	if err != nil {
		return err
	}
	start, end := def.Range(cfg.Crawl.Start, cfg.Crawl.End)

	sink, closeSink, err := runner.OpenSink(ctx, cfg, nil, registry, log)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer closeSink()

	opener := &runner.SessionOpener{
		Driver:  browser.Driver(cfg.Browser.Driver),
		Browser: cfg.BrowserOptions(),
		LockDir: cfg.Browser.LockDir,
		Logger:  log,
	}
	limits := cfg.RateLimit
	limiter := func() ratelimit.RateLimiter {
		return ratelimit.New(limits.Min, limits.Max, limits.PerMinute)
	}

	r := runner.New(registry, opener, sink, limiter, log)
	summary, err := r.Run(ctx, uuid.NewString(), jobs.Request{
		Institution: def.Key,
		Start:       start,
		End:         end,
		Dedupe:      cfg.Crawl.Dedupe,
	})
	if summary == nil {
		return err
	}

	writeSummary(cmd.OutOrStdout(), summary)
	if err != nil {
		return fmt.Errorf("%w: %v", errAborted, err)
	}
	return nil
}

func writeSummary(w io.Writer, s *crawl.Summary) {
	status := "completed"
	if s.Aborted {
		status = "aborted"
	}

	fmt.Fprintf(w, "run %s (%s) %s in %s\n", s.RunID, s.Institution, status, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  pages:      %d visited, %d to %d\n", s.PagesVisited, s.StartPage, s.LastPage)
	fmt.Fprintf(w, "  records:    %d discovered, %d stored (%d inserted, %d updated)\n",
		s.Discovered, s.Processed, s.Inserted, s.Updated)

	if len(s.Skipped) > 0 {
		reasons := make([]string, 0, len(s.Skipped))
		for reason, n := range s.Skipped {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(w, "  skipped:    %d (%s)\n", s.SkippedTotal(), strings.Join(reasons, ", "))
	}

	fmt.Fprintf(w, "  stopped by: %s\n", s.StopReason)
	if s.Error != "" {
		fmt.Fprintf(w, "  error:      %s\n", s.Error)
	}
}
