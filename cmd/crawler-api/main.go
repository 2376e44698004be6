package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/expert-scraper/internal/api"
	"github.com/maltedev/expert-scraper/internal/browser"
	"github.com/maltedev/expert-scraper/internal/config"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/institution"
	"github.com/maltedev/expert-scraper/internal/jobs"
	"github.com/maltedev/expert-scraper/internal/queue"
	"github.com/maltedev/expert-scraper/internal/ratelimit"
	"github.com/maltedev/expert-scraper/internal/runner"
	"github.com/maltedev/expert-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := institution.Default()
	if err != nil {
		log.Error("failed to load institutions", "error", err)
		os.Exit(1)
	}
	if cfg.Crawl.Definitions != "" {
		if err := registry.Load(cfg.Crawl.Definitions); err != nil {
			log.Error("failed to load institution definitions", "path", cfg.Crawl.Definitions, "error", err)
			os.Exit(1)
		}
	}

	// Runs and outbox events live in Postgres when the postgres sink is used;
	// otherwise run history is kept in memory.
	var (
		db     *database.DB
		store  jobs.RunStore = jobs.NewMemoryStore()
		outbox *database.OutboxRepository
	)
	if cfg.Sink.Kind == config.SinkPostgres {
		db, err = database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		store = database.NewRunRepository(db)
		outbox = database.NewOutboxRepository(db)
	}

	sink, closeSink, err := runner.OpenSink(ctx, cfg, db, registry, log)
	if err != nil {
		log.Error("failed to open sink", "sink", cfg.Sink.Kind, "error", err)
		os.Exit(1)
	}
	defer closeSink()

	limits := cfg.RateLimit
	crawlRunner := runner.New(registry, &runner.SessionOpener{
		Driver:  browser.Driver(cfg.Browser.Driver),
		Browser: cfg.BrowserOptions(),
		LockDir: cfg.Browser.LockDir,
		Logger:  log,
	}, sink, func() ratelimit.RateLimiter {
		return ratelimit.New(limits.Min, limits.Max, limits.PerMinute)
	}, log)

	runQueue := queue.NewInMemoryQueue()
	manager := jobs.NewManager(store, runQueue, crawlRunner, log)

	var stats api.OutboxStats
	if outbox != nil {
		stats = outbox
	}
	handlers := api.NewHandlers(manager, registry, stats, log)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, nil),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = runQueue.Close()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := manager.StartWorker(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if outbox != nil {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, outbox events stay pending", "addr", cfg.Redis.Addr, "error", err)
		} else {
			relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Relay.Interval,
				BatchSize:    cfg.Relay.BatchSize,
				StreamMaxLen: int64(cfg.Relay.StreamMaxLen),
			})
			g.Go(func() error {
				err := relay.Start(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
