package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/expert-scraper/internal/config"
	"github.com/maltedev/expert-scraper/internal/events"
	"github.com/maltedev/expert-scraper/pkg/logger"
)

func main() {
	group := flag.String("group", "profile-consumer-group", "consumer group name")
	name := flag.String("name", "consumer-1", "consumer name within the group")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis", "addr", cfg.Redis.Addr)

	// Each stored profile is written to stdout as one JSON line.
	enc := json.NewEncoder(os.Stdout)
	consumer := events.NewConsumer(rdb, func(ctx context.Context, p *events.ProfileUpsertedPayload) error {
		return enc.Encode(p)
	}, log, events.ConsumerConfig{
		Group: *group,
		Name:  *name,
	})

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
}
