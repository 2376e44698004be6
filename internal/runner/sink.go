package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/expert-scraper/internal/config"
	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/institution"
	"github.com/maltedev/expert-scraper/internal/storage"
)

// OpenSink opens the sink named by cfg.Sink.Kind. db is used by the postgres
// sink and may be nil for the others; registry supplies per-table column
// shapes to the supabase sink and may be nil. The returned close func is
// never nil.
func OpenSink(ctx context.Context, cfg *config.Config, db *database.DB, registry *institution.Registry, logger *slog.Logger) (crawl.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink.Kind {
	case config.SinkFile:
		sink, err := storage.NewFileSink(cfg.Sink.OutputDir)
		if err != nil {
			return nil, noop, err
		}
		return sink, noop, nil

	case config.SinkSQLite:
		sink, err := storage.OpenSQLite(ctx, cfg.Sink.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return sink, sink.Close, nil

	case config.SinkSupabase:
		var textPosition map[string]bool
		if registry != nil {
			textPosition = registry.TextPositionTables()
		}
		sink, err := storage.NewSupabaseSink(storage.SupabaseConfig{
			URL:          cfg.Sink.SupabaseURL,
			Key:          cfg.Sink.SupabaseKey,
			Timeout:      cfg.Browser.Timeout,
			Retries:      cfg.Browser.Retries,
			TextPosition: textPosition,
		})
		if err != nil {
			return nil, noop, err
		}
		return sink, noop, nil

	case config.SinkPostgres:
		closeDB := noop
		if db == nil {
			var err error
			db, err = database.New(ctx, cfg.DatabaseConfig())
			if err != nil {
				return nil, noop, err
			}
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, noop, err
			}
			closeDB = func() error {
				db.Close()
				return nil
			}
		}
		return storage.NewPostgresSink(db, logger), closeDB, nil
	}

	return nil, noop, fmt.Errorf("unknown sink %q", cfg.Sink.Kind)
}
