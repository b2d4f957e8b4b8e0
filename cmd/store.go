package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramline/caskwatch/internal/cycle"
	"github.com/dramline/caskwatch/internal/notify"
	"github.com/dramline/caskwatch/internal/source"
	"github.com/dramline/caskwatch/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "caskwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRunner(st store.Store) (*cycle.Runner, error) {
	origins, err := source.LoadOrigins()
	if err != nil {
		return nil, err
	}
	notifier := notify.NewWebhookNotifier(
		cfg.Notify.WebhookURL,
		time.Duration(cfg.Notify.TimeoutSecs)*time.Second,
	)
	return cycle.NewRunner(cfg, st, notifier, origins), nil
}
