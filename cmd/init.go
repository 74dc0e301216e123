package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cardwatch/internal/reconcile"
	"github.com/sells-group/cardwatch/internal/resilience"
	"github.com/sells-group/cardwatch/internal/store"
	"github.com/sells-group/cardwatch/pkg/scryfall"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cardwatch.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func initCatalog() scryfall.Client {
	c := cfg.Catalog

	breakerCfg := resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("scryfall: circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return scryfall.NewClient(
		scryfall.WithBaseURL(c.BaseURL),
		scryfall.WithUserAgent(c.UserAgent),
		scryfall.WithHTTPClient(&http.Client{Timeout: c.Timeout()}),
		scryfall.WithRateLimit(c.RatePerSec, c.Burst),
		scryfall.WithRetry(resilience.FromRetryConfig(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs)),
		scryfall.WithCircuitBreaker(resilience.NewCircuitBreaker(breakerCfg)),
		scryfall.WithBatchSize(c.BatchSize),
	)
}

func newEngine(st store.Store, catalog reconcile.Catalog) *reconcile.Engine {
	return reconcile.New(st, catalog, reconcile.Config{
		Workers:     cfg.Check.Workers,
		ItemTimeout: cfg.Check.ItemTimeout(),
		Batch:       cfg.Catalog.BatchSize > 0,
		BatchSize:   cfg.Catalog.BatchSize,
	})
}
