package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/cardwatch/internal/db"
	"github.com/sells-group/cardwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS watchlist (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	external_id   TEXT,
	current_price NUMERIC,
	price_kind    TEXT,
	last_updated  TIMESTAMPTZ,
	added_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	price_kind  TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS app_metadata (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_price_history_name ON price_history(name, recorded_at);
`

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, entry model.NewEntry) (AddResult, error) {
	now := s.nowFunc().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin add")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastUpdated *time.Time
	if entry.Price.Valid {
		lastUpdated = &now
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO watchlist (name, external_id, current_price, price_kind, last_updated, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO NOTHING`,
		entry.Name, nullString(entry.ExternalID), nullPrice(entry.Price), nullString(string(entry.PriceKind)), lastUpdated, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert watchlist %s", entry.Name)
	}
	if tag.RowsAffected() == 0 {
		return AddResultAlreadyExists, nil
	}

	if entry.Price.Valid {
		if err := appendObservationTx(ctx, tx, entry.Name, entry.Price.Decimal, entry.PriceKind, now); err != nil {
			return 0, err
		}
	}

	return AddResultAdded, eris.Wrap(tx.Commit(ctx), "postgres: commit add")
}

func (s *PostgresStore) Remove(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE name = $1`, name)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete watchlist %s", name)
	}
	return tag.RowsAffected() > 0, nil
}

const postgresEntryColumns = `name, external_id, current_price::text, price_kind, last_updated, added_at`

func (s *PostgresStore) List(ctx context.Context) ([]model.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresEntryColumns+` FROM watchlist ORDER BY name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list watchlist")
	}
	defer rows.Close()

	var entries []model.WatchlistEntry
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan watchlist")
		}
		e, err := r.entry()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode watchlist")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list watchlist iterate")
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*model.WatchlistEntry, error) {
	var r entryRow
	err := s.pool.QueryRow(ctx,
		`SELECT `+postgresEntryColumns+` FROM watchlist WHERE name = $1`, name,
	).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get watchlist %s", name)
	}
	e, err := r.entry()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: decode watchlist")
	}
	return &e, nil
}

func (s *PostgresStore) SetPrice(ctx context.Context, name string, price decimal.Decimal, kind model.PriceKind) (bool, decimal.NullDecimal, error) {
	now := s.nowFunc().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "postgres: begin set price")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock keeps concurrent writers for the same name from interleaving.
	var raw sql.NullString
	err = tx.QueryRow(ctx,
		`SELECT current_price::text FROM watchlist WHERE name = $1 FOR UPDATE`, name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, decimal.NullDecimal{}, nil
	}
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrapf(err, "postgres: read price %s", name)
	}
	previous, err := parsePrice(raw)
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "postgres: decode price")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE watchlist SET current_price = $1, price_kind = $2, last_updated = $3 WHERE name = $4`,
		price.String(), nullString(string(kind)), now, name,
	); err != nil {
		return false, decimal.NullDecimal{}, eris.Wrapf(err, "postgres: update price %s", name)
	}
	if err := appendObservationTx(ctx, tx, name, price, kind, now); err != nil {
		return false, decimal.NullDecimal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "postgres: commit set price")
	}
	return true, previous, nil
}

func appendObservationTx(ctx context.Context, tx pgx.Tx, name string, price decimal.Decimal, kind model.PriceKind, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO price_history (name, price, price_kind, recorded_at) VALUES ($1, $2, $3, $4)`,
		name, price.String(), nullString(string(kind)), at,
	)
	return eris.Wrapf(err, "postgres: insert price history %s", name)
}

func (s *PostgresStore) HistoryFor(ctx context.Context, name string, limit int) ([]model.PriceObservation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, price::text, price_kind, recorded_at FROM price_history
		 WHERE name = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		name, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", name)
	}
	defer rows.Close()

	var out []model.PriceObservation
	for rows.Next() {
		var r observationRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		o, err := r.observation()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode history")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: history iterate")
}

func (s *PostgresStore) Checkpoint(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM app_metadata WHERE key = $1`, checkpointKey,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get checkpoint")
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: decode checkpoint")
	}
	return &t, nil
}

func (s *PostgresStore) SetCheckpoint(ctx context.Context, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_metadata (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		checkpointKey, formatTime(at), s.nowFunc().UTC(),
	)
	return eris.Wrap(err, "postgres: set checkpoint")
}
