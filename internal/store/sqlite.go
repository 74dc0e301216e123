package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cardwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite has a single writer; one connection keeps read-then-write
	// transactions from racing each other into SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS watchlist (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	external_id   TEXT,
	current_price TEXT,
	price_kind    TEXT,
	last_updated  TEXT,
	added_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	price       TEXT NOT NULL,
	price_kind  TEXT,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS app_metadata (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_name ON price_history(name, recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, entry model.NewEntry) (AddResult, error) {
	now := formatTime(s.nowFunc())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin add")
	}
	defer tx.Rollback() //nolint:errcheck

	var lastUpdated sql.NullString
	if entry.Price.Valid {
		lastUpdated = sql.NullString{String: now, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO watchlist (name, external_id, current_price, price_kind, last_updated, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		entry.Name, nullString(entry.ExternalID), nullPrice(entry.Price), nullString(string(entry.PriceKind)), lastUpdated, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert watchlist %s", entry.Name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return AddResultAlreadyExists, nil
	}

	if entry.Price.Valid {
		if err := s.appendObservation(ctx, tx, entry.Name, entry.Price.Decimal, entry.PriceKind, now); err != nil {
			return 0, err
		}
	}

	return AddResultAdded, eris.Wrap(tx.Commit(), "sqlite: commit add")
}

func (s *SQLiteStore) Remove(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE name = ?`, name)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete watchlist %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const sqliteEntryColumns = `name, external_id, current_price, price_kind, last_updated, added_at`

func (s *SQLiteStore) List(ctx context.Context) ([]model.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM watchlist ORDER BY name ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list watchlist")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.WatchlistEntry
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan watchlist")
		}
		e, err := r.entry()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode watchlist")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list watchlist iterate")
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (*model.WatchlistEntry, error) {
	var r entryRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM watchlist WHERE name = ?`, name,
	).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get watchlist %s", name)
	}
	e, err := r.entry()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: decode watchlist")
	}
	return &e, nil
}

func (s *SQLiteStore) SetPrice(ctx context.Context, name string, price decimal.Decimal, kind model.PriceKind) (bool, decimal.NullDecimal, error) {
	now := formatTime(s.nowFunc())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "sqlite: begin set price")
	}
	defer tx.Rollback() //nolint:errcheck

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT current_price FROM watchlist WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, decimal.NullDecimal{}, nil
	}
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrapf(err, "sqlite: read price %s", name)
	}
	previous, err := parsePrice(raw)
	if err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "sqlite: decode price")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE watchlist SET current_price = ?, price_kind = ?, last_updated = ? WHERE name = ?`,
		price.String(), nullString(string(kind)), now, name,
	); err != nil {
		return false, decimal.NullDecimal{}, eris.Wrapf(err, "sqlite: update price %s", name)
	}
	if err := s.appendObservation(ctx, tx, name, price, kind, now); err != nil {
		return false, decimal.NullDecimal{}, err
	}
	if err := tx.Commit(); err != nil {
		return false, decimal.NullDecimal{}, eris.Wrap(err, "sqlite: commit set price")
	}
	return true, previous, nil
}

func (s *SQLiteStore) appendObservation(ctx context.Context, tx *sql.Tx, name string, price decimal.Decimal, kind model.PriceKind, at string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_history (name, price, price_kind, recorded_at) VALUES (?, ?, ?, ?)`,
		name, price.String(), nullString(string(kind)), at,
	)
	return eris.Wrapf(err, "sqlite: insert price history %s", name)
}

func (s *SQLiteStore) HistoryFor(ctx context.Context, name string, limit int) ([]model.PriceObservation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, price_kind, recorded_at FROM price_history
		 WHERE name = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", name)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PriceObservation
	for rows.Next() {
		var r observationRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		o, err := r.observation()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode history")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_metadata WHERE key = ?`, checkpointKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get checkpoint")
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: decode checkpoint")
	}
	return &t, nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		checkpointKey, formatTime(at), formatTime(s.nowFunc()),
	)
	return eris.Wrap(err, "sqlite: set checkpoint")
}
