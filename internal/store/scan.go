package store

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/cardwatch/internal/model"
)

// timeLayout is fixed width so that TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Fall back for values written by other tools.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, eris.Wrapf(err, "parse time %q", s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPrice(p decimal.NullDecimal) sql.NullString {
	if !p.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: p.Decimal.String(), Valid: true}
}

func parsePrice(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, eris.Wrapf(err, "parse price %q", s.String)
	}
	return decimal.NewNullDecimal(d), nil
}

// nullTimestamp scans TEXT timestamps (SQLite) and native timestamps
// (Postgres) alike.
type nullTimestamp struct {
	Time  time.Time
	Valid bool
}

func (n *nullTimestamp) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = x.UTC(), true
		return nil
	case string:
		t, err := parseTime(x)
		if err != nil {
			return err
		}
		n.Time, n.Valid = t.UTC(), true
		return nil
	case []byte:
		return n.Scan(string(x))
	default:
		return eris.Errorf("unsupported timestamp type %T", v)
	}
}

// entryRow holds the raw column values of a watchlist row. Both backends
// select the same column list so one decoder serves both.
type entryRow struct {
	name        string
	externalID  sql.NullString
	price       sql.NullString
	kind        sql.NullString
	lastUpdated nullTimestamp
	addedAt     nullTimestamp
}

func (r *entryRow) dest() []any {
	return []any{&r.name, &r.externalID, &r.price, &r.kind, &r.lastUpdated, &r.addedAt}
}

func (r *entryRow) entry() (model.WatchlistEntry, error) {
	price, err := parsePrice(r.price)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	e := model.WatchlistEntry{
		Name:         r.name,
		ExternalID:   r.externalID.String,
		CurrentPrice: price,
		PriceKind:    model.PriceKind(r.kind.String),
		AddedAt:      r.addedAt.Time,
	}
	if r.lastUpdated.Valid {
		t := r.lastUpdated.Time
		e.LastUpdated = &t
	}
	return e, nil
}

type observationRow struct {
	id         int64
	name       string
	price      string
	kind       sql.NullString
	recordedAt nullTimestamp
}

func (r *observationRow) dest() []any {
	return []any{&r.id, &r.name, &r.price, &r.kind, &r.recordedAt}
}

func (r *observationRow) observation() (model.PriceObservation, error) {
	d, err := decimal.NewFromString(r.price)
	if err != nil {
		return model.PriceObservation{}, eris.Wrapf(err, "parse price %q", r.price)
	}
	return model.PriceObservation{
		ID:         r.id,
		Name:       r.name,
		Price:      d,
		PriceKind:  model.PriceKind(r.kind.String),
		RecordedAt: r.recordedAt.Time,
	}, nil
}
