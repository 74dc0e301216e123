// Package store persists the watchlist, the append-only price ledger and the
// last-check checkpoint.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/cardwatch/internal/model"
)

// AddResult is the outcome of Store.Add.
type AddResult int

const (
	AddResultAdded AddResult = iota
	AddResultAlreadyExists
)

func (r AddResult) String() string {
	if r == AddResultAlreadyExists {
		return "already_exists"
	}
	return "added"
}

// Sentinel errors for callers that need to map non-fatal outcomes onto
// protocol errors (HTTP status codes, CLI exit messages). Store methods
// never return them.
var (
	ErrAlreadyExists = eris.New("watchlist entry already exists")
	ErrNotFound      = eris.New("watchlist entry not found")
)

// DefaultHistoryLimit applies when HistoryFor is called with a non-positive limit.
const DefaultHistoryLimit = 10

// checkpointKey is the app_metadata key holding the last reconciliation time.
const checkpointKey = "last_price_check"

// Store defines the persistence interface for the price tracker.
type Store interface {
	// Watchlist
	Add(ctx context.Context, entry model.NewEntry) (AddResult, error)
	Remove(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]model.WatchlistEntry, error)
	Get(ctx context.Context, name string) (*model.WatchlistEntry, error)
	SetPrice(ctx context.Context, name string, price decimal.Decimal, kind model.PriceKind) (bool, decimal.NullDecimal, error)

	// Ledger
	HistoryFor(ctx context.Context, name string, limit int) ([]model.PriceObservation, error)

	// Checkpoint
	Checkpoint(ctx context.Context) (*time.Time, error)
	SetCheckpoint(ctx context.Context, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
