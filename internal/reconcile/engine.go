// Package reconcile brings every watchlist price up to date in one pass and
// reports what moved.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/store"
)

var changeThreshold = decimal.New(1, -2)

// ChangeThreshold returns the absolute price move a pass must see before it
// reports a change.
func ChangeThreshold() decimal.Decimal { return changeThreshold }

var hundred = decimal.NewFromInt(100)

// Catalog resolves a single card to its current catalog record.
type Catalog interface {
	FetchOne(ctx context.Context, key model.ItemKey) model.Lookup
}

// BatchCatalog can resolve many cards per request. Results must be
// index-aligned with keys.
type BatchCatalog interface {
	Catalog
	FetchMany(ctx context.Context, keys []model.ItemKey) []model.Lookup
}

// Config controls a reconciliation engine.
type Config struct {
	// Workers bounds concurrent catalog lookups. Defaults to 4.
	Workers int
	// ItemTimeout bounds each FetchOne call. Defaults to 10s.
	ItemTimeout time.Duration
	// Batch uses FetchMany when the catalog supports it.
	Batch bool
	// BatchSize is how many keys the catalog packs into one request. A
	// FetchMany call gets ItemTimeout per request. Defaults to 75.
	BatchSize int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs reconciliation passes. Passes never overlap.
type Engine struct {
	store   store.Store
	catalog Catalog
	cfg     Config

	mu sync.Mutex
}

// New creates an Engine.
func New(st store.Store, catalog Catalog, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 75
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: st, catalog: catalog, cfg: cfg}
}

// Run executes one pass over the whole watchlist. Catalog failures skip the
// affected card; any store failure aborts the pass and leaves the
// checkpoint untouched.
func (e *Engine) Run(ctx context.Context) (*model.ReconciliationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &model.ReconciliationResult{
		PassID:    uuid.NewString(),
		Changed:   []model.ChangeEntry{},
		StartedAt: e.cfg.Now().UTC(),
	}
	log := zap.L().With(zap.String("pass_id", result.PassID))

	snapshot, err := e.store.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: snapshot watchlist")
	}
	checkpoint, err := e.store.Checkpoint(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: read checkpoint")
	}
	result.Checked = len(snapshot)
	result.CheckpointBefore = checkpoint

	log.Info("reconcile: pass started", zap.Int("entries", len(snapshot)))

	lookups := e.fetch(ctx, snapshot)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "reconcile: pass canceled")
	}

	for i, entry := range snapshot {
		lk := lookups[i]
		switch {
		case lk.Status == model.LookupUnavailable:
			result.Unavailable = append(result.Unavailable, entry.Name)
			log.Warn("reconcile: catalog unavailable", zap.String("name", entry.Name), zap.Error(lk.Err))
			continue
		case lk.Status == model.LookupNotFound:
			log.Debug("reconcile: not in catalog", zap.String("name", entry.Name))
			continue
		case !lk.Priced():
			log.Debug("reconcile: no usable price", zap.String("name", entry.Name))
			continue
		}

		newPrice := lk.Item.Price.Decimal
		updated, _, err := e.store.SetPrice(ctx, entry.Name, newPrice, lk.Item.PriceKind)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: set price for %q", entry.Name)
		}
		if !updated {
			// Removed since the snapshot.
			continue
		}
		result.Updated++

		if change, ok := DetectChange(entry.Name, entry.CurrentPrice, newPrice, lk.Item.PriceKind); ok {
			result.Changed = append(result.Changed, change)
		}
	}

	if err := e.store.SetCheckpoint(ctx, result.StartedAt); err != nil {
		return nil, eris.Wrap(err, "reconcile: write checkpoint")
	}
	result.FinishedAt = e.cfg.Now().UTC()

	log.Info("reconcile: pass complete",
		zap.Int("checked", result.Checked),
		zap.Int("updated", result.Updated),
		zap.Int("changed", len(result.Changed)),
		zap.Int("unavailable", len(result.Unavailable)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

// fetch resolves every entry. The result is index-aligned with entries.
func (e *Engine) fetch(ctx context.Context, entries []model.WatchlistEntry) []model.Lookup {
	keys := make([]model.ItemKey, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key()
	}
	if len(keys) == 0 {
		return nil
	}

	if bc, ok := e.catalog.(BatchCatalog); ok && e.cfg.Batch {
		batchCtx, cancel := context.WithTimeout(ctx, e.batchTimeout(len(keys)))
		defer cancel()
		out := bc.FetchMany(batchCtx, keys)
		if len(out) == len(keys) {
			return out
		}
		err := eris.Errorf("reconcile: batch returned %d results for %d keys", len(out), len(keys))
		if batchCtx.Err() != nil {
			err = eris.Wrap(batchCtx.Err(), "reconcile: batch fetch")
		}
		out = make([]model.Lookup, len(keys))
		for i := range out {
			out[i] = model.Unavailable(err)
		}
		return out
	}

	out := make([]model.Lookup, len(keys))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, key := range keys {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
			defer cancel()
			out[i] = e.catalog.FetchOne(itemCtx, key)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// batchTimeout allows one ItemTimeout per catalog request in the batch.
func (e *Engine) batchTimeout(n int) time.Duration {
	requests := (n + e.cfg.BatchSize - 1) / e.cfg.BatchSize
	return time.Duration(requests) * e.cfg.ItemTimeout
}

// DetectChange compares a stored price with a fresh one. A missing previous
// price is never a change. The percentage is omitted when before is zero.
func DetectChange(name string, before decimal.NullDecimal, after decimal.Decimal, kind model.PriceKind) (model.ChangeEntry, bool) {
	if !before.Valid {
		return model.ChangeEntry{}, false
	}
	delta := after.Sub(before.Decimal)
	if delta.Abs().LessThanOrEqual(changeThreshold) {
		return model.ChangeEntry{}, false
	}

	change := model.ChangeEntry{
		Name:      name,
		OldPrice:  before.Decimal,
		NewPrice:  after,
		Delta:     delta,
		PriceKind: kind,
	}
	if !before.Decimal.IsZero() {
		pct, _ := delta.Div(before.Decimal).Mul(hundred).Float64()
		change.DeltaPct = &pct
	}
	return change, true
}
