package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeEntry describes a price move detected during a reconciliation pass.
// DeltaPct is nil when the previous price was zero.
type ChangeEntry struct {
	Name      string          `json:"name"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Delta     decimal.Decimal `json:"delta"`
	DeltaPct  *float64        `json:"delta_pct,omitempty"`
	PriceKind PriceKind       `json:"price_kind,omitempty"`
}

// Up reports whether the price rose.
func (c ChangeEntry) Up() bool {
	return c.Delta.IsPositive()
}

// ReconciliationResult is the outcome of one pass over the watchlist.
type ReconciliationResult struct {
	PassID           string        `json:"pass_id"`
	Checked          int           `json:"checked"`
	Updated          int           `json:"updated"`
	Changed          []ChangeEntry `json:"changed"`
	Unavailable      []string      `json:"unavailable,omitempty"`
	CheckpointBefore *time.Time    `json:"checkpoint_before,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}
