// Package model defines the typed records shared by the store, the catalog
// adapter, the reconciliation engine and the reporter.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceKind labels the currency or finish a stored price came from.
type PriceKind string

const (
	PriceKindUSD     PriceKind = "USD"
	PriceKindUSDFoil PriceKind = "USD (Foil)"
	PriceKindEUR     PriceKind = "EUR"
)

// Currency returns the ISO 4217 code for the kind. Unknown kinds are
// treated as USD.
func (k PriceKind) Currency() string {
	switch k {
	case PriceKindEUR:
		return "EUR"
	default:
		return "USD"
	}
}

// WatchlistEntry is a tracked card, keyed by its exact name.
type WatchlistEntry struct {
	Name         string              `json:"name" yaml:"name"`
	ExternalID   string              `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	CurrentPrice decimal.NullDecimal `json:"current_price" yaml:"-"`
	PriceKind    PriceKind           `json:"price_kind,omitempty" yaml:"price_kind,omitempty"`
	LastUpdated  *time.Time          `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	AddedAt      time.Time           `json:"added_at" yaml:"added_at"`
}

// Key returns the catalog lookup key for the entry.
func (e WatchlistEntry) Key() ItemKey {
	return ItemKey{Name: e.Name, ExternalID: e.ExternalID}
}

// NewEntry holds the caller-supplied fields for adding a card.
type NewEntry struct {
	Name       string              `json:"name" yaml:"name"`
	ExternalID string              `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	Price      decimal.NullDecimal `json:"price" yaml:"-"`
	PriceKind  PriceKind           `json:"price_kind,omitempty" yaml:"price_kind,omitempty"`
}

// PriceObservation is one row of the append-only price ledger. Name is a
// soft reference: observations outlive the watchlist entry they describe.
type PriceObservation struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	PriceKind  PriceKind       `json:"price_kind,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}
