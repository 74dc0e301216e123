package model

import "github.com/shopspring/decimal"

// ItemKey identifies a card for a catalog lookup. ExternalID wins when set.
type ItemKey struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id,omitempty"`
}

// ItemRecord is a normalized catalog record.
type ItemRecord struct {
	Name            string              `json:"name"`
	ExternalID      string              `json:"external_id"`
	Price           decimal.NullDecimal `json:"price"`
	PriceKind       PriceKind           `json:"price_kind,omitempty"`
	SetName         string              `json:"set_name,omitempty"`
	SetCode         string              `json:"set_code,omitempty"`
	CollectorNumber string              `json:"collector_number,omitempty"`
	Rarity          string              `json:"rarity,omitempty"`
	URI             string              `json:"uri,omitempty"`
}

// LookupStatus is the outcome of a single catalog lookup.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	LookupNotFound
	LookupUnavailable
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	case LookupUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Lookup is the per-item result of a catalog fetch. Err is set only when
// Status is LookupUnavailable.
type Lookup struct {
	Status LookupStatus
	Item   ItemRecord
	Err    error
}

// Found wraps a record as a successful lookup.
func Found(item ItemRecord) Lookup {
	return Lookup{Status: LookupFound, Item: item}
}

// NotFound is a lookup for a key the catalog does not know.
func NotFound() Lookup {
	return Lookup{Status: LookupNotFound}
}

// Unavailable records a failed fetch.
func Unavailable(err error) Lookup {
	return Lookup{Status: LookupUnavailable, Err: err}
}

// Priced reports whether the lookup carries a usable price.
func (l Lookup) Priced() bool {
	return l.Status == LookupFound && l.Item.Price.Valid
}
