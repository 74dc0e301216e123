package scryfall

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/cardwatch/internal/model"
)

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

type card struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SetName         string `json:"set_name"`
	Set             string `json:"set"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity"`
	ScryfallURI     string `json:"scryfall_uri"`
	Prices          prices `json:"prices"`
}

// prices mirrors the Scryfall prices object. Missing tiers are null.
type prices struct {
	USD     *string `json:"usd"`
	USDFoil *string `json:"usd_foil"`
	EUR     *string `json:"eur"`
}

type cardList struct {
	Data    []card `json:"data"`
	HasMore bool   `json:"has_more"`
}

type identifier struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type collectionRequest struct {
	Identifiers []identifier `json:"identifiers"`
}

type collectionResponse struct {
	Data     []card       `json:"data"`
	NotFound []identifier `json:"not_found"`
}

// match finds the returned card for k. Names compare case-insensitively
// and also match the front face of a double-faced card.
func (r collectionResponse) match(k model.ItemKey) (card, bool) {
	for _, cd := range r.Data {
		if k.ExternalID != "" {
			if cd.ID == k.ExternalID {
				return cd, true
			}
			continue
		}
		if nameMatches(cd.Name, k.Name) {
			return cd, true
		}
	}
	return card{}, false
}

func nameMatches(cardName, want string) bool {
	if strings.EqualFold(cardName, want) {
		return true
	}
	front, _, ok := strings.Cut(cardName, " // ")
	return ok && strings.EqualFold(front, want)
}

func (cd card) record() model.ItemRecord {
	price, kind := selectPrice(cd.Prices)
	return model.ItemRecord{
		Name:            cd.Name,
		ExternalID:      cd.ID,
		Price:           price,
		PriceKind:       kind,
		SetName:         cd.SetName,
		SetCode:         cd.Set,
		CollectorNumber: cd.CollectorNumber,
		Rarity:          cd.Rarity,
		URI:             cd.ScryfallURI,
	}
}

// selectPrice picks the first usable tier in the order usd, usd_foil, eur.
// Tiers that are null, empty or unparseable are skipped.
func selectPrice(p prices) (decimal.NullDecimal, model.PriceKind) {
	tiers := []struct {
		raw  *string
		kind model.PriceKind
	}{
		{p.USD, model.PriceKindUSD},
		{p.USDFoil, model.PriceKindUSDFoil},
		{p.EUR, model.PriceKindEUR},
	}
	for _, t := range tiers {
		if t.raw == nil || *t.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(*t.raw)
		if err != nil {
			continue
		}
		return decimal.NewNullDecimal(d), t.kind
	}
	return decimal.NullDecimal{}, ""
}
