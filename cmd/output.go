package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cardwatch/internal/model"
	"github.com/sells-group/cardwatch/internal/report"
)

// entryRow is the YAML shape of a watchlist entry; prices are rendered as
// exact decimal strings.
type entryRow struct {
	Name        string     `yaml:"name"`
	ExternalID  string     `yaml:"external_id,omitempty"`
	Price       string     `yaml:"price,omitempty"`
	PriceKind   string     `yaml:"price_kind,omitempty"`
	LastUpdated *time.Time `yaml:"last_updated,omitempty"`
	AddedAt     time.Time  `yaml:"added_at"`
}

func toRows(entries []model.WatchlistEntry) []entryRow {
	rows := make([]entryRow, len(entries))
	for i, e := range entries {
		rows[i] = entryRow{
			Name:        e.Name,
			ExternalID:  e.ExternalID,
			PriceKind:   string(e.PriceKind),
			LastUpdated: e.LastUpdated,
			AddedAt:     e.AddedAt,
		}
		if e.CurrentPrice.Valid {
			rows[i].Price = e.CurrentPrice.Decimal.String()
		}
	}
	return rows
}

func writeEntries(w io.Writer, entries []model.WatchlistEntry, format string, now time.Time) error {
	switch format {
	case "json":
		if entries == nil {
			entries = []model.WatchlistEntry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(entries), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(toRows(entries)), "encode yaml")
	case "table", "":
		formatEntries(w, entries, now)
		return nil
	default:
		return eris.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func formatEntries(w io.Writer, entries []model.WatchlistEntry, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRICE\tKIND\tUPDATED\tADDED")
	for _, e := range entries {
		updated := "-"
		if e.LastUpdated != nil {
			updated = humanize.RelTime(*e.LastUpdated, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Name,
			priceText(e.CurrentPrice, e.PriceKind),
			dash(string(e.PriceKind)),
			updated,
			e.AddedAt.Local().Format("2006-01-02"),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatHistory(w io.Writer, obs []model.PriceObservation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tPRICE\tKIND")
	for _, o := range obs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			o.RecordedAt.Local().Format("2006-01-02 15:04:05"),
			report.Money(o.Price, o.PriceKind.Currency()),
			dash(string(o.PriceKind)),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatSearch(w io.Writer, items []model.ItemRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSET\tNUMBER\tRARITY\tPRICE\tID")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Name,
			dash(it.SetCode),
			dash(it.CollectorNumber),
			dash(it.Rarity),
			priceText(it.Price, it.PriceKind),
			it.ExternalID,
		)
	}
	tw.Flush() //nolint:errcheck
}

func priceText(p decimal.NullDecimal, kind model.PriceKind) string {
	if !p.Valid {
		return "-"
	}
	return report.Money(p.Decimal, kind.Currency())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
