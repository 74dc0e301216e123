// Package report renders reconciliation results for people.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/shopspring/decimal"

	"github.com/sells-group/cardwatch/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// Format renders result relative to the previous checkpoint.
func Format(result *model.ReconciliationResult, checkpointBefore *time.Time) string {
	return FormatAt(result, checkpointBefore, time.Now())
}

// FormatAt is Format with an explicit clock for the relative timestamp.
func FormatAt(result *model.ReconciliationResult, checkpointBefore *time.Time, now time.Time) string {
	if checkpointBefore == nil {
		return fmt.Sprintf("First price check complete; baseline recorded for %s.",
			english.Plural(result.Updated, "card", ""))
	}

	since := fmt.Sprintf("%s (%s)",
		checkpointBefore.Format(timeLayout),
		humanize.RelTime(*checkpointBefore, now, "ago", "from now"))

	if len(result.Changed) == 0 {
		return "No price changes since " + since + "."
	}

	var b strings.Builder
	b.WriteString("Price changes since " + since + ":")
	for _, ch := range result.Changed {
		b.WriteString("\n  ")
		b.WriteString(Line(ch))
	}
	return b.String()
}

// Line renders one change, e.g. "↑ Card: $5.00 → $7.50 (+50.0%) [USD]".
func Line(ch model.ChangeEntry) string {
	arrow := "↓"
	if ch.Up() {
		arrow = "↑"
	}

	pct := "n/a"
	if ch.DeltaPct != nil {
		pct = fmt.Sprintf("%+.1f%%", *ch.DeltaPct)
	}

	cur := ch.PriceKind.Currency()
	line := fmt.Sprintf("%s %s: %s → %s (%s)", arrow, ch.Name,
		Money(ch.OldPrice, cur), Money(ch.NewPrice, cur), pct)
	if ch.PriceKind != "" {
		line += " [" + string(ch.PriceKind) + "]"
	}
	return line
}

// Money formats amount in the given ISO currency, rounding to the
// currency's minor unit. Unknown currencies fall back to a plain number.
func Money(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

// Summary is a one-line count of what a pass did.
func Summary(result *model.ReconciliationResult) string {
	s := fmt.Sprintf("checked %d, updated %d, changed %d",
		result.Checked, result.Updated, len(result.Changed))
	if n := len(result.Unavailable); n > 0 {
		s += fmt.Sprintf(", unavailable %d", n)
	}
	return s
}
