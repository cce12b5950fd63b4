package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout renders a UTC calendar day in price history entries.
const DateLayout = "2006-01-02"

// PricePoint is the observed price for one UTC calendar day.
type PricePoint struct {
	Price decimal.Decimal `json:"price"`
	Date  string          `json:"date"`
}

// TrackedItem is a product under price surveillance, keyed by Article.
type TrackedItem struct {
	Article               string           `json:"article"`
	Name                  string           `json:"name"`
	URL                   string           `json:"url"`
	InitialPrice          decimal.Decimal  `json:"initialPrice"`
	CurrentPrice          decimal.Decimal  `json:"currentPrice"`
	PriceHistory          []PricePoint     `json:"priceHistory"`
	LastNotifiedPrice     *decimal.Decimal `json:"lastNotifiedPrice"`
	NotificationThreshold decimal.Decimal  `json:"notificationThreshold"`
	AddedDate             time.Time        `json:"addedDate"`
	LastUpdated           time.Time        `json:"lastUpdated"`
}

// Clone returns a deep copy safe to hand out of the ledger.
func (t TrackedItem) Clone() TrackedItem {
	out := t
	out.PriceHistory = append([]PricePoint(nil), t.PriceHistory...)
	if t.LastNotifiedPrice != nil {
		v := *t.LastNotifiedPrice
		out.LastNotifiedPrice = &v
	}
	return out
}

// Change is CurrentPrice minus InitialPrice.
func (t TrackedItem) Change() decimal.Decimal {
	return t.CurrentPrice.Sub(t.InitialPrice)
}

// dayOf renders the UTC calendar day of ts.
func dayOf(ts time.Time) string {
	return ts.UTC().Format(DateLayout)
}

// upsertDay records price for day, overwriting an existing entry for that day.
func upsertDay(history []PricePoint, day string, price decimal.Decimal) []PricePoint {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Date == day {
			history[i].Price = price
			return history
		}
	}
	history = append(history, PricePoint{Price: price, Date: day})
	sortHistory(history)
	return history
}

// unionHistory keeps every entry of base and adds extra entries for days base
// does not have.
func unionHistory(base, extra []PricePoint) ([]PricePoint, bool) {
	seen := make(map[string]struct{}, len(base))
	for _, p := range base {
		seen[p.Date] = struct{}{}
	}
	out := append([]PricePoint(nil), base...)
	added := false
	for _, p := range extra {
		if _, ok := seen[p.Date]; ok {
			continue
		}
		seen[p.Date] = struct{}{}
		out = append(out, p)
		added = true
	}
	sortHistory(out)
	return out, added
}

// repairHistory drops entries with unusable dates or prices, keeps the first entry
// per day and sorts ascending.
func repairHistory(history []PricePoint) []PricePoint {
	out := make([]PricePoint, 0, len(history))
	seen := make(map[string]struct{}, len(history))
	for _, p := range history {
		if _, err := time.Parse(DateLayout, p.Date); err != nil {
			continue
		}
		if !p.Price.IsPositive() {
			continue
		}
		if _, dup := seen[p.Date]; dup {
			continue
		}
		seen[p.Date] = struct{}{}
		out = append(out, p)
	}
	sortHistory(out)
	return out
}

func sortHistory(history []PricePoint) {
	sort.SliceStable(history, func(i, j int) bool { return history[i].Date < history[j].Date })
}
