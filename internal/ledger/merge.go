package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ImportItem is one externally supplied record. Nil pointers mean the field was
// absent from the payload.
type ImportItem struct {
	Article               string
	Name                  string
	URL                   string
	InitialPrice          *decimal.Decimal
	CurrentPrice          *decimal.Decimal
	PriceHistory          []PricePoint
	LastNotifiedPrice     *decimal.Decimal
	NotificationThreshold *decimal.Decimal
	AddedDate             *time.Time
	LastUpdated           *time.Time
}

// Rejection reports an imported record that was not applied.
type Rejection struct {
	Article string
	Err     error
}

// MergeReport summarises a Merge call.
type MergeReport struct {
	Inserted  []string
	Merged    []string
	Unchanged []string
	Rejected  []Rejection
}

// Merge reconciles imported records with the ledger. Matching articles get their
// histories unioned by date (existing days win) and keep the lower initial price;
// unknown articles are inserted. A record that cannot become an item rejects the
// whole batch with an *ImportError before anything is applied. Inserts are applied
// last and rejected one by one once capacity is reached. Merge never removes items
// and never evaluates drops.
func (l *Ledger) Merge(items []ImportItem) (MergeReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var report MergeReport
	now := l.now().UTC()

	updates := make([]ImportItem, 0)
	pending := make([]*TrackedItem, 0)
	pendingByArticle := make(map[string]*TrackedItem)
	var problems []string

	for i, in := range items {
		if _, ok := l.items[in.Article]; ok {
			updates = append(updates, in)
			continue
		}
		if queued, ok := pendingByArticle[in.Article]; ok {
			mergeInto(queued, in, now)
			continue
		}
		item, err := l.buildItem(in, now)
		if err != nil {
			problems = append(problems, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		pending = append(pending, item)
		pendingByArticle[item.Article] = item
	}
	if len(problems) > 0 {
		return MergeReport{}, &ImportError{Parsed: len(items) - len(problems), Total: len(items), Problems: problems}
	}

	for _, in := range updates {
		if mergeInto(l.items[in.Article], in, now) {
			report.Merged = append(report.Merged, in.Article)
			l.version++
		} else {
			report.Unchanged = append(report.Unchanged, in.Article)
		}
	}

	for _, item := range pending {
		if l.capacity > 0 && len(l.items) >= l.capacity {
			report.Rejected = append(report.Rejected, Rejection{
				Article: item.Article,
				Err:     fmt.Errorf("%w: %d items", ErrCapacityExceeded, l.capacity),
			})
			continue
		}
		l.items[item.Article] = item
		l.order = append(l.order, item.Article)
		report.Inserted = append(report.Inserted, item.Article)
		l.version++
	}

	return report, nil
}

func mergeInto(existing *TrackedItem, in ImportItem, now time.Time) bool {
	changed := false

	history, added := unionHistory(existing.PriceHistory, repairHistory(in.PriceHistory))
	if added {
		existing.PriceHistory = history
		changed = true
	}

	if in.InitialPrice != nil && in.InitialPrice.IsPositive() && in.InitialPrice.LessThan(existing.InitialPrice) {
		existing.InitialPrice = *in.InitialPrice
		changed = true
	}

	if in.CurrentPrice != nil && in.CurrentPrice.IsPositive() && !in.CurrentPrice.Equal(existing.CurrentPrice) {
		existing.CurrentPrice = *in.CurrentPrice
		existing.LastUpdated = now
		if in.LastUpdated != nil {
			existing.LastUpdated = in.LastUpdated.UTC()
		}
		changed = true
	}

	if in.NotificationThreshold != nil && in.NotificationThreshold.IsPositive() &&
		!in.NotificationThreshold.Equal(existing.NotificationThreshold) {
		existing.NotificationThreshold = *in.NotificationThreshold
		changed = true
	}

	return changed
}

func (l *Ledger) buildItem(in ImportItem, now time.Time) (*TrackedItem, error) {
	if in.Article == "" {
		return nil, ErrMissingArticle
	}

	history := repairHistory(in.PriceHistory)

	var current decimal.Decimal
	switch {
	case in.CurrentPrice != nil && in.CurrentPrice.IsPositive():
		current = *in.CurrentPrice
	case len(history) > 0:
		current = history[len(history)-1].Price
	case in.InitialPrice != nil && in.InitialPrice.IsPositive():
		current = *in.InitialPrice
	default:
		return nil, fmt.Errorf("%w for article %s", ErrMissingPrice, in.Article)
	}

	initial := current
	switch {
	case in.InitialPrice != nil && in.InitialPrice.IsPositive():
		initial = *in.InitialPrice
	case len(history) > 0:
		initial = history[0].Price
	}

	threshold := l.threshold
	if in.NotificationThreshold != nil && in.NotificationThreshold.IsPositive() {
		threshold = *in.NotificationThreshold
	}

	added := now
	if in.AddedDate != nil && !in.AddedDate.IsZero() {
		added = in.AddedDate.UTC()
	}
	updated := added
	if in.LastUpdated != nil && !in.LastUpdated.IsZero() {
		updated = in.LastUpdated.UTC()
	}

	if len(history) == 0 {
		history = []PricePoint{{Price: current, Date: dayOf(updated)}}
	}

	name := in.Name
	if name == "" {
		name = PlaceholderName
	}

	item := &TrackedItem{
		Article:               in.Article,
		Name:                  name,
		URL:                   in.URL,
		InitialPrice:          initial,
		CurrentPrice:          current,
		PriceHistory:          history,
		NotificationThreshold: threshold,
		AddedDate:             added,
		LastUpdated:           updated,
	}
	if in.LastNotifiedPrice != nil && in.LastNotifiedPrice.IsPositive() {
		v := *in.LastNotifiedPrice
		item.LastNotifiedPrice = &v
	}
	return item, nil
}
