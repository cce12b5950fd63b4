// Package ledger keeps the set of tracked items and their per-day price histories.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCapacityExceeded indicates the ledger already holds its maximum item count.
	ErrCapacityExceeded = errors.New("ledger: capacity exceeded")
	// ErrDuplicateArticle indicates the article is already tracked.
	ErrDuplicateArticle = errors.New("ledger: article already tracked")
	// ErrMissingPrice indicates the upstream capture produced no price.
	ErrMissingPrice = errors.New("ledger: missing price")
	// ErrMissingArticle indicates the upstream capture produced no article.
	ErrMissingArticle = errors.New("ledger: missing article")
	// ErrInvalidThreshold indicates a non-positive notification threshold.
	ErrInvalidThreshold = errors.New("ledger: threshold must be greater than zero")
	// ErrNotTracked indicates the article is unknown.
	ErrNotTracked = errors.New("ledger: article not tracked")
)

// DefaultThreshold is the notification threshold for items that carry none.
var DefaultThreshold = decimal.RequireFromString("0.2")

// Options configure a Ledger.
type Options struct {
	Capacity         int
	DefaultThreshold decimal.Decimal
	Now              func() time.Time
}

// NewItem is the captured data a tracked item is created from.
type NewItem struct {
	Article string
	Name    string
	URL     string
	Price   decimal.Decimal
}

// Update describes the outcome of UpdatePrice.
type Update struct {
	// Changed is false when the call was a no-op.
	Changed bool
	// Dropped reports that a drop notification should fire.
	Dropped  bool
	Previous decimal.Decimal
	Item     TrackedItem
}

// Ledger maps article to TrackedItem, preserving insertion order. It is safe for
// concurrent use; every mutation is serialised under one lock.
type Ledger struct {
	mu        sync.Mutex
	items     map[string]*TrackedItem
	order     []string
	capacity  int
	threshold decimal.Decimal
	now       func() time.Time
	version   uint64
}

// New constructs an empty ledger.
func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.DefaultThreshold.IsPositive() {
		opts.DefaultThreshold = DefaultThreshold
	}
	return &Ledger{
		items:     make(map[string]*TrackedItem),
		capacity:  opts.Capacity,
		threshold: opts.DefaultThreshold,
		now:       opts.Now,
	}
}

// Restore replaces the ledger content with persisted items. Capacity is not
// enforced retroactively; duplicate articles keep their first record.
func (l *Ledger) Restore(items []TrackedItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make(map[string]*TrackedItem, len(items))
	l.order = l.order[:0]
	for _, it := range items {
		if it.Article == "" {
			continue
		}
		if _, dup := l.items[it.Article]; dup {
			continue
		}
		item := l.restored(it)
		l.items[item.Article] = &item
		l.order = append(l.order, item.Article)
	}
	l.version++
}

// restored repairs a persisted record for use in the ledger.
func (l *Ledger) restored(it TrackedItem) TrackedItem {
	item := it.Clone()
	item.PriceHistory = repairHistory(item.PriceHistory)
	if !item.NotificationThreshold.IsPositive() {
		item.NotificationThreshold = l.threshold
	}
	if item.Name == "" {
		item.Name = PlaceholderName
	}
	return item
}

// Add starts tracking a captured product.
func (l *Ledger) Add(in NewItem) (TrackedItem, error) {
	article := strings.TrimSpace(in.Article)
	if article == "" {
		return TrackedItem{}, ErrMissingArticle
	}
	if !in.Price.IsPositive() {
		return TrackedItem{}, fmt.Errorf("%w for article %s", ErrMissingPrice, article)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity > 0 && len(l.items) >= l.capacity {
		return TrackedItem{}, fmt.Errorf("%w: %d items", ErrCapacityExceeded, l.capacity)
	}
	if _, exists := l.items[article]; exists {
		return TrackedItem{}, fmt.Errorf("%w: %s", ErrDuplicateArticle, article)
	}

	now := l.now().UTC()
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = PlaceholderName
	}
	notified := in.Price
	item := &TrackedItem{
		Article:               article,
		Name:                  name,
		URL:                   in.URL,
		InitialPrice:          in.Price,
		CurrentPrice:          in.Price,
		PriceHistory:          []PricePoint{{Price: in.Price, Date: dayOf(now)}},
		LastNotifiedPrice:     &notified,
		NotificationThreshold: l.threshold,
		AddedDate:             now,
		LastUpdated:           now,
	}
	l.items[article] = item
	l.order = append(l.order, article)
	l.version++
	return item.Clone(), nil
}

// Remove stops tracking article. Removing an unknown article is a no-op.
func (l *Ledger) Remove(article string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.items[article]; !ok {
		return false
	}
	delete(l.items, article)
	for i, a := range l.order {
		if a == article {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.version++
	return true
}

// UpdatePrice records an observed price. Unknown articles, non-positive prices and
// prices equal to CurrentPrice are no-ops.
func (l *Ledger) UpdatePrice(article string, price decimal.Decimal) Update {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[article]
	if !ok || !price.IsPositive() {
		return Update{}
	}
	if price.Equal(item.CurrentPrice) {
		return Update{Previous: item.CurrentPrice, Item: item.Clone()}
	}

	now := l.now().UTC()
	dropped := dropTriggered(item, price)

	previous := item.CurrentPrice
	item.PriceHistory = upsertDay(item.PriceHistory, dayOf(now), price)
	item.CurrentPrice = price
	item.LastUpdated = now
	if dropped {
		notified := price
		item.LastNotifiedPrice = &notified
	}
	l.version++

	return Update{Changed: true, Dropped: dropped, Previous: previous, Item: item.Clone()}
}

// SetThreshold sets the per-item minimum decrease that re-triggers a notification.
func (l *Ledger) SetThreshold(article string, value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidThreshold, value)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[article]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, article)
	}
	item.NotificationThreshold = value
	l.version++
	return nil
}

// Get returns a copy of the tracked item.
func (l *Ledger) Get(article string) (TrackedItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[article]
	if !ok {
		return TrackedItem{}, false
	}
	return item.Clone(), true
}

// Items returns copies of all tracked items in insertion order.
func (l *Ledger) Items() []TrackedItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TrackedItem, 0, len(l.order))
	for _, a := range l.order {
		out = append(out, l.items[a].Clone())
	}
	return out
}

// Len returns the number of tracked items.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Capacity returns the configured maximum item count; zero means unbounded.
func (l *Ledger) Capacity() int { return l.capacity }

// Version increases on every mutation.
func (l *Ledger) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// PlaceholderName names items whose page carried no usable title.
const PlaceholderName = "Unnamed product"
