package ledger

// RebaseReport lists the external changes Rebase applied.
type RebaseReport struct {
	Added    []string
	Removed  []string
	Replaced []string
}

// Empty reports whether Rebase changed nothing.
func (r RebaseReport) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Replaced) == 0
}

// Rebase folds changes made by another writer into the ledger. base is the
// snapshot this ledger last read from or wrote to storage; stored is what storage
// holds now. Both are compared in their restored form. Articles that appeared in
// stored are added, articles that vanished from it are removed, and articles
// modified in stored replace the local copy unless the local copy was modified
// too, in which case the local copy is kept. Capacity is not enforced on
// external additions.
func (l *Ledger) Rebase(base, stored []TrackedItem) RebaseReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	baseByArticle := make(map[string]TrackedItem, len(base))
	for _, it := range base {
		baseByArticle[it.Article] = it
	}
	storedByArticle := make(map[string]struct{}, len(stored))

	var report RebaseReport
	for _, it := range stored {
		if it.Article == "" {
			continue
		}
		if _, dup := storedByArticle[it.Article]; dup {
			continue
		}
		storedByArticle[it.Article] = struct{}{}
		item := l.restored(it)

		prev, known := baseByArticle[item.Article]
		if known {
			prev = l.restored(prev)
		}
		local, tracked := l.items[item.Article]
		switch {
		case !known && !tracked:
			l.items[item.Article] = &item
			l.order = append(l.order, item.Article)
			report.Added = append(report.Added, item.Article)
		case known && tracked && !sameItem(prev, item) && sameItem(prev, *local):
			l.items[item.Article] = &item
			report.Replaced = append(report.Replaced, item.Article)
		}
	}

	for _, it := range base {
		if _, still := storedByArticle[it.Article]; still {
			continue
		}
		if _, tracked := l.items[it.Article]; !tracked {
			continue
		}
		delete(l.items, it.Article)
		for i, a := range l.order {
			if a == it.Article {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
		report.Removed = append(report.Removed, it.Article)
	}

	if !report.Empty() {
		l.version++
	}
	return report
}

func sameItem(a, b TrackedItem) bool {
	if a.Article != b.Article || a.Name != b.Name || a.URL != b.URL ||
		!a.InitialPrice.Equal(b.InitialPrice) ||
		!a.CurrentPrice.Equal(b.CurrentPrice) ||
		!a.NotificationThreshold.Equal(b.NotificationThreshold) ||
		!a.AddedDate.Equal(b.AddedDate) ||
		!a.LastUpdated.Equal(b.LastUpdated) {
		return false
	}
	if (a.LastNotifiedPrice == nil) != (b.LastNotifiedPrice == nil) {
		return false
	}
	if a.LastNotifiedPrice != nil && !a.LastNotifiedPrice.Equal(*b.LastNotifiedPrice) {
		return false
	}
	if len(a.PriceHistory) != len(b.PriceHistory) {
		return false
	}
	for i := range a.PriceHistory {
		if a.PriceHistory[i].Date != b.PriceHistory[i].Date || !a.PriceHistory[i].Price.Equal(b.PriceHistory[i].Price) {
			return false
		}
	}
	return true
}
