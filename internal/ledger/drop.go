package ledger

import "github.com/shopspring/decimal"

// dropTriggered reports whether observing price on item warrants a notification.
// It must run before CurrentPrice is replaced.
func dropTriggered(item *TrackedItem, price decimal.Decimal) bool {
	if !price.LessThan(item.CurrentPrice) {
		return false
	}
	if item.CurrentPrice.Sub(price).LessThan(item.NotificationThreshold) {
		return false
	}
	if item.LastNotifiedPrice != nil && !price.LessThan(*item.LastNotifiedPrice) {
		return false
	}
	return true
}
