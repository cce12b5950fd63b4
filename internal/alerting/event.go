package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event 是一条待投递的通知，只存在于内存队列中。
type Event struct {
	ID        uuid.UUID
	Title     string
	Body      string
	TargetURL string
	CreatedAt time.Time
}

// NewDropEvent 渲染降价通知。
func NewDropEvent(name, targetURL string, previous, current, threshold decimal.Decimal) Event {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s → %s", previous.StringFixed(2), current.StringFixed(2)))
	builder.WriteString(fmt.Sprintf(" (-%s, threshold %s)", previous.Sub(current).StringFixed(2), threshold.String()))

	return Event{
		ID:        uuid.New(),
		Title:     fmt.Sprintf("Price drop: %s", name),
		Body:      builder.String(),
		TargetURL: targetURL,
		CreatedAt: time.Now().UTC(),
	}
}

// Text joins the event fields into a plain-text message.
func (e Event) Text() string {
	parts := []string{e.Title, e.Body}
	if e.TargetURL != "" {
		parts = append(parts, e.TargetURL)
	}
	return strings.Join(parts, "\n")
}
