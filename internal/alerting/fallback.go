package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"price-tracker/internal/logging"
)

// LogAcknowledger 以日志形式完成本地确认。
type LogAcknowledger struct {
	logger zerolog.Logger
}

// NewLogAcknowledger 构造本地确认器。
func NewLogAcknowledger(logger zerolog.Logger) *LogAcknowledger {
	return &LogAcknowledger{logger: logging.Component(logger, "alert_fallback")}
}

// Acknowledge 记录事件内容，队列随即前进。
func (a *LogAcknowledger) Acknowledge(_ context.Context, ev Event, reason error) {
	evt := a.logger.Info().
		Str("event_id", ev.ID.String()).
		Str("title", ev.Title).
		Str("body", ev.Body).
		Str("url", ev.TargetURL)
	if reason != nil {
		evt = evt.AnErr("reason", reason)
	}
	evt.Msg("通知已本地确认")
}

var _ Acknowledger = (*LogAcknowledger)(nil)
