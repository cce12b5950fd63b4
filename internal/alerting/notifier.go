// Package alerting queues price-drop events and delivers them one at a time.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/logging"
)

// ErrChannelUnavailable 表示投递通道不可用，事件改走本地确认。
var ErrChannelUnavailable = errors.New("alerting: notification channel unavailable")

// DefaultAckTimeout bounds how long one event may stay in flight.
const DefaultAckTimeout = 30 * time.Second

// Deliverer 定义外部投递通道。delivered 在对端确认后调用，可能异步。
type Deliverer interface {
	Deliver(ctx context.Context, ev Event, delivered func()) error
}

// Acknowledger 是投递失败时的本地确认。
type Acknowledger interface {
	Acknowledge(ctx context.Context, ev Event, reason error)
}

// Notifier 是单消费者 FIFO 队列：同一时刻最多一条事件在途。
type Notifier struct {
	mu      sync.Mutex
	backlog []Event
	notify  chan struct{}

	deliverer  Deliverer
	fallback   Acknowledger
	ackTimeout time.Duration
	logger     zerolog.Logger

	enqueued  atomic.Uint64
	processed atomic.Uint64
	fallbacks atomic.Uint64
}

// NewNotifier 构造队列。deliverer 为 nil 时所有事件直接走 fallback。
func NewNotifier(deliverer Deliverer, fallback Acknowledger, ackTimeout time.Duration, logger zerolog.Logger) *Notifier {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if fallback == nil {
		fallback = NewLogAcknowledger(logger)
	}
	return &Notifier{
		notify:     make(chan struct{}, 1),
		deliverer:  deliverer,
		fallback:   fallback,
		ackTimeout: ackTimeout,
		logger:     logging.Component(logger, "notifier"),
	}
}

// Enqueue appends ev to the backlog and wakes the consumer.
func (n *Notifier) Enqueue(ev Event) {
	n.enqueued.Add(1)
	n.mu.Lock()
	n.backlog = append(n.backlog, ev)
	n.mu.Unlock()
	select {
	case n.notify <- struct{}{}:
	default:
	}
}

// Run consumes the backlog until ctx is cancelled. Only one Run may be active.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		ev, ok := n.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-n.notify:
			}
			continue
		}
		if !n.dispatch(ctx, ev) {
			return ctx.Err()
		}
		n.processed.Add(1)
	}
}

func (n *Notifier) pop() (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.backlog) == 0 {
		return Event{}, false
	}
	ev := n.backlog[0]
	n.backlog = n.backlog[1:]
	return ev, true
}

// dispatch delivers ev and waits for its acknowledgment. Delivery and ack share
// one ackTimeout budget, so a channel that never returns cannot stall the queue.
// It returns false only when ctx ends while the event is in flight.
func (n *Notifier) dispatch(ctx context.Context, ev Event) bool {
	logger := n.logger.With().Str("event_id", ev.ID.String()).Logger()

	if n.deliverer == nil {
		n.acknowledge(ctx, ev, ErrChannelUnavailable)
		return true
	}

	done := make(chan struct{})
	var once sync.Once
	delivered := func() { once.Do(func() { close(done) }) }

	deliverCtx, cancel := context.WithTimeout(ctx, n.ackTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- n.deliverer.Deliver(deliverCtx, ev, delivered) }()

	for {
		select {
		case err := <-errc:
			errc = nil
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return false
			}
			logger.Warn().Err(err).Msg("通知投递失败，改用本地确认")
			n.acknowledge(ctx, ev, err)
			return true
		case <-done:
			logger.Debug().Msg("通知已确认")
			return true
		case <-deliverCtx.Done():
			if ctx.Err() != nil {
				return false
			}
			logger.Warn().Dur("ack_timeout", n.ackTimeout).Msg("等待确认超时")
			n.acknowledge(ctx, ev, fmt.Errorf("%w: %v", ErrChannelUnavailable, deliverCtx.Err()))
			return true
		}
	}
}

func (n *Notifier) acknowledge(ctx context.Context, ev Event, reason error) {
	n.fallbacks.Add(1)
	n.fallback.Acknowledge(ctx, ev, reason)
}

// Pending returns enqueued events not yet acknowledged, including the one in flight.
func (n *Notifier) Pending() int {
	return int(n.enqueued.Load() - n.processed.Load())
}

// Metrics returns counters for observability.
func (n *Notifier) Metrics() (enqueued, processed, fallbacks uint64, backlog int) {
	n.mu.Lock()
	backlog = len(n.backlog)
	n.mu.Unlock()
	return n.enqueued.Load(), n.processed.Load(), n.fallbacks.Load(), backlog
}

// Drain waits until every enqueued event has been processed by Run. It reports
// false when ctx ends first.
func (n *Notifier) Drain(ctx context.Context) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for n.Pending() > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}
