// Package notify fans engine events out to subscribers over a buffered
// channel. Delivery is best-effort: a slow consumer drops events rather than
// stalling the decision loop.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is one notification.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	Topic     string      `json:"topic"`
	Symbol    string      `json:"symbol,omitempty"`
	Message   string      `json:"message"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Topics.
const (
	TopicEntry      = "entry"
	TopicExit       = "exit"
	TopicBreaker    = "breaker"
	TopicDegraded   = "degradation"
	TopicRejection  = "rejection"
)

// Notifier is a non-blocking event fan-out.
type Notifier struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	subs    []chan Event
	bufSize int
	dropped atomic.Int64
}

// NewNotifier creates a notifier. bufSize is the per-subscriber buffer.
func NewNotifier(logger *zap.Logger, bufSize int) *Notifier {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Notifier{
		logger:  logger.Named("notify"),
		bufSize: bufSize,
	}
}

// Subscribe registers a new consumer and returns its channel.
func (n *Notifier) Subscribe() <-chan Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, n.bufSize)
	n.subs = append(n.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking. Full
// buffers drop the event for that subscriber.
func (n *Notifier) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- event:
		default:
			n.dropped.Add(1)
			n.logger.Debug("event dropped, subscriber buffer full",
				zap.String("topic", event.Topic))
		}
	}
}

// Dropped returns the total number of dropped deliveries.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close closes every subscriber channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		close(ch)
	}
	n.subs = nil
}
