// ABOUTME: In-memory fan-out broadcaster for topic-scoped entity snapshots
// ABOUTME: Subscribers get a buffered channel; slow consumers are evicted rather than block publishers

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the channel buffer for each subscriber.
const DefaultSubscriberBuffer = 64

// Publisher is the write side of the bus, injected into the services that
// produce entity snapshots.
type Publisher interface {
	Publish(topic string, event *Event)
}

// Broadcaster provides in-memory pub/sub for entity snapshot events.
// Subscribers register for a topic and receive events as they are published.
// Delivery is at-least-once and ordered only within a single topic.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // topic -> subID -> ch
	buffer      int
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default and
// buffer <= 0 for DefaultSubscriberBuffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		buffer:      buffer,
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for events on the given topic. Returns a
// channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, b.buffer)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: a subscriber whose channel is full is evicted and its channel
// closed, so the client sees a disconnect and resyncs instead of silently
// missing snapshots.
func (b *Broadcaster) Publish(topic string, event *Event) {
	event.Topic = topic

	// Sends and evictions happen under the lock so a channel is never
	// closed while another publish could still write to it. Sends are
	// non-blocking, so the hold time stays bounded.
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok || len(subs) == 0 {
		return
	}

	for subID, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("evicting slow subscriber",
				"topic", topic,
				"sub_id", subID,
				"event_id", event.ID)
			delete(subs, subID)
			close(ch)
		}
	}

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions on a topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}
