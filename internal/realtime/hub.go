package realtime

import (
	"sync"
)

// TopicStaff is the shared channel every staff dashboard subscribes to.
const TopicStaff = "staff"

const sessionTopicPrefix = "session:"

// SessionTopic returns the end-user channel for one session.
func SessionTopic(sessionID string) string {
	return sessionTopicPrefix + sessionID
}

// Publisher accepts messages for delivery. Publish must never block.
type Publisher interface {
	Publish(topic string, msg Message)
}

// DefaultBufferSize is the per-subscription buffer used when none is set.
const DefaultBufferSize = 64

// Subscription is one live consumer of a topic.
type Subscription struct {
	topic string
	ch    chan Message
	hub   *Hub
	once  sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Message { return s.ch }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub is the in-process connection registry: topic -> set of subscriptions.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]map[*Subscription]struct{}
	bufferSize int
	metrics    *hubMetrics
}

// NewHub creates a hub whose subscriptions buffer bufferSize messages.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		metrics:    globalHubMetrics(),
	}
}

// Subscribe registers a new consumer of topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan Message, h.bufferSize), hub: h}

	h.mu.Lock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.connections.WithLabelValues(channelKind(topic)).Inc()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.topics[sub.topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.topics, sub.topic)
			}
		}
		close(sub.ch)
		h.mu.Unlock()

		h.metrics.connections.WithLabelValues(channelKind(sub.topic)).Dec()
	})
}

// Publish delivers msg to every subscriber of topic. Slow subscribers have
// the message dropped rather than blocking the publisher.
func (h *Hub) Publish(topic string, msg Message) {
	kind := channelKind(topic)
	h.metrics.published.WithLabelValues(kind).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			h.metrics.dropped.WithLabelValues(kind).Inc()
		}
	}
}

// Count returns the number of subscribers of topic.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcaster routes dispatcher events to the staff channel and, when a
// user-facing copy exists, to the session channel.
type Broadcaster struct {
	pub Publisher
}

// NewBroadcaster wraps pub.
func NewBroadcaster(pub Publisher) *Broadcaster {
	return &Broadcaster{pub: pub}
}

// ToStaff publishes msg on the staff channel.
func (b *Broadcaster) ToStaff(msg Message) {
	b.pub.Publish(TopicStaff, msg)
}

// ToUser publishes msg on the session channel of msg.SessionID.
func (b *Broadcaster) ToUser(msg Message) {
	if msg.SessionID == "" {
		return
	}
	b.pub.Publish(SessionTopic(msg.SessionID), msg)
}
