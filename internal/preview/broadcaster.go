package preview

import (
	"log/slog"
	"sync"
)

// Broadcaster fans encoded frames out to any number of viewers. The latest
// frame is cached and handed to new subscribers immediately.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- []byte
	latest      []byte
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a new broadcaster instance.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan<- []byte),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Latest returns the most recent frame, or nil.
func (b *Broadcaster) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Subscribe adds a subscriber with the given ID and returns a channel
// that receives every broadcast frame.
func (b *Broadcaster) Subscribe(subscriberID string, bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan []byte)
		close(ch)
		return ch
	}

	if bufferSize < 1 {
		bufferSize = 1
	}
	ch := make(chan []byte, bufferSize)
	b.subscribers[subscriberID] = ch
	if len(b.latest) > 0 {
		ch <- b.latest
	}

	b.logger.Debug("New subscriber added", "id", subscriberID, "total", len(b.subscribers))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[subscriberID]; exists {
		close(ch)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("Subscriber removed", "id", subscriberID, "remaining", len(b.subscribers))
	}
}

// Broadcast sends data to all current subscribers. A subscriber whose
// channel is full is dropped.
func (b *Broadcaster) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.latest = data
	subscribers := make(map[string]chan<- []byte, len(b.subscribers))
	for id, ch := range b.subscribers {
		subscribers[id] = ch
	}
	b.mu.Unlock()

	var dropped []string
	for id, ch := range subscribers {
		select {
		case ch <- data:
		default:
			dropped = append(dropped, id)
			b.logger.Warn("Dropping subscriber due to full channel", "id", id)
		}
	}

	if len(dropped) > 0 {
		b.mu.Lock()
		for _, id := range dropped {
			if ch, exists := b.subscribers[id]; exists {
				close(ch)
				delete(b.subscribers, id)
			}
		}
		b.mu.Unlock()
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan<- []byte)
	b.logger.Debug("Broadcaster closed")
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
