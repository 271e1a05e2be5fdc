// Package events carries entity-change notifications from the engine to
// the presentation layer. The engine publishes; subscribers (the websocket
// hub, tests) react. The engine never touches subscriber state directly.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gerd-center-server/internal/domain"
)

// Bus is an in-process fan-out of domain.Change notifications.
type Bus struct {
	mu   sync.RWMutex
	subs map[int64]chan domain.Change
	next int64
	log  *logrus.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		subs: make(map[int64]chan domain.Change),
		log:  logger,
	}
}

// Publish delivers the change to every subscriber. Slow subscribers drop
// notifications rather than block a write path; a dropped change only
// delays a view refresh.
func (b *Bus) Publish(change domain.Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- change:
		default:
			b.log.WithFields(logrus.Fields{
				"subscriber": id,
				"entity":     change.Entity,
			}).Warn("Dropped change notification for slow subscriber")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan domain.Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan domain.Change, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
