package store

import (
	"sync"
	"sync/atomic"

	"memechaos/internal/domain"
)

// DefaultFeedBuffer is the per-subscriber notification buffer
const DefaultFeedBuffer = 64

// Subscription receives change notifications for one game. Delivery never
// blocks the writer: when the buffer is full the notification is dropped and
// the subscription is flagged as lossy so the consumer can resynchronise.
type Subscription struct {
	C <-chan domain.Change

	c      chan domain.Change
	lost   atomic.Bool
	gameID string
	broker *Broker
	once   sync.Once
}

// Lost reports whether notifications were dropped since the last call
func (s *Subscription) Lost() bool {
	return s.lost.Swap(false)
}

// Close stops delivery and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker fans change notifications out to per-game subscribers
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewBroker creates a broker with the given subscriber buffer size
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for a game's changes
func (b *Broker) Subscribe(gameID string) *Subscription {
	c := make(chan domain.Change, b.buffer)
	sub := &Subscription{
		C:      c,
		c:      c,
		gameID: gameID,
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[*Subscription]struct{})
	}
	b.subs[gameID][sub] = struct{}{}

	return sub
}

// Publish delivers changes to the subscribers of their games
func (b *Broker) Publish(changes ...domain.Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, change := range changes {
		for sub := range b.subs[change.GameID] {
			select {
			case sub.c <- change:
			default:
				sub.lost.Store(true)
			}
		}
	}
}

// Resync tells every subscriber its game changed, making consumers re-read
// everything. Used when notifications may have been missed upstream.
func (b *Broker) Resync() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for gameID, subs := range b.subs {
		change := domain.NewChange(domain.EntityGame, domain.OpUpdated, gameID, gameID)
		for sub := range subs {
			select {
			case sub.c <- change:
			default:
				sub.lost.Store(true)
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a game
func (b *Broker) SubscriberCount(gameID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[gameID])
}

// Close closes every subscription
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for gameID, subs := range b.subs {
		for sub := range subs {
			close(sub.c)
		}
		delete(b.subs, gameID)
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[sub.gameID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	close(sub.c)
	if len(subs) == 0 {
		delete(b.subs, sub.gameID)
	}
}
