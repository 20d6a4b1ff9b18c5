// Package bus is the in-process fan-out for freshly captured requests.
// Subscribers see records appended after subscription start, in append
// order; history is served separately by the store.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/models"
)

const DefaultBuffer = 64

type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	buffer int
	log    zerolog.Logger
}

func New(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string][]*Subscription),
		buffer: buffer,
		log:    log,
	}
}

type Subscription struct {
	bus        *Bus
	endpointID string
	ch         chan *models.RequestRecord
	closed     bool
}

// Records yields captured requests until the subscription is cancelled.
func (s *Subscription) Records() <-chan *models.RequestRecord {
	return s.ch
}

func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.dropLocked(s)
}

func (b *Bus) Subscribe(endpointID string) *Subscription {
	sub := &Subscription{
		bus:        b,
		endpointID: endpointID,
		ch:         make(chan *models.RequestRecord, b.buffer),
	}
	b.mu.Lock()
	b.subs[endpointID] = append(b.subs[endpointID], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers rec to every live subscriber for the endpoint. It never
// blocks the capture path: a subscriber whose buffer is full is cancelled
// and has to resynchronize through the history listing.
func (b *Bus) Publish(endpointID string, rec *models.RequestRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []*Subscription
	for _, sub := range b.subs[endpointID] {
		select {
		case sub.ch <- rec:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		b.log.Warn().
			Str("endpoint_id", endpointID).
			Msg("dropping slow live-feed subscriber")
		b.dropLocked(sub)
	}
}

// CloseEndpoint cancels every subscription for a deleted endpoint.
func (b *Bus) CloseEndpoint(endpointID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[endpointID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.subs, endpointID)
}

func (b *Bus) dropLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	subs := b.subs[sub.endpointID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.endpointID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.endpointID]) == 0 {
		delete(b.subs, sub.endpointID)
	}
}
