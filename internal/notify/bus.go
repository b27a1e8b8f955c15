package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("notification bus closed")

// Publisher hands a committed notification to its live consumers.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Bus is an in-process publish/subscribe hub keyed by recipient. Publishing
// never blocks: a subscriber whose buffer is full misses the event (it is
// still listed through the notifications API).
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// Subscription receives notifications for one recipient on C until Close.
type Subscription struct {
	C <-chan domain.Notification

	ch        chan domain.Notification
	recipient string
	bus       *Bus
	closed    bool // guarded by bus.mu
}

// NewBus returns a Bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscription for recipientID. On a closed bus the
// returned subscription's channel is already closed.
func (b *Bus) Subscribe(recipientID string) *Subscription {
	ch := make(chan domain.Notification, b.buffer)
	s := &Subscription{C: ch, ch: ch, recipient: recipientID, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		s.closed = true
		return s
	}
	set := b.subs[recipientID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[recipientID] = set
	}
	set[s] = struct{}{}
	return s
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if set := b.subs[s.recipient]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.recipient)
		}
	}
	close(s.ch)
}

// Publish delivers n to every subscription of its recipient.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for s := range b.subs[n.RecipientID] {
		select {
		case s.ch <- n:
		default:
			busDropped.Inc()
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for recipientID.
func (b *Bus) Subscribers(recipientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[recipientID])
}

// Close closes every subscription and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		}
	}
	b.subs = nil
}
