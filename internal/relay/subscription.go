package relay

import (
	"sync"

	"github.com/carsonminor/nostr-research-client/internal/types"
)

// Subscription represents an active subscription on a relay connection
type Subscription struct {
	ID      string
	Filters []types.Filter

	events    chan types.Event
	eose      chan struct{}
	eoseOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once

	// live subscriptions queue without bound so a slow consumer never
	// holds up the connection's read loop.
	live   bool
	qmu    sync.Mutex
	queue  []types.Event
	notify chan struct{}
}

func newSubscription(id string, filters []types.Filter) *Subscription {
	return &Subscription{
		ID:      id,
		Filters: filters,
		events:  make(chan types.Event, 100),
		eose:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func newLiveSubscription(id string, filters []types.Filter) *Subscription {
	sub := newSubscription(id, filters)
	sub.live = true
	sub.notify = make(chan struct{}, 1)
	return sub
}

// Events delivers matching events in relay order. Live subscriptions use
// Ready and Take instead.
func (s *Subscription) Events() <-chan types.Event { return s.events }

// Ready receives a value whenever a live subscription has queued events.
func (s *Subscription) Ready() <-chan struct{} { return s.notify }

// Take removes and returns every queued event of a live subscription.
func (s *Subscription) Take() []types.Event {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// EOSE is closed when the relay signals the end of stored events.
func (s *Subscription) EOSE() <-chan struct{} { return s.eose }

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// deliver queues the event for a live subscription. Otherwise it blocks
// until the event is consumed or the subscription ends.
func (s *Subscription) deliver(evt types.Event) {
	if s.live {
		s.qmu.Lock()
		s.queue = append(s.queue, evt)
		s.qmu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
		return
	}
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

func (s *Subscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

// close safely closes the Done channel exactly once
func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// drain returns whatever is already buffered without blocking.
func (s *Subscription) drain() []types.Event {
	var out []types.Event
	for {
		select {
		case evt := <-s.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}
