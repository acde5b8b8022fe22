package store

import (
	"sync"

	"github.com/creker7/netvigil/pkg/models"
)

// Event is one entry on an observer's change stream. Either Transition is
// set (a state machine event, delivered exactly once in emission order) or
// the event is a plain endpoint update, which may be coalesced per endpoint
// when the observer falls behind. Coalesced marks merged updates.
type Event struct {
	Endpoint   models.Endpoint
	Transition *models.Transition
	Coalesced  bool
}

// Subscription is one observer's view of the change stream. Read from C;
// call Close when done.
type Subscription struct {
	C chan Event

	store *Store
	id    int

	notify chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	pending    []Event
	updateSlot map[string]int // endpoint id -> index of its coalescible update in pending
}

// Subscribe registers an observer. Transitions are queued without loss;
// plain updates for the same endpoint are merged while the observer is slow,
// so memory stays bounded by the endpoint count plus in-flight transitions.
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{
		C:          make(chan Event, 64),
		store:      s,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		updateSlot: make(map[string]int),
	}

	s.subMu.Lock()
	sub.id = s.nextSub
	s.nextSub++
	s.subs[sub.id] = sub
	s.subMu.Unlock()

	go sub.pump()

	return sub
}

// Close deregisters the observer and releases its pump goroutine.
func (sub *Subscription) Close() {
	sub.store.subMu.Lock()
	if _, ok := sub.store.subs[sub.id]; ok {
		delete(sub.store.subs, sub.id)
		close(sub.done)
	}
	sub.store.subMu.Unlock()
}

func (sub *Subscription) publish(ev Event) {
	sub.mu.Lock()

	if ev.Transition == nil {
		if idx, ok := sub.updateSlot[ev.Endpoint.ID]; ok {
			ev.Coalesced = true
			sub.pending[idx] = ev
			sub.mu.Unlock()
			sub.wake()

			return
		}

		sub.updateSlot[ev.Endpoint.ID] = len(sub.pending)
	}

	sub.pending = append(sub.pending, ev)
	sub.mu.Unlock()
	sub.wake()
}

func (sub *Subscription) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *Subscription) pump() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		for {
			sub.mu.Lock()
			if len(sub.pending) == 0 {
				sub.mu.Unlock()
				break
			}

			ev := sub.pending[0]
			sub.pending = sub.pending[1:]

			if ev.Transition == nil {
				delete(sub.updateSlot, ev.Endpoint.ID)
			}

			// Remaining update slots shift down by one.
			for id, idx := range sub.updateSlot {
				if idx > 0 {
					sub.updateSlot[id] = idx - 1
				}
			}
			sub.mu.Unlock()

			select {
			case sub.C <- ev:
			case <-sub.done:
				return
			}
		}
	}
}

func (s *Store) publishUpdate(ep models.Endpoint) {
	s.subMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.publish(Event{Endpoint: ep})
	}
}

// PublishTransition fans a state machine transition out to every observer.
func (s *Store) PublishTransition(t models.Transition) {
	s.subMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		tc := t
		sub.publish(Event{Endpoint: t.Endpoint, Transition: &tc})
	}
}
