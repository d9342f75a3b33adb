// Package realtime fans store changes out to in-process observers. The
// service layer publishes every committed Changeset; websocket handlers and
// other observers consume typed feeds built with Watch.
package realtime

import (
	"log"
	"sync"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// Collection names used as broker topics.
const (
	Spots        = "spots"
	Reservations = "reservations"
	Sessions     = "sessions"
)

// Change is one committed document write. Doc holds the new value by value
// (model.ParkingSpot, model.Reservation, model.ParkingSession); it is nil
// when Deleted is set.
type Change struct {
	Collection string
	ID         string
	Doc        any
	Deleted    bool
}

type subscriber struct {
	topic string
	ch    chan Change
}

// Broker is a topic fan-out over buffered channels. Publish never blocks:
// a subscriber whose buffer is full is dropped and its channel closed, so
// a stalled websocket cannot hold up a reservation.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: map[string]map[*subscriber]struct{}{}}
}

// Subscribe registers for one collection. The returned func unsubscribes
// and is safe to call more than once, including after the broker has
// already dropped the subscriber.
func (b *Broker) Subscribe(collection string, buf int) (<-chan Change, func()) {
	if buf <= 0 {
		buf = 64
	}
	s := &subscriber{topic: collection, ch: make(chan Change, buf)}
	b.mu.Lock()
	if b.subs[collection] == nil {
		b.subs[collection] = map[*subscriber]struct{}{}
	}
	b.subs[collection][s] = struct{}{}
	b.mu.Unlock()
	return s.ch, func() { b.drop(s) }
}

// drop removes s and closes its channel if it is still registered.
func (b *Broker) drop(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.topic][s]; !ok {
		return
	}
	delete(b.subs[s.topic], s)
	close(s.ch)
}

// Publish delivers changes to every subscriber of their collection.
func (b *Broker) Publish(changes ...Change) {
	var slow []*subscriber
	b.mu.RLock()
	for _, c := range changes {
		for s := range b.subs[c.Collection] {
			select {
			case s.ch <- c:
			default:
				slow = append(slow, s)
			}
		}
	}
	b.mu.RUnlock()
	for _, s := range slow {
		log.Printf("realtime: dropping slow %s subscriber", s.topic)
		b.drop(s)
	}
}

// Subscribers reports the number of live subscribers on a collection.
func (b *Broker) Subscribers(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[collection])
}

// PublishChangeset flattens a store Changeset into per-document changes.
func (b *Broker) PublishChangeset(cs model.Changeset) {
	if cs.Empty() {
		return
	}
	b.Publish(FromChangeset(cs)...)
}

// FromChangeset converts cs into broker changes in a stable order: spots,
// reservations, sessions, then deletions.
func FromChangeset(cs model.Changeset) []Change {
	out := make([]Change, 0, len(cs.Spots)+len(cs.Reservations)+len(cs.Sessions)+len(cs.DeletedSpots))
	for _, s := range cs.Spots {
		out = append(out, Change{Collection: Spots, ID: s.ID, Doc: s})
	}
	for _, r := range cs.Reservations {
		out = append(out, Change{Collection: Reservations, ID: r.ID, Doc: r})
	}
	for _, s := range cs.Sessions {
		out = append(out, Change{Collection: Sessions, ID: s.ID, Doc: s})
	}
	for _, id := range cs.DeletedSpots {
		out = append(out, Change{Collection: Spots, ID: id, Deleted: true})
	}
	return out
}
