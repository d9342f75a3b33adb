package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func spot(id string, available bool, at time.Time) model.ParkingSpot {
	s := model.ParkingSpot{ID: id, LotID: "lot1", Code: id}
	if available {
		s.MarkAvailable(at)
	} else {
		s.MarkOccupied("sess-"+id, "PLATE", at)
	}
	return s
}

func availableSpots(initial ...model.ParkingSpot) Query[model.ParkingSpot] {
	return Query[model.ParkingSpot]{
		Collection: Spots,
		Load: func(context.Context) ([]model.ParkingSpot, error) {
			return initial, nil
		},
		Match:   func(s model.ParkingSpot) bool { return s.LotID == "lot1" && s.IsAvailable },
		Key:     func(s model.ParkingSpot) string { return s.ID },
		Version: func(s model.ParkingSpot) time.Time { return s.UpdatedAt },
		Buffer:  8,
	}
}

func next[T any](t *testing.T, ch <-chan Event[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event[T]{}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe(Spots, 4)
	defer unsubscribe()

	b.Publish(Change{Collection: Reservations, ID: "r1"}, Change{Collection: Spots, ID: "s1"})
	select {
	case got := <-ch:
		if got.ID != "s1" {
			t.Fatalf("got %s, want s1", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected change %+v", got)
	default:
	}
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe(Spots, 1)
	b.Publish(Change{Collection: Spots, ID: "a"})
	b.Publish(Change{Collection: Spots, ID: "b"}) // overflows

	if n := b.Subscribers(Spots); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
	<-ch
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after drop")
	}
	unsubscribe() // no double close
}

func TestWatchInitialThenTypedChanges(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := Watch(ctx, b, availableSpots(spot("A1", true, t0), spot("A2", true, t0)))
	if err != nil {
		t.Fatal(err)
	}
	first := next(t, feed)
	if len(first.Changes) != 2 || first.Changes[0].Type != Added || len(first.Snapshot) != 2 {
		t.Fatalf("initial event = %+v", first)
	}

	// A1 becomes occupied: no longer matches
	b.PublishChangeset(model.Changeset{Spots: []model.ParkingSpot{spot("A1", false, t0.Add(time.Minute))}})
	ev := next(t, feed)
	if ev.Changes[0].Type != Removed || ev.Changes[0].ID != "A1" || len(ev.Snapshot) != 1 {
		t.Fatalf("remove event = %+v", ev)
	}

	// a stale write for A2 is ignored, then a new spot A3 is added
	b.Publish(Change{Collection: Spots, ID: "A2", Doc: spot("A2", true, t0.Add(-time.Hour))})
	b.PublishChangeset(model.Changeset{Spots: []model.ParkingSpot{spot("A3", true, t0)}})
	ev = next(t, feed)
	if ev.Changes[0].Type != Added || ev.Changes[0].ID != "A3" {
		t.Fatalf("add event = %+v", ev)
	}

	b.PublishChangeset(model.Changeset{Spots: []model.ParkingSpot{spot("A3", true, t0.Add(time.Minute))}})
	ev = next(t, feed)
	if ev.Changes[0].Type != Modified {
		t.Fatalf("modify event = %+v", ev)
	}

	b.PublishChangeset(model.Changeset{DeletedSpots: []string{"A2"}})
	ev = next(t, feed)
	if ev.Changes[0].Type != Removed || ev.Changes[0].ID != "A2" {
		t.Fatalf("delete event = %+v", ev)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	feed, err := Watch(ctx, b, availableSpots())
	if err != nil {
		t.Fatal(err)
	}
	next(t, feed)
	cancel()
	select {
	case _, ok := <-feed:
		if ok {
			t.Fatal("expected closed feed")
		}
	case <-time.After(time.Second):
		t.Fatal("feed not closed after cancel")
	}
	deadline := time.Now().Add(time.Second)
	for b.Subscribers(Spots) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher still subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
