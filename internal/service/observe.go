package service

import (
	"context"
	"time"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/realtime"
)

// ObserveSpots streams the spots of a lot: all of them first, then typed
// changes as they commit.
func (s *Service) ObserveSpots(ctx context.Context, lotID string) (<-chan realtime.Event[model.ParkingSpot], error) {
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return realtime.Watch(ctx, s.broker, realtime.Query[model.ParkingSpot]{
		Collection: realtime.Spots,
		Load: func(ctx context.Context) ([]model.ParkingSpot, error) {
			return s.store.ListSpots(ctx, lotID, model.FilterAll)
		},
		Match:   func(sp model.ParkingSpot) bool { return sp.LotID == lotID },
		Key:     func(sp model.ParkingSpot) string { return sp.ID },
		Version: func(sp model.ParkingSpot) time.Time { return sp.UpdatedAt },
		Less:    func(a, b model.ParkingSpot) bool { return a.Number < b.Number },
	})
}

// ObserveUserReservations streams the caller's ACTIVE reservations. The
// feed ends when ctx is done or the identity session is invalidated.
func (s *Service) ObserveUserReservations(ctx context.Context, who identity.Session) (<-chan realtime.Event[model.Reservation], error) {
	ctx = s.bind(ctx, who)
	return realtime.Watch(ctx, s.broker, realtime.Query[model.Reservation]{
		Collection: realtime.Reservations,
		Load: func(ctx context.Context) ([]model.Reservation, error) {
			return s.store.ListReservations(ctx, who.UserID, []model.ReservationStatus{model.ReservationActive})
		},
		Match: func(r model.Reservation) bool {
			return r.UserID == who.UserID && r.Status == model.ReservationActive
		},
		Key:     func(r model.Reservation) string { return r.ID },
		Version: func(r model.Reservation) time.Time { return r.UpdatedAt },
		Less:    func(a, b model.Reservation) bool { return a.CreatedAt.After(b.CreatedAt) },
	})
}

// ObserveUserActiveSessions streams the caller's ACTIVE sessions.
func (s *Service) ObserveUserActiveSessions(ctx context.Context, who identity.Session) (<-chan realtime.Event[model.ParkingSession], error) {
	ctx = s.bind(ctx, who)
	return realtime.Watch(ctx, s.broker, realtime.Query[model.ParkingSession]{
		Collection: realtime.Sessions,
		Load: func(ctx context.Context) ([]model.ParkingSession, error) {
			return s.ListActiveSessions(ctx, who)
		},
		Match: func(sess model.ParkingSession) bool {
			return sess.UserID == who.UserID && sess.Status == model.SessionActive
		},
		Key:     func(sess model.ParkingSession) string { return sess.ID },
		Version: func(sess model.ParkingSession) time.Time { return sess.UpdatedAt },
		Less:    func(a, b model.ParkingSession) bool { return a.EnteredAt.After(b.EnteredAt) },
	})
}

// bind ties ctx to the identity session so logout cancels it.
func (s *Service) bind(ctx context.Context, who identity.Session) context.Context {
	if s.ids == nil || who.ID == "" {
		return ctx
	}
	bound, cancel := s.ids.Bind(ctx, who.ID)
	go func() {
		<-bound.Done()
		cancel()
	}()
	return bound
}
