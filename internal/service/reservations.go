package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/billing"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// ReserveInput is a driver's reservation request. The spot is named by id
// or by its code within the lot.
type ReserveInput struct {
	LotID         string `json:"lot_id" validate:"required"`
	SpotID        string `json:"spot_id" validate:"required_without=SpotCode"`
	SpotCode      string `json:"spot_code"`
	LicensePlate  string `json:"license_plate" validate:"required,max=32"`
	DurationHours int    `json:"duration_hours" validate:"min=1,max=24"`
}

// CheckInPrefix is the payload prefix of reservation QR codes.
const CheckInPrefix = "linknpark:reservation:"

// Reserve holds a spot for the caller. The spot flip and the reservation
// insert commit together; losing the race for the spot is a Conflict and
// writes nothing.
func (s *Service) Reserve(ctx context.Context, who identity.Session, in ReserveInput) (model.Reservation, error) {
	in.LotID = strings.TrimSpace(in.LotID)
	in.SpotID = strings.TrimSpace(in.SpotID)
	in.SpotCode = strings.TrimSpace(in.SpotCode)
	in.LicensePlate = normalizePlate(in.LicensePlate)
	if err := s.check(in); err != nil {
		return model.Reservation{}, err
	}
	lot, err := s.store.GetLot(ctx, in.LotID)
	if err != nil {
		return model.Reservation{}, err
	}
	if !lot.Active() {
		return model.Reservation{}, fmt.Errorf("%w: lot %s is not accepting reservations", repository.ErrConflict, lot.Name)
	}
	spot, err := s.resolveSpot(ctx, lot.ID, in.SpotID, in.SpotCode)
	if err != nil {
		return model.Reservation{}, err
	}

	now := s.clock()
	quote := billing.QuoteReservation(in.DurationHours, lot.HourlyRate)
	r := model.Reservation{
		ID:            uuid.NewString(),
		UserID:        who.UserID,
		LotID:         lot.ID,
		SpotID:        spot.ID,
		SpotCode:      spot.Code,
		SpotNumber:    spot.Number,
		LicensePlate:  in.LicensePlate,
		ReserveStart:  now,
		ReserveEnd:    now.Add(time.Duration(in.DurationHours) * time.Hour),
		ReservedAt:    now,
		DurationHours: in.DurationHours,
		TotalAmount:   quote.FixedAmount,
		LotRateAmount: quote.LotAmount,
		PaymentStatus: model.PaymentUnpaid,
		Status:        model.ReservationActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	cs, err := s.store.CreateReservation(ctx, r)
	if err != nil {
		return model.Reservation{}, err
	}
	s.commit(ctx, cs, queue.Event{
		Type: queue.ReservationCreated, UserID: r.UserID, LotID: r.LotID, SpotCode: r.SpotCode,
		LicensePlate: r.LicensePlate, ReservationID: r.ID, Amount: r.TotalAmount,
	})
	return r, nil
}

// resolveSpot finds the spot by id, checking it belongs to lotID, or by
// code within lotID.
func (s *Service) resolveSpot(ctx context.Context, lotID, spotID, spotCode string) (model.ParkingSpot, error) {
	if spotID == "" {
		return s.store.FindSpotByCode(ctx, lotID, spotCode)
	}
	spot, err := s.store.GetSpot(ctx, spotID)
	if err != nil {
		return spot, err
	}
	if spot.LotID != lotID {
		return spot, fmt.Errorf("%w: spot %s is not in lot %s", repository.ErrValidation, spot.Code, lotID)
	}
	return spot, nil
}

// CancelReservation cancels an ACTIVE reservation and frees its spot.
// Drivers may cancel only their own reservations.
func (s *Service) CancelReservation(ctx context.Context, who identity.Session, id string) (model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if err := requireOwner(who, r.UserID); err != nil {
		return model.Reservation{}, err
	}
	cs, err := s.store.CancelReservation(ctx, id, s.clock())
	if err != nil {
		return model.Reservation{}, err
	}
	for _, cr := range cs.Reservations {
		if cr.ID == id {
			r = cr
		}
	}
	s.commit(ctx, cs, queue.Event{
		Type: queue.ReservationCancelled, ActorID: who.UserID, UserID: r.UserID, LotID: r.LotID,
		SpotCode: r.SpotCode, LicensePlate: r.LicensePlate, ReservationID: r.ID,
	})
	return r, nil
}

// GetReservation returns one reservation, enforcing ownership for drivers.
func (s *Service) GetReservation(ctx context.Context, who identity.Session, id string) (model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if err := requireOwner(who, r.UserID); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

// ListReservations returns the caller's ACTIVE and COMPLETED reservations,
// newest first.
func (s *Service) ListReservations(ctx context.Context, who identity.Session) ([]model.Reservation, error) {
	return s.store.ListReservations(ctx, who.UserID,
		[]model.ReservationStatus{model.ReservationActive, model.ReservationCompleted})
}

// CheckInCode returns the payload encoded in a reservation's QR code.
func (s *Service) CheckInCode(ctx context.Context, who identity.Session, id string) (string, error) {
	r, err := s.GetReservation(ctx, who, id)
	if err != nil {
		return "", err
	}
	if r.Status != model.ReservationActive {
		return "", fmt.Errorf("%w: reservation is %s", repository.ErrConflict, r.Status)
	}
	return CheckInPrefix + r.ID, nil
}

// ExpireReservations closes every ACTIVE reservation whose window has
// ended and releases its spot. It returns the number expired.
func (s *Service) ExpireReservations(ctx context.Context) (int, error) {
	cs, err := s.store.ExpireReservations(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	evs := make([]queue.Event, 0, len(cs.Reservations))
	for _, r := range cs.Reservations {
		evs = append(evs, queue.Event{
			Type: queue.ReservationExpired, UserID: r.UserID, LotID: r.LotID, SpotCode: r.SpotCode,
			LicensePlate: r.LicensePlate, ReservationID: r.ID,
		})
	}
	s.commit(ctx, cs, evs...)
	return len(cs.Reservations), nil
}
