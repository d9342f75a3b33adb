package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/billing"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// StartSessionInput opens a session from the staff console. Without a
// spot id the first available spot of the lot is taken.
type StartSessionInput struct {
	LotID        string `json:"lot_id" validate:"required"`
	SpotID       string `json:"spot_id"`
	LicensePlate string `json:"license_plate" validate:"required,max=32"`
	VehicleType  string `json:"vehicle_type" validate:"max=16"`
	EntryMethod  string `json:"entry_method" validate:"omitempty,oneof=MANUAL CAMERA APP"`
	UserID       string `json:"user_id"`
}

// HistoryFilter narrows ListHistory. Status must be terminal when set.
type HistoryFilter struct {
	Status string
	From   time.Time
	To     time.Time
	Limit  int
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// paidExitGrace is how long after payment a settled session still
	// opens the exit barrier.
	paidExitGrace = 2 * time.Hour
)

// entry describes a session about to be opened.
type entry struct {
	lot         model.ParkingLot
	spot        model.ParkingSpot
	userID      string
	plate       string
	vehicleType string
	method      model.EntryMethod
	reservation string
}

// openSession is the single creation path for sessions. It writes the
// ACTIVE session with PENDING payment and the lot's hourly rate, and
// occupies the spot in the same transaction.
func (s *Service) openSession(ctx context.Context, e entry) (model.ParkingSession, model.Changeset, error) {
	now := s.clock()
	sess := model.ParkingSession{
		ID:            uuid.NewString(),
		UserID:        e.userID,
		LotID:         e.lot.ID,
		SpotID:        e.spot.ID,
		SpotCode:      e.spot.Code,
		LicensePlate:  e.plate,
		VehicleType:   e.vehicleType,
		EnteredAt:     now,
		HourlyRate:    e.lot.HourlyRate,
		PaymentStatus: model.PaymentPending,
		Status:        model.SessionActive,
		EntryMethod:   e.method,
		ReservationID: null.NewString(e.reservation, e.reservation != ""),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	cs, err := s.store.OpenSession(ctx, sess)
	if err != nil {
		return model.ParkingSession{}, model.Changeset{}, err
	}
	return sess, cs, nil
}

func (s *Service) publishOpened(ctx context.Context, sess model.ParkingSession, cs model.Changeset, actor string) {
	s.commit(ctx, cs, queue.Event{
		Type: queue.SessionOpened, ActorID: actor, UserID: sess.UserID, LotID: sess.LotID, SpotCode: sess.SpotCode,
		LicensePlate: sess.LicensePlate, SessionID: sess.ID, ReservationID: sess.ReservationID.String,
		Detail: string(sess.EntryMethod),
	})
}

// CheckIn turns the caller's ACTIVE reservation into a session on the
// reserved spot.
func (s *Service) CheckIn(ctx context.Context, who identity.Session, reservationID string) (model.ParkingSession, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if err := requireOwner(who, r.UserID); err != nil {
		return model.ParkingSession{}, err
	}
	return s.checkInReservation(ctx, r, model.EntryApp, who.UserID)
}

func (s *Service) checkInReservation(ctx context.Context, r model.Reservation, method model.EntryMethod, actor string) (model.ParkingSession, error) {
	if r.Status != model.ReservationActive {
		return model.ParkingSession{}, fmt.Errorf("%w: reservation is %s", repository.ErrConflict, r.Status)
	}
	if s.clock().After(r.ReserveEnd) {
		return model.ParkingSession{}, fmt.Errorf("%w: reservation window has ended", repository.ErrConflict)
	}
	lot, err := s.store.GetLot(ctx, r.LotID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	spot, err := s.store.GetSpot(ctx, r.SpotID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	sess, cs, err := s.openSession(ctx, entry{
		lot: lot, spot: spot, userID: r.UserID, plate: r.LicensePlate,
		method: method, reservation: r.ID,
	})
	if err != nil {
		return model.ParkingSession{}, err
	}
	s.publishOpened(ctx, sess, cs, actor)
	return sess, nil
}

// StartSession opens a session from the staff console on a given spot or,
// without one, on the first spot of the lot that can be taken.
func (s *Service) StartSession(ctx context.Context, who identity.Session, in StartSessionInput) (model.ParkingSession, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSession{}, err
	}
	in.LicensePlate = normalizePlate(in.LicensePlate)
	in.EntryMethod = strings.ToUpper(strings.TrimSpace(in.EntryMethod))
	if err := s.check(in); err != nil {
		return model.ParkingSession{}, err
	}
	lot, err := s.store.GetLot(ctx, in.LotID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	e := entry{
		lot: lot, userID: in.UserID, plate: in.LicensePlate, vehicleType: in.VehicleType,
		method: model.EntryMethod(defaultString(in.EntryMethod, string(model.EntryManual))),
	}
	if in.SpotID == "" {
		return s.walkIn(ctx, e, who.UserID)
	}
	e.spot, err = s.resolveSpot(ctx, lot.ID, in.SpotID, "")
	if err != nil {
		return model.ParkingSession{}, err
	}
	sess, cs, err := s.openSession(ctx, e)
	if err != nil {
		return model.ParkingSession{}, err
	}
	s.publishOpened(ctx, sess, cs, who.UserID)
	return sess, nil
}

// walkIn tries the lot's available spots in spot_number order until one
// compare-and-swap wins. Only Conflict moves on to the next spot.
func (s *Service) walkIn(ctx context.Context, e entry, actor string) (model.ParkingSession, error) {
	spots, err := s.store.ListSpots(ctx, e.lot.ID, model.FilterAvailable)
	if err != nil {
		return model.ParkingSession{}, err
	}
	for _, spot := range spots {
		e.spot = spot
		sess, cs, err := s.openSession(ctx, e)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return model.ParkingSession{}, err
		}
		s.publishOpened(ctx, sess, cs, actor)
		return sess, nil
	}
	return model.ParkingSession{}, fmt.Errorf("%w: no spots available", repository.ErrConflict)
}

// Checkout stamps the exit, computes the fee and moves the session to
// PENDING_CONFIRMATION. The session stays ACTIVE and the spot stays
// occupied until staff confirm payment.
func (s *Service) Checkout(ctx context.Context, who identity.Session, sessionID, exitMethod string) (model.ParkingSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if err := requireOwner(who, sess.UserID); err != nil {
		return model.ParkingSession{}, err
	}
	return s.checkout(ctx, sess, exitMethod, who.UserID)
}

func (s *Service) checkout(ctx context.Context, sess model.ParkingSession, exitMethod, actor string) (model.ParkingSession, error) {
	if sess.Status != model.SessionActive || sess.ExitedAt.Valid {
		return model.ParkingSession{}, fmt.Errorf("%w: session already checked out", repository.ErrConflict)
	}
	now := s.clock()
	next := sess
	stampExit(&next, now)
	next.PaymentStatus = model.PaymentPendingConfirmation
	next.ExitMethod = null.StringFrom(defaultString(strings.ToUpper(exitMethod), string(model.EntryApp)))
	next.UpdatedAt = now
	cs, err := s.store.UpdateSession(ctx, sess.Version, next)
	if err != nil {
		return model.ParkingSession{}, err
	}
	next.Version = sess.Version + 1
	s.commit(ctx, cs, queue.Event{
		Type: queue.SessionCheckedOut, ActorID: actor, UserID: next.UserID, LotID: next.LotID, SpotCode: next.SpotCode,
		LicensePlate: next.LicensePlate, SessionID: next.ID, Amount: next.TotalAmount,
		Status: string(next.PaymentStatus),
	})
	return next, nil
}

// stampExit sets exited_at to now and bills the stay.
func stampExit(sess *model.ParkingSession, now time.Time) {
	fee := billing.Compute(sess.EnteredAt, now, sess.HourlyRate)
	sess.ExitedAt = null.TimeFrom(now)
	sess.DurationMinutes = fee.DurationMinutes
	sess.TotalAmount = fee.Amount
}

// CancelSession voids an ACTIVE session and frees its spot. Staff only.
func (s *Service) CancelSession(ctx context.Context, who identity.Session, sessionID string) (model.ParkingSession, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSession{}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if sess.Status != model.SessionActive {
		return model.ParkingSession{}, fmt.Errorf("%w: session is %s", repository.ErrConflict, sess.Status)
	}
	now := s.clock()
	next := sess
	if !next.ExitedAt.Valid {
		next.ExitedAt = null.TimeFrom(now)
		next.DurationMinutes = billing.Compute(next.EnteredAt, now, 0).DurationMinutes
	}
	next.Status = model.SessionCancelled
	next.UpdatedAt = now
	cs, err := s.store.UpdateSession(ctx, sess.Version, next)
	if err != nil {
		return model.ParkingSession{}, err
	}
	next.Version = sess.Version + 1
	s.commit(ctx, cs, queue.Event{
		Type: queue.SessionCancelled, ActorID: who.UserID, UserID: next.UserID, LotID: next.LotID,
		SpotCode: next.SpotCode, LicensePlate: next.LicensePlate, SessionID: next.ID,
	})
	return next, nil
}

// GetSession returns one session, enforcing ownership for drivers.
func (s *Service) GetSession(ctx context.Context, who identity.Session, id string) (model.ParkingSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if err := requireOwner(who, sess.UserID); err != nil {
		return model.ParkingSession{}, err
	}
	return sess, nil
}

// Receipt returns a paid session and its lot for the payment receipt.
func (s *Service) Receipt(ctx context.Context, who identity.Session, id string) (model.ParkingSession, model.ParkingLot, error) {
	sess, err := s.GetSession(ctx, who, id)
	if err != nil {
		return model.ParkingSession{}, model.ParkingLot{}, err
	}
	if sess.PaymentStatus != model.PaymentPaid {
		return model.ParkingSession{}, model.ParkingLot{}, fmt.Errorf("%w: session is %s", repository.ErrConflict, sess.PaymentStatus)
	}
	lot, err := s.store.GetLot(ctx, sess.LotID)
	if err != nil {
		return model.ParkingSession{}, model.ParkingLot{}, err
	}
	return sess, lot, nil
}

// ListActiveSessions returns the caller's ACTIVE sessions.
func (s *Service) ListActiveSessions(ctx context.Context, who identity.Session) ([]model.ParkingSession, error) {
	return s.store.ListSessions(ctx, model.SessionQuery{
		UserID:   who.UserID,
		Statuses: []model.SessionStatus{model.SessionActive},
	})
}

// ListHistory returns the caller's finished sessions, newest first. ACTIVE
// sessions are never included.
func (s *Service) ListHistory(ctx context.Context, who identity.Session, f HistoryFilter) ([]model.ParkingSession, error) {
	q := model.SessionQuery{UserID: who.UserID, ExcludeActive: true, From: f.From, To: f.To}
	if f.Status != "" {
		st := model.SessionStatus(strings.ToUpper(f.Status))
		if !st.Terminal() {
			return nil, fmt.Errorf("%w: history status must be COMPLETED, PAID or CANCELLED", repository.ErrValidation)
		}
		q.Statuses = []model.SessionStatus{st}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, fmt.Errorf("%w: from must be before to", repository.ErrValidation)
	}
	switch {
	case f.Limit <= 0:
		q.Limit = defaultHistoryLimit
	case f.Limit > maxHistoryLimit:
		q.Limit = maxHistoryLimit
	default:
		q.Limit = f.Limit
	}
	return s.store.ListSessions(ctx, q)
}

// VehicleEntry handles a gate entry for plate: an ACTIVE reservation for
// the plate in the lot whose window has not ended is checked in;
// otherwise the car is parked on the first available spot.
func (s *Service) VehicleEntry(ctx context.Context, lotID, plate string, method model.EntryMethod) (model.ParkingSession, error) {
	plate = normalizePlate(plate)
	if plate == "" {
		return model.ParkingSession{}, fmt.Errorf("%w: license_plate required", repository.ErrValidation)
	}
	if !method.Valid() {
		method = model.EntryCamera
	}
	inside, err := s.store.ListSessions(ctx, model.SessionQuery{
		LotID: lotID, LicensePlate: plate, Statuses: []model.SessionStatus{model.SessionActive}, Limit: 1,
	})
	if err != nil {
		return model.ParkingSession{}, err
	}
	if len(inside) > 0 {
		return model.ParkingSession{}, fmt.Errorf("%w: %s is already parked", repository.ErrConflict, plate)
	}
	r, err := s.store.FindActiveReservationByPlate(ctx, lotID, plate)
	switch {
	case err == nil && !s.clock().After(r.ReserveEnd):
		return s.checkInReservation(ctx, r, method, "")
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return model.ParkingSession{}, err
	}
	// a reservation past its window that the expiry job has not swept yet
	// still holds its spot; the car parks elsewhere as a walk-in.
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	return s.walkIn(ctx, entry{lot: lot, plate: plate, method: method}, "")
}

// VehicleExit handles a gate exit for plate. The plate's ACTIVE session
// in the lot is checked out; one already checked out from the app is
// returned as is. Without an ACTIVE session, a session paid at the desk
// within paidExitGrace is returned so the barrier can open.
func (s *Service) VehicleExit(ctx context.Context, lotID, plate, method string) (model.ParkingSession, error) {
	plate = normalizePlate(plate)
	active, err := s.store.ListSessions(ctx, model.SessionQuery{
		LotID:        lotID,
		LicensePlate: plate,
		Statuses:     []model.SessionStatus{model.SessionActive},
		Limit:        1,
	})
	if err != nil {
		return model.ParkingSession{}, err
	}
	if len(active) > 0 {
		if active[0].ExitedAt.Valid {
			return active[0], nil
		}
		return s.checkout(ctx, active[0], defaultString(method, string(model.EntryCamera)), "")
	}
	paid, err := s.store.ListSessions(ctx, model.SessionQuery{
		LotID:        lotID,
		LicensePlate: plate,
		Statuses:     []model.SessionStatus{model.SessionCompleted, model.SessionPaid},
		Payment:      []model.PaymentStatus{model.PaymentPaid},
		Limit:        1,
	})
	if err != nil {
		return model.ParkingSession{}, err
	}
	if len(paid) > 0 && paid[0].PaidAt.Valid && s.clock().Sub(paid[0].PaidAt.Time) <= paidExitGrace {
		return paid[0], nil
	}
	return model.ParkingSession{}, fmt.Errorf("%w: no active session for %s", repository.ErrNotFound, plate)
}

// LookupSession reads a session without an ownership check. The gate
// processor uses it to re-check exits still waiting for payment.
func (s *Service) LookupSession(ctx context.Context, id string) (model.ParkingSession, error) {
	return s.store.GetSession(ctx, id)
}
