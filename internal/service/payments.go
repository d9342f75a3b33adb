package service

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/billing"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// ConfirmPaymentInput records a payment taken by staff. An Amount of zero
// settles the outstanding balance.
type ConfirmPaymentInput struct {
	SpotID    string  `json:"spot_id"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Method    string  `json:"method" validate:"max=32"`
	PaymentID string  `json:"payment_id" validate:"max=64"`
}

// OverrideFeeInput replaces the computed fee.
type OverrideFeeInput struct {
	Amount float64 `json:"amount" validate:"gte=0"`
	Reason string  `json:"reason" validate:"required,max=512"`
}

// ConfirmPayment adds a payment to an ACTIVE session. Once the total is
// covered the session completes and its spot is freed in the same
// transaction; a short payment leaves it ACTIVE with PARTIAL status.
func (s *Service) ConfirmPayment(ctx context.Context, who identity.Session, sessionID string, in ConfirmPaymentInput) (model.ParkingSession, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSession{}, err
	}
	in.Method = strings.TrimSpace(in.Method)
	if err := s.check(in); err != nil {
		return model.ParkingSession{}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if sess.Status.Terminal() {
		return model.ParkingSession{}, fmt.Errorf("%w: session is %s", repository.ErrConflict, sess.Status)
	}
	if in.SpotID != "" && in.SpotID != sess.SpotID {
		return model.ParkingSession{}, fmt.Errorf("%w: spot does not match the session", repository.ErrValidation)
	}

	now := s.clock()
	next := sess
	if !next.ExitedAt.Valid {
		stampExit(&next, now)
	}
	amount := in.Amount
	if amount == 0 {
		amount = next.Outstanding()
	}
	next.AmountPaid = billing.RoundCents(next.AmountPaid + amount)
	if in.PaymentID != "" {
		next.PaymentID = null.StringFrom(in.PaymentID)
	}
	if in.Method != "" {
		next.PaymentMethod = null.StringFrom(in.Method)
	}
	next.UpdatedAt = now
	evType := queue.PaymentPartial
	if next.AmountPaid >= next.TotalAmount {
		next.Status = model.SessionCompleted
		next.PaymentStatus = model.PaymentPaid
		next.PaidAt = null.TimeFrom(now)
		next.ConfirmedBy = null.StringFrom(who.UserID)
		evType = queue.PaymentConfirmed
	} else {
		next.PaymentStatus = model.PaymentPartial
	}

	cs, err := s.store.UpdateSession(ctx, sess.Version, next)
	if err != nil {
		return model.ParkingSession{}, err
	}
	next.Version = sess.Version + 1
	s.commit(ctx, cs, queue.Event{
		Type: evType, ActorID: who.UserID, UserID: next.UserID, LotID: next.LotID, SpotCode: next.SpotCode,
		LicensePlate: next.LicensePlate, SessionID: next.ID, Amount: amount,
		Status: string(next.PaymentStatus), Detail: in.Method,
	})
	return next, nil
}

// OverrideFee sets the fee to an explicit amount, marks it paid and
// completes the session. It bypasses computed billing and is terminal.
func (s *Service) OverrideFee(ctx context.Context, who identity.Session, sessionID string, in OverrideFeeInput) (model.ParkingSession, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSession{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.check(in); err != nil {
		return model.ParkingSession{}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.ParkingSession{}, err
	}
	if sess.Status.Terminal() {
		return model.ParkingSession{}, fmt.Errorf("%w: session is %s", repository.ErrConflict, sess.Status)
	}

	now := s.clock()
	next := sess
	if !next.ExitedAt.Valid {
		stampExit(&next, now)
	}
	amount := billing.RoundCents(in.Amount)
	next.TotalAmount = amount
	next.AmountPaid = amount
	next.FeeOverride = true
	next.FeeOverrideReason = null.StringFrom(in.Reason)
	next.FeeOverrideAt = null.TimeFrom(now)
	next.Status = model.SessionCompleted
	next.PaymentStatus = model.PaymentPaid
	next.PaidAt = null.TimeFrom(now)
	next.ConfirmedBy = null.StringFrom(who.UserID)
	next.UpdatedAt = now

	cs, err := s.store.UpdateSession(ctx, sess.Version, next)
	if err != nil {
		return model.ParkingSession{}, err
	}
	next.Version = sess.Version + 1
	s.commit(ctx, cs, queue.Event{
		Type: queue.FeeOverridden, ActorID: who.UserID, UserID: next.UserID, LotID: next.LotID,
		SpotCode: next.SpotCode, LicensePlate: next.LicensePlate, SessionID: next.ID, Amount: amount,
		Detail: in.Reason,
	})
	return next, nil
}

// PendingExits lists ACTIVE sessions of a lot still awaiting payment,
// oldest entry first.
func (s *Service) PendingExits(ctx context.Context, who identity.Session, lotID string) ([]model.ParkingSession, error) {
	if err := requireStaff(who); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, model.SessionQuery{
		LotID:       lotID,
		Statuses:    []model.SessionStatus{model.SessionActive},
		Payment:     []model.PaymentStatus{model.PaymentPending, model.PaymentPendingConfirmation, model.PaymentPartial},
		OldestFirst: true,
	})
}
