package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionPaid      SessionStatus = "PAID"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionPaid || s == SessionCancelled
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	return s == SessionActive || s.Terminal()
}

// PaymentStatus is shared by sessions and reservations. Reservations only
// ever use UNPAID and PAID.
type PaymentStatus string

const (
	PaymentUnpaid              PaymentStatus = "UNPAID"
	PaymentPartial             PaymentStatus = "PARTIAL"
	PaymentPending             PaymentStatus = "PENDING"
	PaymentPendingConfirmation PaymentStatus = "PENDING_CONFIRMATION"
	PaymentPaid                PaymentStatus = "PAID"
)

// EntryMethod records how a vehicle entered.
type EntryMethod string

const (
	EntryManual EntryMethod = "MANUAL"
	EntryCamera EntryMethod = "CAMERA"
	EntryApp    EntryMethod = "APP"
)

// Valid reports whether m is a known entry or exit method.
func (m EntryMethod) Valid() bool {
	return m == EntryManual || m == EntryCamera || m == EntryApp
}

// ParkingSession is the record of one vehicle's stay in one spot, from
// entry to exit and payment. Version is bumped on every write and guards
// updates against concurrent staff and driver actions.
type ParkingSession struct {
	ID                string        `json:"session_id"`
	UserID            string        `json:"user_id,omitempty"`
	LotID             string        `json:"lot_id"`
	SpotID            string        `json:"spot_id"`
	SpotCode          string        `json:"spot_code"`
	LicensePlate      string        `json:"license_plate"`
	VehicleType       string        `json:"vehicle_type,omitempty"`
	EnteredAt         time.Time     `json:"entered_at"`
	ExitedAt          null.Time     `json:"exited_at"`
	DurationMinutes   int           `json:"duration_minutes"`
	HourlyRate        float64       `json:"hourly_rate"`
	TotalAmount       float64       `json:"total_amount"`
	AmountPaid        float64       `json:"amount_paid"`
	PaymentID         null.String   `json:"payment_id"`
	PaymentMethod     null.String   `json:"payment_method"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	PaidAt            null.Time     `json:"paid_at"`
	ConfirmedBy       null.String   `json:"confirmed_by"`
	Status            SessionStatus `json:"status"`
	EntryMethod       EntryMethod   `json:"entry_method"`
	ExitMethod        null.String   `json:"exit_method"`
	ReservationID     null.String   `json:"reservation_id"`
	FeeOverride       bool          `json:"fee_override"`
	FeeOverrideReason null.String   `json:"fee_override_reason"`
	FeeOverrideAt     null.Time     `json:"fee_override_at"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Outstanding is the amount still owed on the session.
func (s ParkingSession) Outstanding() float64 {
	if d := s.TotalAmount - s.AmountPaid; d > 0 {
		return d
	}
	return 0
}

// SessionQuery filters session listings. Zero values mean "any".
type SessionQuery struct {
	UserID        string
	LotID         string
	LicensePlate  string
	Statuses      []SessionStatus
	Payment       []PaymentStatus
	ExcludeActive bool
	From          time.Time
	To            time.Time
	Limit         int
	OldestFirst   bool
}

// Match applies the query's predicates to a single session.
func (q SessionQuery) Match(s ParkingSession) bool {
	if q.UserID != "" && s.UserID != q.UserID {
		return false
	}
	if q.LotID != "" && s.LotID != q.LotID {
		return false
	}
	if q.LicensePlate != "" && s.LicensePlate != q.LicensePlate {
		return false
	}
	if q.ExcludeActive && s.Status == SessionActive {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, s.Status) {
		return false
	}
	if len(q.Payment) > 0 && !containsPayment(q.Payment, s.PaymentStatus) {
		return false
	}
	if !q.From.IsZero() && s.EnteredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !s.EnteredAt.Before(q.To) {
		return false
	}
	return true
}

func containsStatus(list []SessionStatus, v SessionStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsPayment(list []PaymentStatus, v PaymentStatus) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}
