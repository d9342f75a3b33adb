package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// ReservationStatus is the lifecycle state of a reservation. Only ACTIVE
// reservations hold a spot.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation records a user's time-bounded hold on a spot before a
// session begins.
//
// Fields:
//  ID            – document key.
//  UserID        – driver who made the reservation.
//  LotID         – lot containing the spot.
//  SpotID        – spot held; used for the atomic flag update.
//  SpotCode      – denormalized copy of the spot code at booking time.
//  SpotNumber    – denormalized copy of the spot number.
//  LicensePlate  – plate expected at the gate.
//  ReserveStart  – start of the window (booking time).
//  ReserveEnd    – end of the window; after it the reservation expires.
//  ReservedAt    – when the booking was made.
//  DurationHours – requested length of the window.
//  TotalAmount   – price at the fixed reservation rate.
//  LotRateAmount – price at the lot's configured hourly rate.
//  PaymentID     – external payment reference, if any.
//  PaymentStatus – UNPAID or PAID.
//  Status        – ACTIVE, EXPIRED, COMPLETED or CANCELLED.
//  SessionID     – session opened by checking in with this reservation.
type Reservation struct {
	ID            string            `json:"reservation_id"`
	UserID        string            `json:"user_id"`
	LotID         string            `json:"lot_id"`
	SpotID        string            `json:"spot_id"`
	SpotCode      string            `json:"spot_code"`
	SpotNumber    int               `json:"spot_number"`
	LicensePlate  string            `json:"license_plate"`
	ReserveStart  time.Time         `json:"reserve_start"`
	ReserveEnd    time.Time         `json:"reserve_end"`
	ReservedAt    time.Time         `json:"reserved_at"`
	DurationHours int               `json:"duration_hours"`
	TotalAmount   float64           `json:"total_amount"`
	LotRateAmount float64           `json:"lot_rate_amount"`
	PaymentID     null.String       `json:"payment_id"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	Status        ReservationStatus `json:"status"`
	SessionID     null.String       `json:"session_id"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
