// Package queue defines message payloads exchanged over the message broker.
package queue

// EventType names a domain event. The value doubles as the "event" field
// of the audit log line.
type EventType string

const (
	ReservationCreated   EventType = "reservation.created"
	ReservationCancelled EventType = "reservation.cancelled"
	ReservationExpired   EventType = "reservation.expired"
	SessionOpened        EventType = "session.opened"
	SessionCheckedOut    EventType = "session.checked_out"
	SessionCancelled     EventType = "session.cancelled"
	PaymentPartial       EventType = "payment.partial"
	PaymentConfirmed     EventType = "payment.confirmed"
	FeeOverridden        EventType = "fee.overridden"
)

// Event is published after a lifecycle transition commits. It carries
// enough for downstream consumers to log, notify or run analytics without
// querying the primary database.
type Event struct {
	Type          EventType `json:"type"`
	OccurredAt    string    `json:"occurred_at"`
	ActorID       string    `json:"actor_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	LotID         string    `json:"lot_id"`
	SpotCode      string    `json:"spot_code"`
	LicensePlate  string    `json:"license_plate,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	Status        string    `json:"status,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}
