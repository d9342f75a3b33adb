package legacy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// decode normalizes doc and unmarshals it into out through the model's
// JSON tags.
func decode(collection string, doc map[string]any, out any) (map[string]any, error) {
	norm, err := Normalize(collection, doc)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(norm)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("legacy: decode %s %v: %w", collection, norm[idKeys[collection]], err)
	}
	return norm, nil
}

// Lot decodes a parking lot. Old documents carry is_active instead of a
// status.
func Lot(doc map[string]any) (model.ParkingLot, error) {
	var lot model.ParkingLot
	norm, err := decode(Lots, doc, &lot)
	if err != nil {
		return lot, err
	}
	if lot.Status == "" {
		lot.Status = model.LotActive
		if active, ok := norm["is_active"].(bool); ok && !active {
			lot.Status = model.LotInactive
		}
	}
	if lot.HourlyRate == 0 {
		lot.HourlyRate = 50
	}
	stamp(&lot.CreatedAt, &lot.UpdatedAt)
	return lot, nil
}

// Spot decodes a spot. When the stored flags disagree with each other or
// with the status, the status is trusted and the flags are rebuilt.
func Spot(doc map[string]any) (model.ParkingSpot, error) {
	var s model.ParkingSpot
	if _, err := decode(Spots, doc, &s); err != nil {
		return s, err
	}
	if s.VehicleType == "" {
		s.VehicleType = "STANDARD"
	}
	stamp(&s.CreatedAt, &s.UpdatedAt)
	if s.Consistent() {
		return s, nil
	}
	status := s.Status
	if !status.Valid() {
		status = model.SpotAvailable
	}
	switch status {
	case model.SpotOccupied:
		if s.OccupiedBySessionID.Valid {
			s.MarkOccupied(s.OccupiedBySessionID.String, s.CurrentCarLabel.String, s.UpdatedAt)
			return s, nil
		}
	case model.SpotReserved:
		if s.ReservedByUserID.Valid {
			s.MarkReserved(s.ReservedByUserID.String, s.UpdatedAt)
			return s, nil
		}
	case model.SpotOutOfService:
		s.MarkOutOfService(s.UpdatedAt)
		return s, nil
	}
	s.MarkAvailable(s.UpdatedAt)
	return s, nil
}

// Reservation decodes a reservation. IN_USE was the old name for a
// reservation that has been checked in.
func Reservation(doc map[string]any) (model.Reservation, error) {
	var r model.Reservation
	if _, err := decode(Reservations, doc, &r); err != nil {
		return r, err
	}
	switch strings.ToUpper(string(r.Status)) {
	case "IN_USE", "CHECKED_IN":
		r.Status = model.ReservationCompleted
	case "":
		r.Status = model.ReservationActive
	default:
		r.Status = model.ReservationStatus(strings.ToUpper(string(r.Status)))
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = model.PaymentUnpaid
	}
	if r.ReservedAt.IsZero() {
		r.ReservedAt = r.ReserveStart
	}
	stamp(&r.CreatedAt, &r.UpdatedAt)
	return r, nil
}

// Session decodes a parking session. PENDING_PAYMENT was a session status
// in the old layout; here it is an ACTIVE session awaiting confirmation.
func Session(doc map[string]any) (model.ParkingSession, error) {
	var s model.ParkingSession
	if _, err := decode(Sessions, doc, &s); err != nil {
		return s, err
	}
	switch strings.ToUpper(string(s.Status)) {
	case "PENDING_PAYMENT":
		s.Status = model.SessionActive
		s.PaymentStatus = model.PaymentPendingConfirmation
	case "":
		s.Status = model.SessionActive
	default:
		s.Status = model.SessionStatus(strings.ToUpper(string(s.Status)))
	}
	if !s.Status.Valid() {
		return s, fmt.Errorf("legacy: session %s has unknown status %q", s.ID, s.Status)
	}
	if s.PaymentStatus == "" {
		s.PaymentStatus = model.PaymentPending
	}
	if !s.EntryMethod.Valid() {
		s.EntryMethod = model.EntryManual
		if strings.Contains(strings.ToUpper(doc2str(doc, "entryMethod", "entry_method")), "IOT") {
			s.EntryMethod = model.EntryCamera
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.EnteredAt
	}
	stamp(&s.CreatedAt, &s.UpdatedAt)
	return s, nil
}

// Vehicle decodes a vehicle.
func Vehicle(doc map[string]any) (model.Vehicle, error) {
	var v model.Vehicle
	if _, err := decode(Vehicles, doc, &v); err != nil {
		return v, err
	}
	v.LicensePlate = strings.ToUpper(strings.TrimSpace(v.LicensePlate))
	v.VehicleType = strings.ToUpper(v.VehicleType)
	if v.VehicleType == "" {
		v.VehicleType = model.VehicleTypes[0]
	}
	stamp(&v.CreatedAt, &v.UpdatedAt)
	return v, nil
}

// User decodes an account. Exported accounts carry no password hash and
// cannot log in until one is set.
func User(doc map[string]any) (model.User, error) {
	var u model.User
	if _, err := decode(Users, doc, &u); err != nil {
		return u, err
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Role = model.Role(strings.ToUpper(string(u.Role)))
	if u.Role != model.RoleStaff {
		u.Role = model.RoleDriver
	}
	stamp(&u.CreatedAt, &u.UpdatedAt)
	return u, nil
}

// stamp fills missing bookkeeping times so imported rows are never zero.
func stamp(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func doc2str(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok {
			return s
		}
	}
	return ""
}
