package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// SpotStatus mirrors the three occupancy flags of a spot as one value.
type SpotStatus string

const (
	SpotAvailable    SpotStatus = "AVAILABLE"
	SpotOccupied     SpotStatus = "OCCUPIED"
	SpotReserved     SpotStatus = "RESERVED"
	SpotOutOfService SpotStatus = "OUT_OF_SERVICE"
)

// Valid reports whether s is one of the known spot statuses.
func (s SpotStatus) Valid() bool {
	switch s {
	case SpotAvailable, SpotOccupied, SpotReserved, SpotOutOfService:
		return true
	}
	return false
}

// ParkingSpot is an individually addressable space within a lot.
//
// Fields:
//  ID                  – stable document key.
//  LotID               – owning lot.
//  Code                – human code such as "A3"; unique within a lot.
//  Number              – numeric index used for ordering.
//  IsOccupied          – a session currently holds the spot.
//  IsReserved          – an active reservation holds the spot.
//  IsAvailable         – free to reserve or occupy.
//  OccupiedBySessionID – back-reference to the occupying session.
//  ReservedByUserID    – back-reference to the reserving user.
//  CurrentCarLabel     – plate of the car parked in the spot.
//  Status              – redundant status kept consistent with the flags.
//  Row, Column         – position in the lot layout.
//  VehicleType         – kind of vehicle the spot fits (STANDARD, COMPACT, ...).
//
// At most one of the three flags is true. All state changes go through the
// Mark* methods so the flags, the status and the back-references move
// together.
type ParkingSpot struct {
	ID                  string      `json:"spot_id"`
	LotID               string      `json:"lot_id"`
	Code                string      `json:"spot_code"`
	Number              int         `json:"spot_number"`
	IsOccupied          bool        `json:"is_occupied"`
	IsReserved          bool        `json:"is_reserved"`
	IsAvailable         bool        `json:"is_available"`
	OccupiedBySessionID null.String `json:"occupied_by_session_id"`
	ReservedByUserID    null.String `json:"reserved_by_user_id"`
	CurrentCarLabel     null.String `json:"current_car_label"`
	Status              SpotStatus  `json:"status"`
	Row                 string      `json:"row"`
	Column              int         `json:"column"`
	VehicleType         string      `json:"vehicle_type"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Consistent reports whether the flags, status and back-references agree.
func (s ParkingSpot) Consistent() bool {
	set := 0
	for _, f := range []bool{s.IsAvailable, s.IsOccupied, s.IsReserved} {
		if f {
			set++
		}
	}
	if set > 1 {
		return false
	}
	switch s.Status {
	case SpotAvailable:
		return s.IsAvailable && !s.OccupiedBySessionID.Valid && !s.ReservedByUserID.Valid
	case SpotReserved:
		return s.IsReserved && s.ReservedByUserID.Valid && !s.OccupiedBySessionID.Valid
	case SpotOccupied:
		return s.IsOccupied && s.OccupiedBySessionID.Valid && !s.ReservedByUserID.Valid
	case SpotOutOfService:
		return set == 0
	}
	return false
}

// MarkAvailable clears every hold on the spot.
func (s *ParkingSpot) MarkAvailable(now time.Time) {
	s.IsAvailable, s.IsOccupied, s.IsReserved = true, false, false
	s.OccupiedBySessionID = null.String{}
	s.ReservedByUserID = null.String{}
	s.CurrentCarLabel = null.String{}
	s.Status = SpotAvailable
	s.UpdatedAt = now
}

// MarkReserved holds the spot for userID.
func (s *ParkingSpot) MarkReserved(userID string, now time.Time) {
	s.IsAvailable, s.IsOccupied, s.IsReserved = false, false, true
	s.OccupiedBySessionID = null.String{}
	s.ReservedByUserID = null.StringFrom(userID)
	s.Status = SpotReserved
	s.UpdatedAt = now
}

// MarkOccupied binds the spot to an active session.
func (s *ParkingSpot) MarkOccupied(sessionID, plate string, now time.Time) {
	s.IsAvailable, s.IsOccupied, s.IsReserved = false, true, false
	s.OccupiedBySessionID = null.StringFrom(sessionID)
	s.ReservedByUserID = null.String{}
	s.CurrentCarLabel = null.NewString(plate, plate != "")
	s.Status = SpotOccupied
	s.UpdatedAt = now
}

// MarkOutOfService takes the spot out of rotation.
func (s *ParkingSpot) MarkOutOfService(now time.Time) {
	s.IsAvailable, s.IsOccupied, s.IsReserved = false, false, false
	s.OccupiedBySessionID = null.String{}
	s.ReservedByUserID = null.String{}
	s.CurrentCarLabel = null.String{}
	s.Status = SpotOutOfService
	s.UpdatedAt = now
}

// ReservedBy reports whether the spot is currently held by userID.
func (s ParkingSpot) ReservedBy(userID string) bool {
	return s.IsReserved && s.ReservedByUserID.Valid && s.ReservedByUserID.String == userID
}

// OccupiedBy reports whether the spot is bound to sessionID.
func (s ParkingSpot) OccupiedBy(sessionID string) bool {
	return s.IsOccupied && s.OccupiedBySessionID.Valid && s.OccupiedBySessionID.String == sessionID
}

// SpotFilter selects spots by flag when listing a lot.
type SpotFilter string

const (
	FilterAll       SpotFilter = "ALL"
	FilterAvailable SpotFilter = "AVAILABLE"
	FilterOccupied  SpotFilter = "OCCUPIED"
	FilterReserved  SpotFilter = "RESERVED"
)

// ParseSpotFilter accepts the filter names case-sensitively; an empty
// string means ALL.
func ParseSpotFilter(v string) (SpotFilter, bool) {
	switch SpotFilter(v) {
	case "", FilterAll:
		return FilterAll, true
	case FilterAvailable, FilterOccupied, FilterReserved:
		return SpotFilter(v), true
	}
	return "", false
}

// Match evaluates the filter against the spot's flags.
func (f SpotFilter) Match(s ParkingSpot) bool {
	switch f {
	case FilterAvailable:
		return s.IsAvailable
	case FilterOccupied:
		return s.IsOccupied
	case FilterReserved:
		return s.IsReserved
	}
	return true
}

// SpotStats counts the spots of a lot by status.
type SpotStats struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	Occupied     int `json:"occupied"`
	Reserved     int `json:"reserved"`
	OutOfService int `json:"out_of_service"`
}

// Add counts one spot.
func (st *SpotStats) Add(status SpotStatus) {
	st.Total++
	switch status {
	case SpotAvailable:
		st.Available++
	case SpotOccupied:
		st.Occupied++
	case SpotReserved:
		st.Reserved++
	case SpotOutOfService:
		st.OutOfService++
	}
}
