package service

import (
	"context"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// LotStore persists parking lots.
type LotStore interface {
	CreateLot(ctx context.Context, lot model.ParkingLot) error
	GetLot(ctx context.Context, id string) (model.ParkingLot, error)
	ListLots(ctx context.Context, activeOnly bool) ([]model.ParkingLot, error)
}

// SpotStore persists spots. SetSpotStatus and ResetSpots are conditional
// writes; everything that reserves or occupies a spot lives on the
// reservation and session stores so the flag change and the document
// write commit together.
type SpotStore interface {
	CreateSpot(ctx context.Context, spot model.ParkingSpot) error
	UpdateSpot(ctx context.Context, spot model.ParkingSpot) (model.ParkingSpot, error)
	DeleteSpot(ctx context.Context, id string) error
	GetSpot(ctx context.Context, id string) (model.ParkingSpot, error)
	FindSpotByCode(ctx context.Context, lotID, code string) (model.ParkingSpot, error)
	// ListSpots returns spots ordered by lot and spot number. An empty
	// lotID lists every lot.
	ListSpots(ctx context.Context, lotID string, filter model.SpotFilter) ([]model.ParkingSpot, error)
	SpotStats(ctx context.Context, lotID string) (model.SpotStats, error)
	SetSpotStatus(ctx context.Context, id string, status model.SpotStatus, now time.Time) (model.ParkingSpot, error)
	ResetSpots(ctx context.Context, lotID string, now time.Time) (model.Changeset, error)
}

// ReservationStore persists reservations. CreateReservation,
// CancelReservation and ExpireReservations each update the reservation and
// its spot in one atomic transaction.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r model.Reservation) (model.Changeset, error)
	CancelReservation(ctx context.Context, id string, now time.Time) (model.Changeset, error)
	ExpireReservations(ctx context.Context, now time.Time) (model.Changeset, error)
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	// ListReservations returns a user's reservations newest first. An
	// empty status list means any status.
	ListReservations(ctx context.Context, userID string, statuses []model.ReservationStatus) ([]model.Reservation, error)
	FindActiveReservationByPlate(ctx context.Context, lotID, plate string) (model.Reservation, error)
	ImportReservation(ctx context.Context, r model.Reservation) error
}

// SessionStore persists parking sessions.
type SessionStore interface {
	// OpenSession inserts s and occupies its spot. When s.ReservationID is
	// set the reservation is completed and linked in the same transaction.
	OpenSession(ctx context.Context, s model.ParkingSession) (model.Changeset, error)
	// UpdateSession replaces the session if its version still equals
	// prevVersion. A transition into a terminal status frees the spot.
	UpdateSession(ctx context.Context, prevVersion int, next model.ParkingSession) (model.Changeset, error)
	GetSession(ctx context.Context, id string) (model.ParkingSession, error)
	ListSessions(ctx context.Context, q model.SessionQuery) ([]model.ParkingSession, error)
	SumPaidSince(ctx context.Context, lotID string, since time.Time) (float64, error)
	CountSessionsSince(ctx context.Context, lotID string, since time.Time) (int, error)
	ImportSession(ctx context.Context, s model.ParkingSession) error
}

// VehicleStore persists vehicles. Writes that set IsPrimary clear the flag
// on the user's other vehicles in the same transaction.
type VehicleStore interface {
	CreateVehicle(ctx context.Context, v model.Vehicle) error
	UpdateVehicle(ctx context.Context, v model.Vehicle) error
	DeleteVehicle(ctx context.Context, id string) error
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error)
	SetPrimaryVehicle(ctx context.Context, userID, vehicleID string, now time.Time) error
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)
	UpdateUserName(ctx context.Context, id, name string, now time.Time) (model.User, error)
}

// TokenStore persists hashed refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, t model.RefreshToken) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (model.RefreshToken, error)
	RevokeRefresh(ctx context.Context, tokenHash string, now time.Time) error
	RevokeSessionTokens(ctx context.Context, sessionID string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) error
}

// Store is everything the service layer needs from persistence. It is
// implemented by repository.MySQLStore and repository.MemoryStore.
type Store interface {
	LotStore
	SpotStore
	ReservationStore
	SessionStore
	VehicleStore
	UserStore
	TokenStore
}
