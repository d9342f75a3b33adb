package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// MySQLStore composes the table repositories into the persistence surface
// used by the service layer. Every transition that touches a spot together
// with a reservation or session runs in a single transaction: the rows are
// locked with SELECT ... FOR UPDATE and then written with a conditional
// UPDATE whose WHERE clause restates the precondition, so a lost race
// surfaces as ErrConflict rather than a double booking.
type MySQLStore struct {
	db           *sql.DB
	Lots         *LotRepo
	Spots        *SpotRepo
	Reservations *ReservationRepo
	Sessions     *SessionRepo
	Vehicles     *VehicleRepo
	Users        *UserRepo
	Tokens       *TokenRepo
}

// NewMySQLStore wires every repository to db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:           db,
		Lots:         NewLotRepo(db),
		Spots:        NewSpotRepo(db),
		Reservations: NewReservationRepo(db),
		Sessions:     NewSessionRepo(db),
		Vehicles:     NewVehicleRepo(db),
		Users:        NewUserRepo(db),
		Tokens:       NewTokenRepo(db),
	}
}

// inTx runs fn inside a transaction and commits when fn returns nil.
func (s *MySQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

// ---- lots ----

func (s *MySQLStore) CreateLot(ctx context.Context, lot model.ParkingLot) error {
	return s.Lots.Create(ctx, lot)
}

func (s *MySQLStore) GetLot(ctx context.Context, id string) (model.ParkingLot, error) {
	return s.Lots.GetByID(ctx, id)
}

func (s *MySQLStore) ListLots(ctx context.Context, activeOnly bool) ([]model.ParkingLot, error) {
	return s.Lots.List(ctx, activeOnly)
}

// ---- spots ----

func (s *MySQLStore) CreateSpot(ctx context.Context, spot model.ParkingSpot) error {
	if _, err := s.Lots.GetByID(ctx, spot.LotID); err != nil {
		return err
	}
	return s.Spots.Create(ctx, spot)
}

func (s *MySQLStore) UpdateSpot(ctx context.Context, spot model.ParkingSpot) (model.ParkingSpot, error) {
	if err := s.Spots.UpdateDescriptive(ctx, spot); err != nil {
		return model.ParkingSpot{}, err
	}
	return s.Spots.GetByID(ctx, spot.ID)
}

func (s *MySQLStore) DeleteSpot(ctx context.Context, id string) error {
	return s.Spots.Delete(ctx, id)
}

func (s *MySQLStore) GetSpot(ctx context.Context, id string) (model.ParkingSpot, error) {
	return s.Spots.GetByID(ctx, id)
}

func (s *MySQLStore) FindSpotByCode(ctx context.Context, lotID, code string) (model.ParkingSpot, error) {
	return s.Spots.GetByCode(ctx, lotID, code)
}

func (s *MySQLStore) ListSpots(ctx context.Context, lotID string, filter model.SpotFilter) ([]model.ParkingSpot, error) {
	return s.Spots.List(ctx, lotID, filter)
}

func (s *MySQLStore) SpotStats(ctx context.Context, lotID string) (model.SpotStats, error) {
	return s.Spots.Stats(ctx, lotID)
}

func (s *MySQLStore) SetSpotStatus(ctx context.Context, id string, status model.SpotStatus, now time.Time) (model.ParkingSpot, error) {
	var out model.ParkingSpot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.Spots.SetStatusTx(ctx, tx, id, status, now)
		return err
	})
	return out, err
}

// ResetSpots makes every spot of the lot AVAILABLE except those held by an
// ACTIVE reservation or session.
func (s *MySQLStore) ResetSpots(ctx context.Context, lotID string, now time.Time) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		held, err := heldSpotIDsTx(ctx, tx, lotID)
		if err != nil {
			return err
		}
		spots, err := s.Spots.ListForUpdateTx(ctx, tx, lotID)
		if err != nil {
			return err
		}
		for _, spot := range spots {
			if held[spot.ID] || spot.Status == model.SpotAvailable && spot.Consistent() {
				continue
			}
			spot.MarkAvailable(now)
			if _, err := s.Spots.WriteStateTx(ctx, tx, spot, "1 = 1"); err != nil {
				return err
			}
			cs.Spots = append(cs.Spots, spot)
		}
		return nil
	})
	return cs, err
}

func heldSpotIDsTx(ctx context.Context, tx *sql.Tx, lotID string) (map[string]bool, error) {
	const q = `SELECT spot_id FROM reservations WHERE lot_id = ? AND status = 'ACTIVE'
	           UNION
	           SELECT spot_id FROM parking_sessions WHERE lot_id = ? AND status = 'ACTIVE'`
	rows, err := tx.QueryContext(ctx, q, lotID, lotID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	held := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		held[id] = true
	}
	return held, classify(rows.Err())
}

// ---- reservations ----

// CreateReservation reserves the spot and inserts r in one transaction.
func (s *MySQLStore) CreateReservation(ctx context.Context, r model.Reservation) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		spot, err := s.Spots.GetForUpdateTx(ctx, tx, r.SpotID)
		if err != nil {
			return err
		}
		spot.MarkReserved(r.UserID, r.CreatedAt)
		ok, err := s.Spots.WriteStateTx(ctx, tx, spot, whereSpotFree)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: spot %s is not available", ErrConflict, spot.Code)
		}
		if err := s.Reservations.CreateTx(ctx, tx, r); err != nil {
			return err
		}
		cs.Spots = append(cs.Spots, spot)
		cs.Reservations = append(cs.Reservations, r)
		return nil
	})
	return cs, err
}

func (s *MySQLStore) CancelReservation(ctx context.Context, id string, now time.Time) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		cs, err = s.closeReservationTx(ctx, tx, id, model.ReservationCancelled, now)
		return err
	})
	return cs, err
}

// closeReservationTx moves an ACTIVE reservation to a closing status and
// frees its spot when the reservation still holds it.
func (s *MySQLStore) closeReservationTx(ctx context.Context, tx *sql.Tx, id string, status model.ReservationStatus, now time.Time) (model.Changeset, error) {
	var cs model.Changeset
	r, err := s.Reservations.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return cs, err
	}
	ok, err := s.Reservations.CloseTx(ctx, tx, id, status, "", now)
	if err != nil {
		return cs, err
	}
	if !ok {
		return cs, fmt.Errorf("%w: reservation is %s", ErrConflict, r.Status)
	}
	r.Status = status
	r.UpdatedAt = now
	cs.Reservations = append(cs.Reservations, r)

	spot, err := s.Spots.GetForUpdateTx(ctx, tx, r.SpotID)
	if err != nil {
		// the spot may have been deleted out from under a stale reservation
		if isNotFound(err) {
			return cs, nil
		}
		return cs, err
	}
	if !spot.ReservedBy(r.UserID) {
		return cs, nil
	}
	spot.MarkAvailable(now)
	if _, err := s.Spots.WriteStateTx(ctx, tx, spot, whereSpotHeldBy, r.UserID); err != nil {
		return cs, err
	}
	cs.Spots = append(cs.Spots, spot)
	return cs, nil
}

// ExpireReservations closes every ACTIVE reservation whose window has
// ended, all in one transaction.
func (s *MySQLStore) ExpireReservations(ctx context.Context, now time.Time) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		due, err := s.Reservations.DueForUpdateTx(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, r := range due {
			part, err := s.closeReservationTx(ctx, tx, r.ID, model.ReservationExpired, now)
			if err != nil {
				return err
			}
			cs.Merge(part)
		}
		return nil
	})
	return cs, err
}

func (s *MySQLStore) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	return s.Reservations.GetByID(ctx, id)
}

func (s *MySQLStore) ListReservations(ctx context.Context, userID string, statuses []model.ReservationStatus) ([]model.Reservation, error) {
	return s.Reservations.ListByUser(ctx, userID, statuses)
}

func (s *MySQLStore) FindActiveReservationByPlate(ctx context.Context, lotID, plate string) (model.Reservation, error) {
	return s.Reservations.ActiveByPlate(ctx, lotID, plate)
}

func (s *MySQLStore) ImportReservation(ctx context.Context, r model.Reservation) error {
	return s.Reservations.Import(ctx, r)
}

// ---- sessions ----

// OpenSession occupies the spot and inserts the session. A reserved entry
// consumes the reservation in the same transaction.
func (s *MySQLStore) OpenSession(ctx context.Context, sess model.ParkingSession) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		spot, err := s.Spots.GetForUpdateTx(ctx, tx, sess.SpotID)
		if err != nil {
			return err
		}
		where, whereArgs := whereSpotFree, []any(nil)
		if sess.ReservationID.Valid {
			r, err := s.Reservations.GetForUpdateTx(ctx, tx, sess.ReservationID.String)
			if err != nil {
				return err
			}
			if r.Status != model.ReservationActive {
				return fmt.Errorf("%w: reservation is %s", ErrConflict, r.Status)
			}
			if !spot.ReservedBy(r.UserID) {
				return fmt.Errorf("%w: spot %s is not held by the reservation", ErrConflict, spot.Code)
			}
			if _, err := s.Reservations.CloseTx(ctx, tx, r.ID, model.ReservationCompleted, sess.ID, sess.CreatedAt); err != nil {
				return err
			}
			r.Status = model.ReservationCompleted
			r.SessionID = null.StringFrom(sess.ID)
			r.UpdatedAt = sess.CreatedAt
			cs.Reservations = append(cs.Reservations, r)
			where, whereArgs = whereSpotHeldBy, []any{r.UserID}
		}
		spot.MarkOccupied(sess.ID, sess.LicensePlate, sess.CreatedAt)
		ok, err := s.Spots.WriteStateTx(ctx, tx, spot, where, whereArgs...)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: spot %s is not available", ErrConflict, spot.Code)
		}
		if err := s.Sessions.CreateTx(ctx, tx, sess); err != nil {
			return err
		}
		cs.Spots = append(cs.Spots, spot)
		cs.Sessions = append(cs.Sessions, sess)
		return nil
	})
	if err != nil {
		return model.Changeset{}, err
	}
	return cs, nil
}

// UpdateSession writes next when the stored version is still prevVersion.
// A transition into a terminal status releases the spot.
func (s *MySQLStore) UpdateSession(ctx context.Context, prevVersion int, next model.ParkingSession) (model.Changeset, error) {
	var cs model.Changeset
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.Sessions.GetForUpdateTx(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: session is %s", ErrConflict, cur.Status)
		}
		ok, err := s.Sessions.UpdateTx(ctx, tx, prevVersion, next)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session %s was modified concurrently", ErrConflict, next.ID)
		}
		next.Version = prevVersion + 1
		cs.Sessions = append(cs.Sessions, next)
		if !next.Status.Terminal() {
			return nil
		}
		spot, err := s.Spots.GetForUpdateTx(ctx, tx, next.SpotID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if !spot.OccupiedBy(next.ID) {
			return nil
		}
		spot.MarkAvailable(next.UpdatedAt)
		if _, err := s.Spots.WriteStateTx(ctx, tx, spot, whereSpotOccupied, next.ID); err != nil {
			return err
		}
		cs.Spots = append(cs.Spots, spot)
		return nil
	})
	if err != nil {
		return model.Changeset{}, err
	}
	return cs, nil
}

func (s *MySQLStore) GetSession(ctx context.Context, id string) (model.ParkingSession, error) {
	return s.Sessions.GetByID(ctx, id)
}

func (s *MySQLStore) ListSessions(ctx context.Context, q model.SessionQuery) ([]model.ParkingSession, error) {
	return s.Sessions.List(ctx, q)
}

func (s *MySQLStore) SumPaidSince(ctx context.Context, lotID string, since time.Time) (float64, error) {
	return s.Sessions.SumPaidSince(ctx, lotID, since)
}

func (s *MySQLStore) CountSessionsSince(ctx context.Context, lotID string, since time.Time) (int, error) {
	return s.Sessions.CountSince(ctx, lotID, since)
}

func (s *MySQLStore) ImportSession(ctx context.Context, sess model.ParkingSession) error {
	return s.Sessions.Import(ctx, sess)
}

// ---- vehicles ----

func (s *MySQLStore) CreateVehicle(ctx context.Context, v model.Vehicle) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if v.IsPrimary {
			if err := s.Vehicles.ClearPrimaryTx(ctx, tx, v.UserID, v.UpdatedAt); err != nil {
				return err
			}
		}
		return s.Vehicles.CreateTx(ctx, tx, v)
	})
}

func (s *MySQLStore) UpdateVehicle(ctx context.Context, v model.Vehicle) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if v.IsPrimary {
			if err := s.Vehicles.ClearPrimaryTx(ctx, tx, v.UserID, v.UpdatedAt); err != nil {
				return err
			}
		}
		return s.Vehicles.UpdateTx(ctx, tx, v)
	})
}

func (s *MySQLStore) DeleteVehicle(ctx context.Context, id string) error {
	return s.Vehicles.Delete(ctx, id)
}

func (s *MySQLStore) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	return s.Vehicles.GetByID(ctx, id)
}

func (s *MySQLStore) ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error) {
	return s.Vehicles.ListByUser(ctx, userID)
}

func (s *MySQLStore) SetPrimaryVehicle(ctx context.Context, userID, vehicleID string, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.Vehicles.ClearPrimaryTx(ctx, tx, userID, now); err != nil {
			return err
		}
		return s.Vehicles.MarkPrimaryTx(ctx, tx, userID, vehicleID, now)
	})
}

// ---- users & tokens ----

func (s *MySQLStore) CreateUser(ctx context.Context, u model.User) error { return s.Users.Create(ctx, u) }

func (s *MySQLStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.Users.GetByEmail(ctx, email)
}

func (s *MySQLStore) GetUserByID(ctx context.Context, id string) (model.User, error) {
	return s.Users.GetByID(ctx, id)
}

func (s *MySQLStore) UpdateUserName(ctx context.Context, id, name string, now time.Time) (model.User, error) {
	return s.Users.UpdateName(ctx, id, name, now)
}

func (s *MySQLStore) StoreRefresh(ctx context.Context, t model.RefreshToken) error {
	return s.Tokens.StoreRefresh(ctx, t)
}

func (s *MySQLStore) ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (model.RefreshToken, error) {
	return s.Tokens.ValidateRefresh(ctx, tokenHash, now)
}

func (s *MySQLStore) RevokeRefresh(ctx context.Context, tokenHash string, now time.Time) error {
	return s.Tokens.RevokeRefresh(ctx, tokenHash, now)
}

func (s *MySQLStore) RevokeSessionTokens(ctx context.Context, sessionID string, now time.Time) error {
	return s.Tokens.RevokeSessionTokens(ctx, sessionID, now)
}

func (s *MySQLStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	return s.Tokens.RevokeAllForUser(ctx, userID, now)
}
