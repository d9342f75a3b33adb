package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// spotColumns is the canonical select list for parking_spots. Keep it in
// sync with scanSpot.
const spotColumns = "id, lot_id, spot_code, spot_number, is_occupied, is_reserved, is_available, " +
	"occupied_by_session_id, reserved_by_user_id, current_car_label, status, `row`, `column`, " +
	"vehicle_type, created_at, updated_at"

// Precondition fragments used by the conditional spot updates. Each is the
// WHERE clause that must still hold at write time for the transition to
// apply.
const (
	whereSpotFree     = "is_available = 1 AND is_occupied = 0 AND is_reserved = 0"
	whereSpotIdle     = "status IN ('AVAILABLE', 'OUT_OF_SERVICE') AND is_occupied = 0 AND is_reserved = 0"
	whereSpotHeldBy   = "is_reserved = 1 AND reserved_by_user_id = ?"
	whereSpotOccupied = "is_occupied = 1 AND occupied_by_session_id = ?"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpot(row rowScanner) (model.ParkingSpot, error) {
	var s model.ParkingSpot
	err := row.Scan(&s.ID, &s.LotID, &s.Code, &s.Number, &s.IsOccupied, &s.IsReserved, &s.IsAvailable,
		&s.OccupiedBySessionID, &s.ReservedByUserID, &s.CurrentCarLabel, &s.Status, &s.Row, &s.Column,
		&s.VehicleType, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// SpotRepo encapsulates database operations for parking_spots. Methods
// ending in Tx run inside a caller-owned transaction; the caller commits
// or rolls back.
type SpotRepo struct {
	db *sql.DB
}

// NewSpotRepo constructs a SpotRepo given a DB handle.
func NewSpotRepo(db *sql.DB) *SpotRepo { return &SpotRepo{db: db} }

// Create inserts a spot. A duplicate (lot_id, spot_code) is a Conflict.
func (r *SpotRepo) Create(ctx context.Context, s model.ParkingSpot) error {
	const q = "INSERT INTO parking_spots (" + spotColumns + ") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	_, err := r.db.ExecContext(ctx, q, s.ID, s.LotID, s.Code, s.Number, s.IsOccupied, s.IsReserved, s.IsAvailable,
		s.OccupiedBySessionID, s.ReservedByUserID, s.CurrentCarLabel, s.Status, s.Row, s.Column,
		s.VehicleType, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: spot code %s already used in lot", ErrConflict, s.Code)
	}
	return classify(err)
}

// UpdateDescriptive changes the layout fields of a spot and never touches
// its flags.
func (r *SpotRepo) UpdateDescriptive(ctx context.Context, s model.ParkingSpot) error {
	const q = "UPDATE parking_spots SET spot_code = ?, spot_number = ?, `row` = ?, `column` = ?, vehicle_type = ?, updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, q, s.Code, s.Number, s.Row, s.Column, s.VehicleType, s.UpdatedAt.UTC(), s.ID)
	if isDuplicate(err) {
		return fmt.Errorf("%w: spot code %s already used in lot", ErrConflict, s.Code)
	}
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: spot %s", ErrNotFound, s.ID)
	}
	return nil
}

// Delete removes an idle spot. A spot that is reserved or occupied is a
// Conflict.
func (r *SpotRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM parking_spots WHERE id = ? AND "+whereSpotIdle, id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: spot %s is in use", ErrConflict, id)
}

// GetByID fetches a spot by id.
func (r *SpotRepo) GetByID(ctx context.Context, id string) (model.ParkingSpot, error) {
	s, err := scanSpot(r.db.QueryRowContext(ctx, "SELECT "+spotColumns+" FROM parking_spots WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: spot %s", ErrNotFound, id)
	}
	return s, classify(err)
}

// GetByCode fetches a spot by its code within a lot.
func (r *SpotRepo) GetByCode(ctx context.Context, lotID, code string) (model.ParkingSpot, error) {
	s, err := scanSpot(r.db.QueryRowContext(ctx,
		"SELECT "+spotColumns+" FROM parking_spots WHERE lot_id = ? AND spot_code = ?", lotID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: spot %s in lot %s", ErrNotFound, code, lotID)
	}
	return s, classify(err)
}

// List returns spots ordered by lot and spot number. An empty lotID lists
// every lot.
func (r *SpotRepo) List(ctx context.Context, lotID string, filter model.SpotFilter) ([]model.ParkingSpot, error) {
	q := "SELECT " + spotColumns + " FROM parking_spots WHERE 1 = 1"
	var args []any
	if lotID != "" {
		q += " AND lot_id = ?"
		args = append(args, lotID)
	}
	switch filter {
	case model.FilterAvailable:
		q += " AND is_available = 1"
	case model.FilterOccupied:
		q += " AND is_occupied = 1"
	case model.FilterReserved:
		q += " AND is_reserved = 1"
	}
	q += " ORDER BY lot_id, spot_number"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.ParkingSpot, 0)
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

// Stats counts spots by status.
func (r *SpotRepo) Stats(ctx context.Context, lotID string) (model.SpotStats, error) {
	q := "SELECT status, COUNT(*) FROM parking_spots"
	var args []any
	if lotID != "" {
		q += " WHERE lot_id = ?"
		args = append(args, lotID)
	}
	q += " GROUP BY status"
	var st model.SpotStats
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return st, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status model.SpotStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		for i := 0; i < n; i++ {
			st.Add(status)
		}
	}
	return st, classify(rows.Err())
}

// GetForUpdateTx reads and row-locks a spot inside tx.
func (r *SpotRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.ParkingSpot, error) {
	s, err := scanSpot(tx.QueryRowContext(ctx, "SELECT "+spotColumns+" FROM parking_spots WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: spot %s", ErrNotFound, id)
	}
	return s, classify(err)
}

// ListForUpdateTx row-locks every spot of a lot.
func (r *SpotRepo) ListForUpdateTx(ctx context.Context, tx *sql.Tx, lotID string) ([]model.ParkingSpot, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+spotColumns+" FROM parking_spots WHERE lot_id = ? ORDER BY spot_number FOR UPDATE", lotID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.ParkingSpot
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

// WriteStateTx stores the flag, status and back-reference columns of s,
// provided the row still satisfies where. It reports whether the
// precondition held. The where fragment may reference extra args.
func (r *SpotRepo) WriteStateTx(ctx context.Context, tx *sql.Tx, s model.ParkingSpot, where string, whereArgs ...any) (bool, error) {
	q := `UPDATE parking_spots
	      SET is_occupied = ?, is_reserved = ?, is_available = ?, occupied_by_session_id = ?,
	          reserved_by_user_id = ?, current_car_label = ?, status = ?, updated_at = ?
	      WHERE id = ? AND ` + where
	args := []any{s.IsOccupied, s.IsReserved, s.IsAvailable, s.OccupiedBySessionID,
		s.ReservedByUserID, s.CurrentCarLabel, s.Status, s.UpdatedAt.UTC(), s.ID}
	args = append(args, whereArgs...)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetStatusTx moves an idle spot to AVAILABLE or OUT_OF_SERVICE.
func (r *SpotRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.SpotStatus, now time.Time) (model.ParkingSpot, error) {
	s, err := r.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return s, err
	}
	switch status {
	case model.SpotAvailable:
		s.MarkAvailable(now)
	case model.SpotOutOfService:
		s.MarkOutOfService(now)
	default:
		return s, fmt.Errorf("%w: status %s cannot be set directly", ErrValidation, status)
	}
	ok, err := r.WriteStateTx(ctx, tx, s, whereSpotIdle)
	if err != nil {
		return s, err
	}
	if !ok {
		return s, fmt.Errorf("%w: spot %s is in use", ErrConflict, s.Code)
	}
	return s, nil
}
