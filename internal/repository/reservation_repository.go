package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// ReservationRepo provides CRUD operations for reservations. The spot flag
// changes that accompany a reservation are applied by MySQLStore in the
// same transaction, so most writes here have a Tx variant. All timestamp
// fields are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = "id, user_id, lot_id, spot_id, spot_code, spot_number, license_plate, " +
	"reserve_start, reserve_end, reserved_at, duration_hours, total_amount, lot_rate_amount, " +
	"payment_id, payment_status, status, session_id, created_at, updated_at"

func scanReservation(row rowScanner) (model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.LotID, &r.SpotID, &r.SpotCode, &r.SpotNumber, &r.LicensePlate,
		&r.ReserveStart, &r.ReserveEnd, &r.ReservedAt, &r.DurationHours, &r.TotalAmount, &r.LotRateAmount,
		&r.PaymentID, &r.PaymentStatus, &r.Status, &r.SessionID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertReservation(ctx context.Context, ex execer, r model.Reservation) error {
	const q = "INSERT INTO reservations (" + reservationColumns + ") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	_, err := ex.ExecContext(ctx, q, r.ID, r.UserID, r.LotID, r.SpotID, r.SpotCode, r.SpotNumber, r.LicensePlate,
		r.ReserveStart.UTC(), r.ReserveEnd.UTC(), r.ReservedAt.UTC(), r.DurationHours, r.TotalAmount, r.LotRateAmount,
		r.PaymentID, r.PaymentStatus, r.Status, r.SessionID, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: reservation %s already exists", ErrConflict, r.ID)
	}
	return classify(err)
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction. The caller must commit or rollback the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res model.Reservation) error {
	return insertReservation(ctx, tx, res)
}

// Import inserts a reservation as-is, outside any spot transition. It is
// used by the legacy migration.
func (r *ReservationRepo) Import(ctx context.Context, res model.Reservation) error {
	return insertReservation(ctx, r.db, res)
}

// GetByID returns a reservation by id.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return res, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	return res, classify(err)
}

// GetForUpdateTx reads and row-locks a reservation.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Reservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return res, fmt.Errorf("%w: reservation %s", ErrNotFound, id)
	}
	return res, classify(err)
}

// CloseTx moves an ACTIVE reservation to status, optionally linking the
// session that consumed it. It reports false when the reservation was no
// longer ACTIVE.
func (r *ReservationRepo) CloseTx(ctx context.Context, tx *sql.Tx, id string, status model.ReservationStatus, sessionID string, now time.Time) (bool, error) {
	q := "UPDATE reservations SET status = ?, updated_at = ?"
	args := []any{status, now.UTC()}
	if sessionID != "" {
		q += ", session_id = ?"
		args = append(args, sessionID)
	}
	q += " WHERE id = ? AND status = 'ACTIVE'"
	args = append(args, id)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DueForUpdateTx locks the ACTIVE reservations whose window ended at or
// before now.
func (r *ReservationRepo) DueForUpdateTx(ctx context.Context, tx *sql.Tx, now time.Time) ([]model.Reservation, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE status = 'ACTIVE' AND reserve_end <= ? ORDER BY reserve_end FOR UPDATE",
		now.UTC())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, classify(rows.Err())
}

// ListByUser returns a user's reservations newest first, optionally
// restricted to a set of statuses.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID string, statuses []model.ReservationStatus) ([]model.Reservation, error) {
	q := "SELECT " + reservationColumns + " FROM reservations WHERE user_id = ?"
	args := []any{userID}
	if len(statuses) > 0 {
		q += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	q += " ORDER BY created_at DESC"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, classify(rows.Err())
}

// ActiveByPlate finds the most recent ACTIVE reservation for a plate in a lot.
func (r *ReservationRepo) ActiveByPlate(ctx context.Context, lotID, plate string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE lot_id = ? AND license_plate = ? AND status = 'ACTIVE' ORDER BY reserve_start DESC LIMIT 1",
		lotID, plate))
	if errors.Is(err, sql.ErrNoRows) {
		return res, fmt.Errorf("%w: no active reservation for %s", ErrNotFound, plate)
	}
	return res, classify(err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
