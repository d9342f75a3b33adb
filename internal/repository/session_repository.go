package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// SessionRepo persists parking sessions. Updates are guarded by the
// version column: a write only lands when the stored version still equals
// the version the caller read.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = "id, user_id, lot_id, spot_id, spot_code, license_plate, vehicle_type, entered_at, exited_at, " +
	"duration_minutes, hourly_rate, total_amount, amount_paid, payment_id, payment_method, payment_status, paid_at, " +
	"confirmed_by, status, entry_method, exit_method, reservation_id, fee_override, fee_override_reason, " +
	"fee_override_at, version, created_at, updated_at"

func scanSession(row rowScanner) (model.ParkingSession, error) {
	var s model.ParkingSession
	err := row.Scan(&s.ID, &s.UserID, &s.LotID, &s.SpotID, &s.SpotCode, &s.LicensePlate, &s.VehicleType,
		&s.EnteredAt, &s.ExitedAt, &s.DurationMinutes, &s.HourlyRate, &s.TotalAmount, &s.AmountPaid,
		&s.PaymentID, &s.PaymentMethod, &s.PaymentStatus, &s.PaidAt, &s.ConfirmedBy, &s.Status,
		&s.EntryMethod, &s.ExitMethod, &s.ReservationID, &s.FeeOverride, &s.FeeOverrideReason,
		&s.FeeOverrideAt, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func insertSession(ctx context.Context, ex execer, s model.ParkingSession) error {
	const q = "INSERT INTO parking_sessions (" + sessionColumns + ") VALUES " +
		"(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	_, err := ex.ExecContext(ctx, q, s.ID, s.UserID, s.LotID, s.SpotID, s.SpotCode, s.LicensePlate, s.VehicleType,
		s.EnteredAt.UTC(), s.ExitedAt, s.DurationMinutes, s.HourlyRate, s.TotalAmount, s.AmountPaid,
		s.PaymentID, s.PaymentMethod, s.PaymentStatus, s.PaidAt, s.ConfirmedBy, s.Status,
		s.EntryMethod, s.ExitMethod, s.ReservationID, s.FeeOverride, s.FeeOverrideReason,
		s.FeeOverrideAt, s.Version, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.ID)
	}
	return classify(err)
}

// CreateTx inserts a session inside tx.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s model.ParkingSession) error {
	return insertSession(ctx, tx, s)
}

// Import inserts a session without touching its spot.
func (r *SessionRepo) Import(ctx context.Context, s model.ParkingSession) error {
	return insertSession(ctx, r.db, s)
}

// GetByID returns a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (model.ParkingSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM parking_sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, classify(err)
}

// GetForUpdateTx reads and row-locks a session.
func (r *SessionRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.ParkingSession, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM parking_sessions WHERE id = ? FOR UPDATE", id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, classify(err)
}

// UpdateTx overwrites the mutable columns of s when the stored row is
// still at prevVersion and not yet terminal. The stored version becomes
// prevVersion+1. It reports whether the row was written.
func (r *SessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, prevVersion int, s model.ParkingSession) (bool, error) {
	const q = `UPDATE parking_sessions
	           SET exited_at = ?, duration_minutes = ?, hourly_rate = ?, total_amount = ?, amount_paid = ?,
	               payment_id = ?, payment_method = ?, payment_status = ?, paid_at = ?, confirmed_by = ?,
	               status = ?, exit_method = ?, fee_override = ?, fee_override_reason = ?, fee_override_at = ?,
	               version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ? AND status = 'ACTIVE'`
	res, err := tx.ExecContext(ctx, q, s.ExitedAt, s.DurationMinutes, s.HourlyRate, s.TotalAmount, s.AmountPaid,
		s.PaymentID, s.PaymentMethod, s.PaymentStatus, s.PaidAt, s.ConfirmedBy,
		s.Status, s.ExitMethod, s.FeeOverride, s.FeeOverrideReason, s.FeeOverrideAt,
		s.UpdatedAt.UTC(), s.ID, prevVersion)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// List runs a SessionQuery. Filters map one to one onto WHERE clauses.
func (r *SessionRepo) List(ctx context.Context, sq model.SessionQuery) ([]model.ParkingSession, error) {
	q := "SELECT " + sessionColumns + " FROM parking_sessions WHERE 1 = 1"
	var args []any
	if sq.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, sq.UserID)
	}
	if sq.LotID != "" {
		q += " AND lot_id = ?"
		args = append(args, sq.LotID)
	}
	if sq.LicensePlate != "" {
		q += " AND license_plate = ?"
		args = append(args, sq.LicensePlate)
	}
	if sq.ExcludeActive {
		q += " AND status <> 'ACTIVE'"
	}
	if len(sq.Statuses) > 0 {
		q += " AND status IN (" + placeholders(len(sq.Statuses)) + ")"
		for _, s := range sq.Statuses {
			args = append(args, s)
		}
	}
	if len(sq.Payment) > 0 {
		q += " AND payment_status IN (" + placeholders(len(sq.Payment)) + ")"
		for _, p := range sq.Payment {
			args = append(args, p)
		}
	}
	if !sq.From.IsZero() {
		q += " AND entered_at >= ?"
		args = append(args, sq.From.UTC())
	}
	if !sq.To.IsZero() {
		q += " AND entered_at < ?"
		args = append(args, sq.To.UTC())
	}
	if sq.OldestFirst {
		q += " ORDER BY entered_at ASC"
	} else {
		q += " ORDER BY entered_at DESC"
	}
	if sq.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, sq.Limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.ParkingSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

// SumPaidSince totals total_amount of PAID sessions created at or after
// since. An empty lotID sums every lot.
func (r *SessionRepo) SumPaidSince(ctx context.Context, lotID string, since time.Time) (float64, error) {
	q := "SELECT COALESCE(SUM(total_amount), 0) FROM parking_sessions WHERE payment_status = 'PAID' AND created_at >= ?"
	args := []any{since.UTC()}
	if lotID != "" {
		q += " AND lot_id = ?"
		args = append(args, lotID)
	}
	var total float64
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&total)
	return total, classify(err)
}

// CountSince counts sessions created at or after since.
func (r *SessionRepo) CountSince(ctx context.Context, lotID string, since time.Time) (int, error) {
	q := "SELECT COUNT(*) FROM parking_sessions WHERE created_at >= ?"
	args := []any{since.UTC()}
	if lotID != "" {
		q += " AND lot_id = ?"
		args = append(args, lotID)
	}
	var n int
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, classify(err)
}
