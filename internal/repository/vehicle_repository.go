package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// VehicleRepo persists driver vehicles.
type VehicleRepo struct {
	db *sql.DB
}

func NewVehicleRepo(db *sql.DB) *VehicleRepo { return &VehicleRepo{db: db} }

const vehicleColumns = "id, user_id, license_plate, make, model, color, vehicle_type, year, is_primary, is_verified, created_at, updated_at"

func scanVehicle(row rowScanner) (model.Vehicle, error) {
	var v model.Vehicle
	err := row.Scan(&v.ID, &v.UserID, &v.LicensePlate, &v.Make, &v.Model, &v.Color, &v.VehicleType, &v.Year,
		&v.IsPrimary, &v.IsVerified, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// CreateTx inserts a vehicle inside tx.
func (r *VehicleRepo) CreateTx(ctx context.Context, tx *sql.Tx, v model.Vehicle) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO vehicles ("+vehicleColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?)",
		v.ID, v.UserID, v.LicensePlate, v.Make, v.Model, v.Color, v.VehicleType, v.Year,
		v.IsPrimary, v.IsVerified, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: vehicle %s already exists", ErrConflict, v.ID)
	}
	return classify(err)
}

// UpdateTx overwrites a vehicle's editable columns.
func (r *VehicleRepo) UpdateTx(ctx context.Context, tx *sql.Tx, v model.Vehicle) error {
	const q = `UPDATE vehicles
	           SET license_plate = ?, make = ?, model = ?, color = ?, vehicle_type = ?, year = ?,
	               is_primary = ?, updated_at = ?
	           WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, v.LicensePlate, v.Make, v.Model, v.Color, v.VehicleType, v.Year,
		v.IsPrimary, v.UpdatedAt.UTC(), v.ID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, v.ID)
	}
	return nil
}

// ClearPrimaryTx unsets is_primary on every vehicle of the user.
func (r *VehicleRepo) ClearPrimaryTx(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE vehicles SET is_primary = 0, updated_at = ? WHERE user_id = ? AND is_primary = 1",
		now.UTC(), userID)
	return classify(err)
}

// MarkPrimaryTx sets is_primary on one of the user's vehicles.
func (r *VehicleRepo) MarkPrimaryTx(ctx context.Context, tx *sql.Tx, userID, vehicleID string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE vehicles SET is_primary = 1, updated_at = ? WHERE id = ? AND user_id = ?",
		now.UTC(), vehicleID, userID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, vehicleID)
	}
	return nil
}

// Delete removes a vehicle.
func (r *VehicleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM vehicles WHERE id = ?", id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: vehicle %s", ErrNotFound, id)
	}
	return nil
}

// GetByID returns a vehicle by id.
func (r *VehicleRepo) GetByID(ctx context.Context, id string) (model.Vehicle, error) {
	v, err := scanVehicle(r.db.QueryRowContext(ctx, "SELECT "+vehicleColumns+" FROM vehicles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("%w: vehicle %s", ErrNotFound, id)
	}
	return v, classify(err)
}

// ListByUser returns the primary vehicle first, then the rest oldest first.
func (r *VehicleRepo) ListByUser(ctx context.Context, userID string) ([]model.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+vehicleColumns+" FROM vehicles WHERE user_id = ? ORDER BY is_primary DESC, created_at ASC", userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, classify(rows.Err())
}
