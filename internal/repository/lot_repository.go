package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// LotRepo handles persistence for parking lots. Spot totals are never
// stored; every read derives them from parking_spots so they cannot drift.
type LotRepo struct {
	db *sql.DB
}

// NewLotRepo constructs a LotRepo given a DB handle.
func NewLotRepo(db *sql.DB) *LotRepo { return &LotRepo{db: db} }

const lotSelect = `SELECT l.id, l.name, l.address, l.latitude, l.longitude, l.hourly_rate, l.status,
       l.created_at, l.updated_at,
       COUNT(s.id), COALESCE(SUM(s.is_available), 0)
  FROM parking_lots l
  LEFT JOIN parking_spots s ON s.lot_id = l.id`

func scanLot(row rowScanner) (model.ParkingLot, error) {
	var l model.ParkingLot
	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.Latitude, &l.Longitude, &l.HourlyRate, &l.Status,
		&l.CreatedAt, &l.UpdatedAt, &l.TotalSpots, &l.AvailableSpots)
	return l, err
}

// Create inserts a new lot.
func (r *LotRepo) Create(ctx context.Context, l model.ParkingLot) error {
	const q = `INSERT INTO parking_lots (id, name, address, latitude, longitude, hourly_rate, status, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.Name, l.Address, l.Latitude, l.Longitude, l.HourlyRate, l.Status,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if isDuplicate(err) {
		return fmt.Errorf("%w: lot %s already exists", ErrConflict, l.ID)
	}
	return classify(err)
}

// GetByID fetches a lot with its derived spot counts.
func (r *LotRepo) GetByID(ctx context.Context, id string) (model.ParkingLot, error) {
	l, err := scanLot(r.db.QueryRowContext(ctx, lotSelect+" WHERE l.id = ? GROUP BY l.id", id))
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%w: lot %s", ErrNotFound, id)
	}
	return l, classify(err)
}

// List returns lots ordered by name.
func (r *LotRepo) List(ctx context.Context, activeOnly bool) ([]model.ParkingLot, error) {
	q := lotSelect
	var args []any
	if activeOnly {
		q += " WHERE l.status = ?"
		args = append(args, model.LotActive)
	}
	q += " GROUP BY l.id ORDER BY l.name"
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.ParkingLot, 0)
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}
