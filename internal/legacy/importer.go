package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Export is a document dump keyed by collection name.
type Export map[string][]map[string]any

// ReadExport parses an export file.
func ReadExport(r io.Reader) (Export, error) {
	var e Export
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return nil, fmt.Errorf("legacy: read export: %w", err)
	}
	return e, nil
}

// Target receives decoded documents. repository.MySQLStore and
// repository.MemoryStore implement it.
type Target interface {
	CreateUser(ctx context.Context, u model.User) error
	CreateLot(ctx context.Context, lot model.ParkingLot) error
	CreateSpot(ctx context.Context, spot model.ParkingSpot) error
	ImportReservation(ctx context.Context, r model.Reservation) error
	ImportSession(ctx context.Context, s model.ParkingSession) error
	CreateVehicle(ctx context.Context, v model.Vehicle) error
}

// Report counts what an import did per collection.
type Report struct {
	Imported map[string]int
	Skipped  map[string]int
	Failed   map[string]int
}

func newReport() Report {
	return Report{Imported: map[string]int{}, Skipped: map[string]int{}, Failed: map[string]int{}}
}

// importOrder writes parents before the documents that refer to them.
var importOrder = []string{Users, Lots, Spots, Reservations, Sessions, Vehicles}

// Import decodes and writes every document of e. Documents that already
// exist are skipped, so an import can be rerun. Malformed documents are
// logged and counted; only a failing store aborts the run.
func Import(ctx context.Context, dst Target, e Export) (Report, error) {
	rep := newReport()
	for _, coll := range importOrder {
		for _, doc := range e[coll] {
			err := importOne(ctx, dst, coll, doc)
			switch {
			case err == nil:
				rep.Imported[coll]++
			case errors.Is(err, repository.ErrConflict):
				rep.Skipped[coll]++
			case errors.Is(err, repository.ErrTransient):
				return rep, err
			default:
				rep.Failed[coll]++
				log.Printf("legacy: %s: %v", coll, err)
			}
		}
	}
	return rep, nil
}

func importOne(ctx context.Context, dst Target, coll string, doc map[string]any) error {
	switch coll {
	case Users:
		u, err := User(doc)
		if err != nil {
			return err
		}
		return dst.CreateUser(ctx, u)
	case Lots:
		lot, err := Lot(doc)
		if err != nil {
			return err
		}
		return dst.CreateLot(ctx, lot)
	case Spots:
		s, err := Spot(doc)
		if err != nil {
			return err
		}
		return dst.CreateSpot(ctx, s)
	case Reservations:
		r, err := Reservation(doc)
		if err != nil {
			return err
		}
		return dst.ImportReservation(ctx, r)
	case Sessions:
		s, err := Session(doc)
		if err != nil {
			return err
		}
		return dst.ImportSession(ctx, s)
	case Vehicles:
		v, err := Vehicle(doc)
		if err != nil {
			return err
		}
		return dst.CreateVehicle(ctx, v)
	}
	return fmt.Errorf("legacy: unknown collection %q", coll)
}
