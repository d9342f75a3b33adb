package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// VehicleInput is the editable part of a vehicle.
type VehicleInput struct {
	LicensePlate string `json:"license_plate" validate:"required,max=32"`
	Make         string `json:"make" validate:"max=64"`
	Model        string `json:"model" validate:"max=64"`
	Color        string `json:"color" validate:"max=32"`
	VehicleType  string `json:"vehicle_type" validate:"omitempty,oneof=SEDAN SUV VAN MOTORCYCLE TRUCK"`
	Year         int    `json:"year" validate:"omitempty,min=1900,max=2100"`
	IsPrimary    bool   `json:"is_primary"`
}

// ListVehicles returns the caller's vehicles, primary first.
func (s *Service) ListVehicles(ctx context.Context, who identity.Session) ([]model.Vehicle, error) {
	return s.store.ListVehicles(ctx, who.UserID)
}

// AddVehicle registers a vehicle for the caller. A user's first vehicle is
// always primary.
func (s *Service) AddVehicle(ctx context.Context, who identity.Session, in VehicleInput) (model.Vehicle, error) {
	in.LicensePlate = normalizePlate(in.LicensePlate)
	if err := s.check(in); err != nil {
		return model.Vehicle{}, err
	}
	existing, err := s.store.ListVehicles(ctx, who.UserID)
	if err != nil {
		return model.Vehicle{}, err
	}
	now := s.clock()
	v := model.Vehicle{
		ID:           uuid.NewString(),
		UserID:       who.UserID,
		LicensePlate: in.LicensePlate,
		Make:         in.Make,
		Model:        in.Model,
		Color:        in.Color,
		VehicleType:  defaultString(in.VehicleType, model.VehicleTypes[0]),
		Year:         in.Year,
		IsPrimary:    in.IsPrimary || len(existing) == 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateVehicle(ctx, v); err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

// UpdateVehicle rewrites one of the caller's vehicles. Clearing
// is_primary is ignored; pick another vehicle as primary instead.
func (s *Service) UpdateVehicle(ctx context.Context, who identity.Session, id string, in VehicleInput) (model.Vehicle, error) {
	in.LicensePlate = normalizePlate(in.LicensePlate)
	if err := s.check(in); err != nil {
		return model.Vehicle{}, err
	}
	v, err := s.ownVehicle(ctx, who, id)
	if err != nil {
		return model.Vehicle{}, err
	}
	v.LicensePlate, v.Make, v.Model, v.Color, v.Year = in.LicensePlate, in.Make, in.Model, in.Color, in.Year
	v.VehicleType = defaultString(in.VehicleType, v.VehicleType)
	v.IsPrimary = v.IsPrimary || in.IsPrimary
	v.UpdatedAt = s.clock()
	if err := s.store.UpdateVehicle(ctx, v); err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

// DeleteVehicle removes one of the caller's vehicles.
func (s *Service) DeleteVehicle(ctx context.Context, who identity.Session, id string) error {
	if _, err := s.ownVehicle(ctx, who, id); err != nil {
		return err
	}
	return s.store.DeleteVehicle(ctx, id)
}

// SetPrimaryVehicle makes id the caller's only primary vehicle.
func (s *Service) SetPrimaryVehicle(ctx context.Context, who identity.Session, id string) error {
	v, err := s.ownVehicle(ctx, who, id)
	if err != nil {
		return err
	}
	return s.store.SetPrimaryVehicle(ctx, v.UserID, id, s.clock())
}

func (s *Service) ownVehicle(ctx context.Context, who identity.Session, id string) (model.Vehicle, error) {
	v, err := s.store.GetVehicle(ctx, id)
	if err != nil {
		return model.Vehicle{}, err
	}
	if err := requireOwner(who, v.UserID); err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}
