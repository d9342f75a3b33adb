package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// SpotInput carries the descriptive fields of a spot. Occupancy flags are
// never accepted from callers.
type SpotInput struct {
	Code        string `json:"spot_code" validate:"required,max=32"`
	Number      int    `json:"spot_number" validate:"gte=0"`
	Row         string `json:"row" validate:"max=8"`
	Column      int    `json:"column" validate:"gte=0"`
	VehicleType string `json:"vehicle_type" validate:"max=16"`
}

// ListSpots returns the lot's spots in spot_number order. filter is one of
// ALL, AVAILABLE, OCCUPIED, RESERVED; empty means ALL.
func (s *Service) ListSpots(ctx context.Context, lotID, filter string) ([]model.ParkingSpot, error) {
	f, ok := model.ParseSpotFilter(filter)
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter %q", repository.ErrValidation, filter)
	}
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return s.store.ListSpots(ctx, lotID, f)
}

// GetSpot returns one spot.
func (s *Service) GetSpot(ctx context.Context, id string) (model.ParkingSpot, error) {
	return s.store.GetSpot(ctx, id)
}

// SetSpotState toggles a spot between AVAILABLE and OUT_OF_SERVICE. Spots
// held by a reservation or session change only through that document.
func (s *Service) SetSpotState(ctx context.Context, who identity.Session, spotID string, status model.SpotStatus) (model.ParkingSpot, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSpot{}, err
	}
	if status != model.SpotAvailable && status != model.SpotOutOfService {
		return model.ParkingSpot{}, fmt.Errorf("%w: status must be AVAILABLE or OUT_OF_SERVICE", repository.ErrValidation)
	}
	spot, err := s.store.SetSpotStatus(ctx, spotID, status, s.clock())
	if err != nil {
		return model.ParkingSpot{}, err
	}
	s.commit(ctx, model.Changeset{Spots: []model.ParkingSpot{spot}})
	return spot, nil
}

// CreateSpot adds an AVAILABLE spot to a lot.
func (s *Service) CreateSpot(ctx context.Context, who identity.Session, lotID string, in SpotInput) (model.ParkingSpot, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSpot{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	if err := s.check(in); err != nil {
		return model.ParkingSpot{}, err
	}
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return model.ParkingSpot{}, err
	}
	now := s.clock()
	spot := model.ParkingSpot{
		ID:          uuid.NewString(),
		LotID:       lotID,
		Code:        in.Code,
		Number:      in.Number,
		Row:         in.Row,
		Column:      in.Column,
		VehicleType: defaultString(in.VehicleType, "STANDARD"),
		CreatedAt:   now,
	}
	spot.MarkAvailable(now)
	if err := s.store.CreateSpot(ctx, spot); err != nil {
		return model.ParkingSpot{}, err
	}
	s.commit(ctx, model.Changeset{Spots: []model.ParkingSpot{spot}})
	return spot, nil
}

// UpdateSpot rewrites the descriptive fields of a spot.
func (s *Service) UpdateSpot(ctx context.Context, who identity.Session, spotID string, in SpotInput) (model.ParkingSpot, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingSpot{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	if err := s.check(in); err != nil {
		return model.ParkingSpot{}, err
	}
	cur, err := s.store.GetSpot(ctx, spotID)
	if err != nil {
		return model.ParkingSpot{}, err
	}
	cur.Code, cur.Number, cur.Row, cur.Column = in.Code, in.Number, in.Row, in.Column
	cur.VehicleType = defaultString(in.VehicleType, cur.VehicleType)
	cur.UpdatedAt = s.clock()
	spot, err := s.store.UpdateSpot(ctx, cur)
	if err != nil {
		return model.ParkingSpot{}, err
	}
	s.commit(ctx, model.Changeset{Spots: []model.ParkingSpot{spot}})
	return spot, nil
}

// DeleteSpot removes an idle spot.
func (s *Service) DeleteSpot(ctx context.Context, who identity.Session, spotID string) error {
	if err := requireStaff(who); err != nil {
		return err
	}
	if err := s.store.DeleteSpot(ctx, spotID); err != nil {
		return err
	}
	s.commit(ctx, model.Changeset{DeletedSpots: []string{spotID}})
	return nil
}

// ResetSpots returns every spot of a lot that is not held by an ACTIVE
// reservation or session to AVAILABLE, in one batch.
func (s *Service) ResetSpots(ctx context.Context, who identity.Session, lotID string) (int, error) {
	if err := requireStaff(who); err != nil {
		return 0, err
	}
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return 0, err
	}
	cs, err := s.store.ResetSpots(ctx, lotID, s.clock())
	if err != nil {
		return 0, err
	}
	s.commit(ctx, cs)
	return len(cs.Spots), nil
}

func defaultString(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
