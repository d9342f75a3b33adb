package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// LotInput is the body of a lot creation.
type LotInput struct {
	Name       string  `json:"name" validate:"required,max=255"`
	Address    string  `json:"address" validate:"max=512"`
	Latitude   float64 `json:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" validate:"longitude"`
	HourlyRate float64 `json:"hourly_rate" validate:"gte=0"`
}

// CreateLot registers a new ACTIVE lot. Staff only.
func (s *Service) CreateLot(ctx context.Context, who identity.Session, in LotInput) (model.ParkingLot, error) {
	if err := requireStaff(who); err != nil {
		return model.ParkingLot{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return model.ParkingLot{}, err
	}
	now := s.clock()
	lot := model.ParkingLot{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Address:    strings.TrimSpace(in.Address),
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		HourlyRate: in.HourlyRate,
		Status:     model.LotActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateLot(ctx, lot); err != nil {
		return model.ParkingLot{}, err
	}
	return lot, nil
}

// GetLot returns a lot with its live spot counts.
func (s *Service) GetLot(ctx context.Context, id string) (model.ParkingLot, error) {
	return s.store.GetLot(ctx, id)
}

// SearchLots returns active lots whose name or address contains query,
// case-insensitively. An empty query returns every active lot.
func (s *Service) SearchLots(ctx context.Context, query string) ([]model.ParkingLot, error) {
	lots, err := s.store.ListLots(ctx, true)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return lots, nil
	}
	out := make([]model.ParkingLot, 0, len(lots))
	for _, l := range lots {
		if strings.Contains(strings.ToLower(l.Name), q) || strings.Contains(strings.ToLower(l.Address), q) {
			out = append(out, l)
		}
	}
	return out, nil
}
