package model

import "time"

const (
	LotActive   = "ACTIVE"
	LotInactive = "INACTIVE"
)

// ParkingLot is a physical facility containing spots. TotalSpots and
// AvailableSpots are derived from parking_spots when the lot is read and
// are not authoritative on write.
type ParkingLot struct {
	ID             string    `json:"lot_id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	TotalSpots     int       `json:"total_spots"`
	AvailableSpots int       `json:"available_spots"`
	HourlyRate     float64   `json:"hourly_rate"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Active reports whether drivers can see the lot.
func (l ParkingLot) Active() bool { return l.Status == LotActive }
