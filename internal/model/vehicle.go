package model

import "time"

var VehicleTypes = []string{"SEDAN", "SUV", "VAN", "MOTORCYCLE", "TRUCK"}

// Vehicle belongs to a driver. A user has at most one primary vehicle.
type Vehicle struct {
	ID           string    `json:"vehicle_id"`
	UserID       string    `json:"user_id"`
	LicensePlate string    `json:"license_plate"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Color        string    `json:"color"`
	VehicleType  string    `json:"vehicle_type"`
	Year         int       `json:"year"`
	IsPrimary    bool      `json:"is_primary"`
	IsVerified   bool      `json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
