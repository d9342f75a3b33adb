package model

import "time"

// ActivityType distinguishes gate events in the activity log.
type ActivityType string

const (
	ActivityEntry ActivityType = "ENTRY"
	ActivityExit  ActivityType = "EXIT"
	ActivityAll   ActivityType = "ALL"
)

// ActivityLog is one entry or exit event derived from a parking session.
type ActivityLog struct {
	Type         ActivityType  `json:"type"`
	SessionID    string        `json:"session_id"`
	LotID        string        `json:"lot_id"`
	SpotCode     string        `json:"spot_code"`
	LicensePlate string        `json:"license_plate"`
	At           time.Time     `json:"at"`
	Amount       float64       `json:"amount,omitempty"`
	Status       SessionStatus `json:"status"`
}
