// Package iot ingests camera gate events. Every event is queued, turned
// into a session transition through the service layer and answered with a
// barrier command the device polls for. Queues, commands and device logs
// live in MongoDB; MemoryStore stands in when no database is configured.
package iot

import "time"

// Queue names double as MongoDB collection names.
const (
	EntryQueue  = "iot_entry_queue"
	ExitQueue   = "iot_exit_queue"
	Commands    = "iot_commands"
	DeviceLogs  = "iot_logs"
	queueMaxAge = 24 * time.Hour
	logMaxAge   = 7 * 24 * time.Hour
)

// Action is what a gate device is told to do.
type Action string

const (
	OpenBarrier Action = "OPEN_BARRIER"
	DenyEntry   Action = "DENY_ENTRY"
	DenyExit    Action = "DENY_EXIT"
	WaitPayment Action = "WAIT_PAYMENT"
)

// Level is a device log severity.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// GateEvent is one plate read pushed by a device. It is stored in the
// entry or exit queue and updated once processed. Action is the last
// command issued for it; an exit answered with WAIT_PAYMENT becomes
// OPEN_BARRIER once the payment is confirmed.
type GateEvent struct {
	ID           string    `bson:"_id" json:"event_id"`
	DeviceID     string    `bson:"device_id" json:"device_id"`
	LotID        string    `bson:"lot_id" json:"lot_id"`
	LicensePlate string    `bson:"license_plate" json:"license_plate"`
	ImageURL     string    `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Confidence   float64   `bson:"confidence" json:"confidence"`
	Processed    bool      `bson:"processed" json:"processed"`
	Error        string    `bson:"error,omitempty" json:"error,omitempty"`
	SessionID    string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	SpotCode     string    `bson:"spot_code,omitempty" json:"spot_code,omitempty"`
	Amount       float64   `bson:"amount,omitempty" json:"amount,omitempty"`
	Action       Action    `bson:"action,omitempty" json:"action,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	ProcessedAt  time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Command is a barrier instruction waiting for its device.
type Command struct {
	ID         string    `bson:"_id" json:"command_id"`
	DeviceID   string    `bson:"device_id" json:"device_id"`
	Action     Action    `bson:"action" json:"action"`
	Reason     string    `bson:"reason" json:"reason"`
	SessionID  string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	SpotCode   string    `bson:"spot_code,omitempty" json:"spot_code,omitempty"`
	Amount     float64   `bson:"amount,omitempty" json:"amount,omitempty"`
	Executed   bool      `bson:"executed" json:"executed"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	ExecutedAt time.Time `bson:"executed_at,omitempty" json:"executed_at,omitempty"`
}

// LogEntry is one line of the device log.
type LogEntry struct {
	Level        Level     `bson:"level" json:"level"`
	Message      string    `bson:"message" json:"message"`
	DeviceID     string    `bson:"device_id" json:"device_id"`
	LicensePlate string    `bson:"license_plate,omitempty" json:"license_plate,omitempty"`
	SessionID    string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	At           time.Time `bson:"at" json:"at"`
}

// PruneResult counts the documents removed by one prune run.
type PruneResult struct {
	EntryQueue int64
	ExitQueue  int64
	Commands   int64
	Logs       int64
}
