// Package billing computes parking fees. Sessions are billed per started
// hour with a one-hour minimum; reservations are quoted up front for the
// requested number of hours.
package billing

import (
	"math"
	"time"
)

// FixedReservationRate is the flat hourly price applied to reservations,
// independent of the lot's configured hourly rate.
const FixedReservationRate = 50.0

// Fee is the result of billing a stay.
type Fee struct {
	DurationMinutes int     `json:"duration_minutes"`
	BillableHours   int     `json:"billable_hours"`
	Amount          float64 `json:"amount"`
}

// Compute bills the interval [enteredAt, exitedAt] at hourlyRate.
// durationMinutes = floor(elapsed / 1m); billableHours = ceil(minutes / 60)
// with a floor of one hour. A negative interval counts as zero minutes.
func Compute(enteredAt, exitedAt time.Time, hourlyRate float64) Fee {
	elapsed := exitedAt.Sub(enteredAt)
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(elapsed / time.Minute)
	hours := (minutes + 59) / 60
	if hours < 1 {
		hours = 1
	}
	return Fee{
		DurationMinutes: minutes,
		BillableHours:   hours,
		Amount:          RoundCents(float64(hours) * hourlyRate),
	}
}

// Quote prices a reservation of durationHours both ways: at the fixed
// reservation rate and at the lot's hourly rate.
type Quote struct {
	FixedAmount float64 `json:"total_amount"`
	LotAmount   float64 `json:"lot_rate_amount"`
}

// QuoteReservation returns both reservation prices for durationHours.
func QuoteReservation(durationHours int, lotHourlyRate float64) Quote {
	return Quote{
		FixedAmount: RoundCents(FixedReservationRate * float64(durationHours)),
		LotAmount:   RoundCents(lotHourlyRate * float64(durationHours)),
	}
}

// RoundCents rounds v to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
