package legacy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

func TestNormalizeAliases(t *testing.T) {
	doc := map[string]any{
		"_id":          "s1",
		"lotId":        "lot1",
		"licensePlate": "abc",
		"spotCode":     "A1",
		"spot_code":    "A2",
		"entryTime":    float64(1740819600000),
		"hourlyRate":   float64(40),
	}
	got, err := Normalize(Sessions, doc)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"session_id":    "s1",
		"lot_id":        "lot1",
		"license_plate": "abc",
		"spot_code":     "A2",
		"entered_at":    "2025-03-01T09:00:00Z",
		"hourly_rate":   float64(40),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["spotCode"]; ok {
		t.Error("alias key survived normalisation")
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Normalize("notifications", map[string]any{"_id": "x"}); err == nil {
		t.Error("unknown collection accepted")
	}
	if _, err := Normalize(Spots, map[string]any{"spotCode": "A1"}); err == nil {
		t.Error("document without id accepted")
	}
	if _, err := Normalize(Spots, map[string]any{"_id": "x", "updatedAt": true}); err == nil {
		t.Error("boolean timestamp accepted")
	}
}

func TestTimestampForms(t *testing.T) {
	want := "2025-03-01T09:00:00Z"
	for _, v := range []any{
		"2025-03-01T10:00:00+01:00",
		float64(1740819600000),
		map[string]any{"_seconds": float64(1740819600), "_nanoseconds": float64(0)},
	} {
		got, err := timestamp(v)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if got != want {
			t.Errorf("%v -> %v, want %s", v, got, want)
		}
	}
}

func TestSnake(t *testing.T) {
	cases := map[string]string{
		"licensePlate":        "license_plate",
		"occupiedBySessionId": "occupied_by_session_id",
		"spot_code":           "spot_code",
		"status":              "status",
	}
	for in, want := range cases {
		if got := snake(in); got != want {
			t.Errorf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpotFlagsRebuiltFromStatus(t *testing.T) {
	s, err := Spot(map[string]any{
		"_id":              "spot1",
		"lotId":            "lot1",
		"code":             "B7",
		"status":           "OCCUPIED",
		"isAvailable":      true,
		"isOccupied":       true,
		"currentSessionId": "sess9",
		"currentCarLabel":  "XYZ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Consistent() || !s.OccupiedBy("sess9") || s.IsAvailable || s.Code != "B7" {
		t.Fatalf("spot = %+v", s)
	}
}

func TestSessionStatusMapping(t *testing.T) {
	s, err := Session(map[string]any{
		"_id":         "s1",
		"status":      "PENDING_PAYMENT",
		"entryMethod": "IoT_LPR",
		"enteredAt":   "2025-03-01T09:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != model.SessionActive || s.PaymentStatus != model.PaymentPendingConfirmation || s.EntryMethod != model.EntryCamera {
		t.Fatalf("session = %+v", s)
	}
	if !s.CreatedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at = %v", s.CreatedAt)
	}
	if _, err := Session(map[string]any{"_id": "s2", "status": "PARKED"}); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestReservationInUseIsCompleted(t *testing.T) {
	r, err := Reservation(map[string]any{"id": "r1", "status": "IN_USE", "reservedFrom": "2025-03-01T09:00:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != model.ReservationCompleted || r.ReservedAt.IsZero() || r.PaymentStatus != model.PaymentUnpaid {
		t.Fatalf("reservation = %+v", r)
	}
}

func TestImportIsRerunnable(t *testing.T) {
	export, err := ReadExport(strings.NewReader(`{
		"parking_lots": [{"_id": "lot1", "name": "Main", "hourlyRate": 50, "isActive": true}],
		"parking_spots": [
			{"_id": "spot1", "lot_id": "lot1", "spot_code": "A1", "spotNumber": 1, "status": "AVAILABLE"},
			{"_id": "spot2", "lotId": "lot1", "spotCode": "A2", "spot_number": 2, "status": "OUT_OF_SERVICE"}
		],
		"users": [{"_id": "u1", "email": "Ann@Example.com", "role": "staff"}],
		"vehicles": [{"_id": "v1", "userId": "u1", "licensePlate": "ab 1", "isPrimary": true}],
		"parking_sessions": [{"_id": "bad", "status": "???"}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	store := repository.NewMemoryStore()
	ctx := context.Background()

	rep, err := Import(ctx, store, export)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Imported[Spots] != 2 || rep.Imported[Lots] != 1 || rep.Imported[Users] != 1 || rep.Failed[Sessions] != 1 {
		t.Fatalf("first run = %+v", rep)
	}
	u, err := store.GetUserByEmail(ctx, "ann@example.com")
	if err != nil || u.Role != model.RoleStaff {
		t.Fatalf("user = %+v, %v", u, err)
	}
	s, err := store.GetSpot(ctx, "spot2")
	if err != nil || s.Status != model.SpotOutOfService || !s.Consistent() {
		t.Fatalf("spot2 = %+v, %v", s, err)
	}

	rep, err = Import(ctx, store, export)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped[Spots] != 2 || rep.Skipped[Lots] != 1 || rep.Imported[Spots] != 0 {
		t.Fatalf("second run = %+v", rep)
	}
}
