package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedLot(t *testing.T, m *MemoryStore, spots int) model.ParkingLot {
	t.Helper()
	ctx := context.Background()
	lot := model.ParkingLot{ID: "lot1", Name: "Central", HourlyRate: 50, Status: model.LotActive, CreatedAt: t0, UpdatedAt: t0}
	if err := m.CreateLot(ctx, lot); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= spots; i++ {
		s := model.ParkingSpot{ID: fmt.Sprintf("spot%d", i), LotID: lot.ID, Code: fmt.Sprintf("A%d", i), Number: i, CreatedAt: t0}
		s.MarkAvailable(t0)
		if err := m.CreateSpot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	return lot
}

func newSession(id, spotID string) model.ParkingSession {
	return model.ParkingSession{
		ID: id, LotID: "lot1", SpotID: spotID, LicensePlate: "P-" + id, EnteredAt: t0,
		Status: model.SessionActive, PaymentStatus: model.PaymentPending, EntryMethod: model.EntryManual,
		HourlyRate: 50, CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestOpenSessionConcurrentSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.OpenSession(ctx, newSession(fmt.Sprintf("s%d", i), "spot1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != 19 {
		t.Fatalf("wins=%d conflicts=%d, want 1/19", wins, conflicts)
	}
	spot, _ := m.GetSpot(ctx, "spot1")
	if !spot.IsOccupied || !spot.Consistent() {
		t.Fatalf("spot not occupied after race: %+v", spot)
	}
}

func TestReservationLifecycle(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 2)
	ctx := context.Background()
	r := model.Reservation{ID: "r1", UserID: "u1", LotID: "lot1", SpotID: "spot1", LicensePlate: "XYZ",
		ReserveStart: t0, ReserveEnd: t0.Add(2 * time.Hour), Status: model.ReservationActive, CreatedAt: t0, UpdatedAt: t0}
	if _, err := m.CreateReservation(ctx, r); err != nil {
		t.Fatal(err)
	}
	r2 := r
	r2.ID, r2.UserID = "r2", "u2"
	if _, err := m.CreateReservation(ctx, r2); !errors.Is(err, ErrConflict) {
		t.Fatalf("second reservation err = %v, want conflict", err)
	}

	cs, err := m.CancelReservation(ctx, "r1", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Spots) != 1 || !cs.Spots[0].IsAvailable {
		t.Fatalf("cancel changeset = %+v", cs)
	}
	if _, err := m.CancelReservation(ctx, "r1", t0.Add(time.Minute)); !errors.Is(err, ErrConflict) {
		t.Fatalf("double cancel err = %v, want conflict", err)
	}
	lot, _ := m.GetLot(ctx, "lot1")
	if lot.TotalSpots != 2 || lot.AvailableSpots != 2 {
		t.Fatalf("lot counts = %d/%d", lot.AvailableSpots, lot.TotalSpots)
	}
}

func TestExpireReservations(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 1)
	ctx := context.Background()
	r := model.Reservation{ID: "r1", UserID: "u1", LotID: "lot1", SpotID: "spot1",
		ReserveStart: t0, ReserveEnd: t0.Add(time.Hour), Status: model.ReservationActive, CreatedAt: t0}
	if _, err := m.CreateReservation(ctx, r); err != nil {
		t.Fatal(err)
	}
	cs, err := m.ExpireReservations(ctx, t0.Add(30*time.Minute))
	if err != nil || !cs.Empty() {
		t.Fatalf("early sweep: cs=%+v err=%v", cs, err)
	}
	cs, err = m.ExpireReservations(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Reservations) != 1 || cs.Reservations[0].Status != model.ReservationExpired {
		t.Fatalf("sweep changeset = %+v", cs)
	}
}

func TestOpenSessionConsumesReservation(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 1)
	ctx := context.Background()
	r := model.Reservation{ID: "r1", UserID: "u1", LotID: "lot1", SpotID: "spot1",
		ReserveStart: t0, ReserveEnd: t0.Add(time.Hour), Status: model.ReservationActive, CreatedAt: t0}
	if _, err := m.CreateReservation(ctx, r); err != nil {
		t.Fatal(err)
	}
	s := newSession("s1", "spot1")
	s.ReservationID = null.StringFrom("r1")
	cs, err := m.OpenSession(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Reservations) != 1 || cs.Reservations[0].SessionID.String != "s1" {
		t.Fatalf("reservation not linked: %+v", cs.Reservations)
	}
	got, _ := m.GetReservation(ctx, "r1")
	if got.Status != model.ReservationCompleted {
		t.Fatalf("reservation status = %s", got.Status)
	}
}

func TestUpdateSessionVersionAndTerminal(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 1)
	ctx := context.Background()
	s := newSession("s1", "spot1")
	if _, err := m.OpenSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	stale := s
	s.Status = model.SessionCompleted
	s.UpdatedAt = t0.Add(time.Hour)
	cs, err := m.UpdateSession(ctx, 0, s)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Sessions[0].Version != 1 || len(cs.Spots) != 1 || !cs.Spots[0].IsAvailable {
		t.Fatalf("complete changeset = %+v", cs)
	}
	stale.Status = model.SessionCancelled
	if _, err := m.UpdateSession(ctx, 0, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("update of terminal session err = %v, want conflict", err)
	}
}

func TestSetSpotStatusAndReset(t *testing.T) {
	m := NewMemoryStore()
	seedLot(t, m, 3)
	ctx := context.Background()
	if _, err := m.OpenSession(ctx, newSession("s1", "spot1")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetSpotStatus(ctx, "spot1", model.SpotOutOfService, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("out of service on occupied spot err = %v", err)
	}
	if _, err := m.SetSpotStatus(ctx, "spot2", model.SpotOutOfService, t0); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSpot(ctx, "spot1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete occupied spot err = %v", err)
	}
	cs, err := m.ResetSpots(ctx, "lot1", t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Spots) != 1 || cs.Spots[0].ID != "spot2" {
		t.Fatalf("reset changeset = %+v", cs.Spots)
	}
	st, _ := m.SpotStats(ctx, "lot1")
	if st.Occupied != 1 || st.Available != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestVehiclesPrimaryExclusive(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for i, primary := range []bool{true, true, false} {
		v := model.Vehicle{ID: fmt.Sprintf("v%d", i), UserID: "u1", IsPrimary: primary, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		if err := m.CreateVehicle(ctx, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.SetPrimaryVehicle(ctx, "u1", "v2", t0); err != nil {
		t.Fatal(err)
	}
	list, _ := m.ListVehicles(ctx, "u1")
	primaries := 0
	for _, v := range list {
		if v.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 || list[0].ID != "v2" {
		t.Fatalf("vehicles = %+v", list)
	}
	if err := m.SetPrimaryVehicle(ctx, "u2", "v1", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign vehicle err = %v", err)
	}
}

func TestRefreshTokens(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	tok := model.RefreshToken{UserID: "u1", SessionID: "sid1", TokenHash: "h1", ExpiresAt: t0.Add(time.Hour)}
	if err := m.StoreRefresh(ctx, tok); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateRefresh(ctx, "h1", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateRefresh(ctx, "h1", t0.Add(2*time.Hour)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token err = %v", err)
	}
	if err := m.RevokeSessionTokens(ctx, "sid1", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateRefresh(ctx, "h1", t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked token err = %v", err)
	}
}
