package iot_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/iot"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/service"
)

var (
	staff = identity.Session{ID: "sid-s", UserID: "u-staff", Role: model.RoleStaff}
	drv   = identity.Session{ID: "sid-d", UserID: "u-driver", Role: model.RoleDriver}
)

// newGate wires a real service over the memory store to a processor.
func newGate(t *testing.T) (*service.Service, *iot.Processor) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	store := repository.NewMemoryStore()
	if err := store.CreateLot(ctx, model.ParkingLot{ID: "lot1", Name: "Central", HourlyRate: 50, Status: model.LotActive, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		s := model.ParkingSpot{ID: fmt.Sprintf("spot%d", i), LotID: "lot1", Code: fmt.Sprintf("A%d", i), Number: i, CreatedAt: now}
		s.MarkAvailable(now)
		if err := store.CreateSpot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	svc := service.New(store, realtime.NewBroker(), identity.NewManager(identity.NewMemoryRegistry(), nil), nil, service.Options{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
		BcryptCost: 4,
	})
	return svc, iot.NewProcessor(iot.NewMemoryStore(), svc)
}

func TestExitOpensForSessionPaidAtDesk(t *testing.T) {
	svc, p := newGate(t)
	ctx := context.Background()
	read := iot.Reading{DeviceID: "gate-1", LotID: "lot1", LicensePlate: "desk 1"}

	in, err := p.Entry(ctx, read)
	if err != nil {
		t.Fatal(err)
	}
	if in.Action != iot.OpenBarrier {
		t.Fatalf("entry = %+v", in)
	}
	if _, err := svc.ConfirmPayment(ctx, staff, in.SessionID, service.ConfirmPaymentInput{Method: "CASH"}); err != nil {
		t.Fatal(err)
	}

	read.DeviceID = "gate-2"
	out, err := p.Exit(ctx, read)
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != iot.OpenBarrier || out.SessionID != in.SessionID {
		t.Fatalf("exit = %+v", out)
	}

	again, err := p.Exit(ctx, read)
	if err != nil {
		t.Fatal(err)
	}
	if again.Action != iot.DenyExit || again.Reason != "already exited" {
		t.Fatalf("second exit = %+v", again)
	}
}

func TestExitWaitsForAppCheckedOutSession(t *testing.T) {
	svc, p := newGate(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, staff, service.StartSessionInput{LotID: "lot1", LicensePlate: "APP 7", UserID: drv.UserID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Checkout(ctx, drv, sess.ID, "APP"); err != nil {
		t.Fatal(err)
	}

	cmd, err := p.Exit(ctx, iot.Reading{DeviceID: "gate-2", LotID: "lot1", LicensePlate: "app 7"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Action != iot.WaitPayment || cmd.SessionID != sess.ID {
		t.Fatalf("exit = %+v", cmd)
	}
	ev, err := p.Store().LastExitForSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Action != iot.WaitPayment || ev.Error != "" {
		t.Fatalf("exit event = %+v", ev)
	}
}
